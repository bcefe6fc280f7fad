package model

import "time"

type RecipientSyncStatus string

const (
	RecipientSynced  RecipientSyncStatus = "SYNCED"
	RecipientPending RecipientSyncStatus = "PENDING"
	RecipientError   RecipientSyncStatus = "ERROR"
)

// Recipient is the local canonical contact. Every CRM entity kind (lead,
// contact, company, deal) lands in this one table. A nil ExternalID means the
// row was created locally and is not CRM-managed. SyncVersion grows with
// every queued push; a push only settles the status it was queued for.
type Recipient struct {
	ID                 string               `json:"id"`
	OrganizationID     string               `json:"organization_id"`
	Email              *string              `json:"email,omitempty"`
	FirstName          *string              `json:"first_name,omitempty"`
	LastName           *string              `json:"last_name,omitempty"`
	Company            *string              `json:"company,omitempty"`
	JobTitle           *string              `json:"job_title,omitempty"`
	Phone              *string              `json:"phone,omitempty"`
	LeadStatus         *string              `json:"lead_status,omitempty"`
	Notes              *string              `json:"notes,omitempty"`
	Tags               []string             `json:"tags"`
	DoNotSend          bool                 `json:"do_not_send"`
	ExternalID         *string              `json:"external_id,omitempty"`
	ExternalSource     *string              `json:"external_source,omitempty"`
	ExternalURL        *string              `json:"external_url,omitempty"`
	ExternalEntityType *string              `json:"external_entity_type,omitempty"`
	SyncStatus         *RecipientSyncStatus `json:"sync_status,omitempty"`
	LastSyncedAt       *time.Time           `json:"last_synced_at,omitempty"`
	SyncVersion        int64                `json:"sync_version"`
	PendingSince       *time.Time           `json:"pending_since,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

// CRMManaged reports whether the recipient is linked to a CRM record.
func (r *Recipient) CRMManaged() bool {
	return r != nil && r.ExternalID != nil && *r.ExternalID != ""
}

// MappedRecipient is the provider-independent result of mapping one CRM
// record. Nil fields were absent from the provider record and are left
// untouched on update.
type MappedRecipient struct {
	ExternalID     string     `json:"external_id"`
	ExternalSource Provider   `json:"external_source"`
	ExternalURL    string     `json:"external_url"`
	EntityType     EntityType `json:"entity_type"`
	Email          *string    `json:"email,omitempty"`
	FirstName      *string    `json:"first_name,omitempty"`
	LastName       *string    `json:"last_name,omitempty"`
	Company        *string    `json:"company,omitempty"`
	JobTitle       *string    `json:"job_title,omitempty"`
	Phone          *string    `json:"phone,omitempty"`
	LeadStatus     *string    `json:"lead_status,omitempty"`
}

type UpsertOutcome int

const (
	UpsertUnchanged UpsertOutcome = iota
	UpsertCreated
	UpsertUpdated
	// UpsertSkippedPending means a local edit is waiting to be pushed and the
	// inbound data was not applied.
	UpsertSkippedPending
)

// Changed reports whether the outcome wrote data.
func (o UpsertOutcome) Changed() bool {
	return o == UpsertCreated || o == UpsertUpdated
}

func (o UpsertOutcome) String() string {
	switch o {
	case UpsertCreated:
		return "created"
	case UpsertUpdated:
		return "updated"
	case UpsertSkippedPending:
		return "skipped_pending"
	default:
		return "unchanged"
	}
}
