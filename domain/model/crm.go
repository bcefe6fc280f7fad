package model

import "time"

// EntityType is the kind of CRM object a record belongs to.
type EntityType string

const (
	EntityLead    EntityType = "lead"
	EntityContact EntityType = "contact"
	EntityCompany EntityType = "company"
	EntityDeal    EntityType = "deal"
)

// AllEntityTypes lists entity kinds in sync order.
var AllEntityTypes = []EntityType{EntityLead, EntityContact, EntityCompany, EntityDeal}

func ParseEntityType(s string) (EntityType, bool) {
	for _, e := range AllEntityTypes {
		if string(e) == s {
			return e, true
		}
	}
	return "", false
}

// ProviderRecord is one CRM record in the provider's native shape.
type ProviderRecord struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
	UpdatedAt  *time.Time     `json:"updated_at,omitempty"`
}

type WebhookAction string

const (
	WebhookCreate WebhookAction = "create"
	WebhookUpdate WebhookAction = "update"
	WebhookDelete WebhookAction = "delete"
)

// WebhookEvent is a provider push notification normalized to one record.
// Data is set when the provider delivered the full record inline. ObjectRef
// names the provider object when the body alone did not say which entity
// type it is; EntityType is then empty.
type WebhookEvent struct {
	EntityType EntityType      `json:"entity_type"`
	Action     WebhookAction   `json:"action"`
	ExternalID string          `json:"external_id"`
	ObjectRef  string          `json:"object_ref,omitempty"`
	Data       *ProviderRecord `json:"data,omitempty"`
}

// TokenSet is the result of an authorization code exchange or refresh.
type TokenSet struct {
	AccessToken       string
	RefreshToken      string
	ExpiresAt         *time.Time
	InstanceURL       *string
	ProviderAccountID *string
}

// ListOptions pages through a provider collection.
type ListOptions struct {
	Cursor        string
	Limit         int
	ModifiedSince *time.Time
}

type RecordPage struct {
	Records    []ProviderRecord
	NextCursor string
}

// AuthSession is the authenticated caller as resolved by the session layer.
type AuthSession struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
}

// OAuthState is the payload carried by a verified state token.
type OAuthState struct {
	OrganizationID string
	Provider       Provider
	Nonce          string
	IssuedAt       time.Time
}
