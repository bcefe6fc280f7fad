package dto

import (
	"time"

	"crm-sync/domain/model"
)

// Res is the generic error envelope used by middleware.
type Res struct {
	ResponseCode    string `json:"responseCode"`
	ResponseMessage string `json:"responseMessage"`
}

// SyncSummary is the outcome of one sync run across all entity types.
type SyncSummary struct {
	IntegrationID    string          `json:"integration_id"`
	Operation        string          `json:"operation"`
	Status           string          `json:"status"`
	RecordsProcessed int             `json:"records_processed"`
	RecordsUpdated   int             `json:"records_updated"`
	RecordsFailed    int             `json:"records_failed"`
	Entities         []EntitySummary `json:"entities"`
	Error            string          `json:"error,omitempty"`
	StartedAt        time.Time       `json:"started_at"`
	CompletedAt      time.Time       `json:"completed_at"`
}

type EntitySummary struct {
	EntityType string `json:"entity_type"`
	SyncLogID  string `json:"sync_log_id"`
	Processed  int    `json:"processed"`
	Updated    int    `json:"updated"`
	Failed     int    `json:"failed"`
	Error      string `json:"error,omitempty"`
}

// PushResult is the completion contract of an outbound push.
type PushResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// WebhookAck is always returned with 200 once the signature is verified.
type WebhookAck struct {
	Received  bool   `json:"received"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RecipientUpdateRequest carries a partial local edit. Nil fields are left
// unchanged.
type RecipientUpdateRequest struct {
	Email      *string   `json:"email"`
	FirstName  *string   `json:"firstName"`
	LastName   *string   `json:"lastName"`
	Phone      *string   `json:"phone"`
	Company    *string   `json:"company"`
	JobTitle   *string   `json:"jobTitle"`
	LeadStatus *string   `json:"status"`
	Notes      *string   `json:"notes"`
	Tags       *[]string `json:"tags"`
	DoNotSend  *bool     `json:"doNotSend"`
}

type RecipientUpdateResponse struct {
	Recipient    *model.Recipient `json:"recipient"`
	PushedFields []string         `json:"pushed_fields"`
	PushQueued   bool             `json:"push_queued"`
}

// IntegrationStatus is what the integrations page renders.
type IntegrationStatus struct {
	Connected   bool               `json:"connected"`
	Integration *model.Integration `json:"integration,omitempty"`
	RecentLogs  []model.SyncLog    `json:"recent_logs"`
	Providers   []model.Provider   `json:"providers"`
	DemoMode    bool               `json:"demo_mode"`
}

type TriggerSyncRequest struct {
	Full bool `json:"full"`
}
