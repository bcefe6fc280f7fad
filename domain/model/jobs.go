package model

import (
	"context"
	"time"
)

// PushJob is a queued outbound update of one CRM record with local edits.
// SyncVersion is the recipient version the job was queued for.
type PushJob struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organization_id"`
	RecipientID    string            `json:"recipient_id"`
	Provider       Provider          `json:"provider"`
	EntityType     EntityType        `json:"entity_type"`
	ExternalID     string            `json:"external_id"`
	Fields         map[string]string `json:"fields"`
	SyncVersion    int64             `json:"sync_version"`
	EnqueuedAt     time.Time         `json:"enqueued_at"`
}

// WebhookArchiveEntry is a verified raw webhook body kept for replay.
type WebhookArchiveEntry struct {
	RequestID     string    `json:"request_id" bson:"request_id"`
	Provider      Provider  `json:"provider" bson:"provider"`
	IntegrationID string    `json:"integration_id" bson:"integration_id"`
	ReceivedAt    time.Time `json:"received_at" bson:"received_at"`
	Body          string    `json:"body" bson:"body"`
	EventCount    int       `json:"event_count" bson:"event_count"`
}

// PushHandler processes one dequeued push job.
type PushHandler func(ctx context.Context, job *PushJob) error
