package repository

import (
	"context"
	"time"

	"crm-sync/domain/model"
)

// IRecipient is the local recipient store. All CRM writes go through
// UpsertExternal keyed by (organization, external id, external source).
type IRecipient interface {
	UpsertExternal(ctx context.Context, organizationID string, mapped *model.MappedRecipient, syncedAt time.Time) (model.UpsertOutcome, error)
	GetByID(ctx context.Context, organizationID, id string) (*model.Recipient, error)
	GetByExternal(ctx context.Context, organizationID, externalID string, source model.Provider) (*model.Recipient, error)
	// UpdateLocal saves local edits. queuePush marks the recipient PENDING
	// under a new SyncVersion.
	UpdateLocal(ctx context.Context, recipient *model.Recipient, queuePush bool) error
	// ClearExternalLink detaches the recipient from its CRM record without
	// deleting it. It returns the number of rows touched.
	ClearExternalLink(ctx context.Context, organizationID, externalID string, source model.Provider) (int64, error)
	SetSyncStatus(ctx context.Context, organizationID, id string, status model.RecipientSyncStatus, syncedAt *time.Time) error
	// MarkPushed sets SYNCED only if the recipient is still PENDING at version.
	MarkPushed(ctx context.Context, organizationID, id string, version int64, syncedAt time.Time) (bool, error)
}
