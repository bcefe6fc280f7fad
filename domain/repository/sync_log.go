package repository

import (
	"context"

	"crm-sync/domain/model"
)

// ISyncLog is the append-only sync audit trail.
type ISyncLog interface {
	Start(ctx context.Context, log *model.SyncLog) error
	// Complete writes the terminal status once; a second call is an error.
	Complete(ctx context.Context, id string, status model.SyncLogStatus, counts model.SyncCounts, errMsg *string) error
	ListRecent(ctx context.Context, integrationID string, limit int) ([]model.SyncLog, error)
}
