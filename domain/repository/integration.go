package repository

import (
	"context"
	"time"

	"crm-sync/domain/model"
)

// IIntegration persists per-organization CRM connections.
type IIntegration interface {
	// Upsert creates or replaces the organization's integration row.
	Upsert(ctx context.Context, integration *model.Integration) error
	// GetByOrganization returns nil, nil when the organization has no row.
	GetByOrganization(ctx context.Context, organizationID string) (*model.Integration, error)
	ListByProvider(ctx context.Context, provider model.Provider, statuses []model.IntegrationStatus) ([]*model.Integration, error)
	ListByStatus(ctx context.Context, statuses []model.IntegrationStatus) ([]*model.Integration, error)
	UpdateTokens(ctx context.Context, organizationID string, tokens model.TokenSet) error
	// TryBeginSync moves CONNECTED or ERROR to SYNCING and reports whether
	// this caller won the transition. A SYNCING row last touched before
	// staleBefore belongs to a dead run and can be taken over.
	TryBeginSync(ctx context.Context, organizationID string, staleBefore time.Time) (bool, error)
	// FinishSync leaves SYNCING. A nil syncedAt keeps the previous
	// last_sync_at so the next incremental run does not skip changes.
	FinishSync(ctx context.Context, organizationID string, status model.IntegrationStatus, syncStatus string, syncErr *string, syncedAt *time.Time) error
	// MarkError records a failure outside a sync run. A SYNCING row keeps its
	// status so the running sync still owns it.
	MarkError(ctx context.Context, organizationID string, message string) error
	Disconnect(ctx context.Context, organizationID string) error
}
