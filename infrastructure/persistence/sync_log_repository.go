package persistence

import (
	"context"
	"time"

	"crm-sync/domain/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SyncLogRepository is the gorm-backed audit trail.
type SyncLogRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSyncLogRepository(db *gorm.DB) *SyncLogRepository {
	return &SyncLogRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *SyncLogRepository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&model.SyncLog{})
}

func (r *SyncLogRepository) Start(ctx context.Context, log *model.SyncLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	log.Status = model.SyncLogStarted
	if log.StartedAt.IsZero() {
		log.StartedAt = r.now()
	}
	log.CompletedAt = nil
	return r.db.WithContext(ctx).Create(log).Error
}

// Complete moves a started log to its terminal status. The status guard makes
// the transition happen at most once.
func (r *SyncLogRepository) Complete(ctx context.Context, id string, status model.SyncLogStatus, counts model.SyncCounts, errMsg *string) error {
	completedAt := r.now()
	res := r.db.WithContext(ctx).Model(&model.SyncLog{}).
		Where("id = ? AND status = ?", id, model.SyncLogStarted).
		Updates(map[string]any{
			"status":            status,
			"records_processed": counts.Processed,
			"records_updated":   counts.Updated,
			"records_failed":    counts.Failed,
			"error_message":     errMsg,
			"completed_at":      completedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrSyncLogClosed
	}
	return nil
}

func (r *SyncLogRepository) ListRecent(ctx context.Context, integrationID string, limit int) ([]model.SyncLog, error) {
	if limit <= 0 {
		limit = 20
	}
	var logs []model.SyncLog
	err := r.db.WithContext(ctx).
		Where("integration_id = ?", integrationID).
		Order("started_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}
