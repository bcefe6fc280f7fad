package persistence

import (
	"context"
	"testing"
	"time"

	"crm-sync/domain/model"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newSyncLogRepo(t *testing.T) *SyncLogRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	repo := NewSyncLogRepository(db)
	require.NoError(t, repo.Migrate(context.Background()))
	return repo
}

func TestSyncLogRepository_CompleteOnce(t *testing.T) {
	repo := newSyncLogRepo(t)
	ctx := context.Background()

	log := &model.SyncLog{IntegrationID: "int-1", EntityType: "lead", Operation: model.OperationFullSync, Direction: model.DirectionInbound}
	require.NoError(t, repo.Start(ctx, log))
	require.NotEmpty(t, log.ID)
	assert.Equal(t, model.SyncLogStarted, log.Status)

	counts := model.SyncCounts{Processed: 3, Updated: 2, Failed: 1}
	require.NoError(t, repo.Complete(ctx, log.ID, model.SyncLogCompleted, counts, nil))

	err := repo.Complete(ctx, log.ID, model.SyncLogFailed, model.SyncCounts{}, nil)
	require.ErrorIs(t, err, model.ErrSyncLogClosed)

	logs, err := repo.ListRecent(ctx, "int-1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.SyncLogCompleted, logs[0].Status)
	assert.Equal(t, 3, logs[0].RecordsProcessed)
	assert.Equal(t, 2, logs[0].RecordsUpdated)
	assert.Equal(t, 1, logs[0].RecordsFailed)
	assert.NotNil(t, logs[0].CompletedAt)
}

func TestSyncLogRepository_ListRecentNewestFirst(t *testing.T) {
	repo := newSyncLogRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, entity := range []string{"lead", "contact", "company"} {
		log := &model.SyncLog{IntegrationID: "int-1", EntityType: entity, Operation: model.OperationIncrementalSync,
			Direction: model.DirectionInbound, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, repo.Start(ctx, log))
	}
	require.NoError(t, repo.Start(ctx, &model.SyncLog{IntegrationID: "int-2", Operation: model.OperationPush, Direction: model.DirectionOutbound}))

	logs, err := repo.ListRecent(ctx, "int-1", 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "company", logs[0].EntityType)
	assert.Equal(t, "contact", logs[1].EntityType)
}

func TestWebhookArchive_NilClientIsNoop(t *testing.T) {
	archive := NewWebhookArchive(nil, "crm")
	require.NoError(t, archive.Save(context.Background(), &model.WebhookArchiveEntry{Provider: model.ProviderHubSpot}))
}
