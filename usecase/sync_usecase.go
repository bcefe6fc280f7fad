package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"crm-sync/domain/dto"
	"crm-sync/domain/model"
	"crm-sync/domain/repository"
	"crm-sync/infrastructure/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

const staleSyncGrace = 5 * time.Minute

type SyncConfig struct {
	PageSize int
	MaxPages int
	// RunTimeout bounds every run. A SYNCING row untouched for longer is
	// treated as abandoned.
	RunTimeout time.Duration
	DemoMode   bool
	// Concurrency is the number of integrations synced at once by
	// SyncAllConnected.
	Concurrency int
}

type ISyncUsecase interface {
	RunInitialSync(ctx context.Context, organizationID string) (*dto.SyncSummary, error)
	TriggerSync(ctx context.Context, organizationID string, full bool) (*dto.SyncSummary, error)
	// StartBackgroundSync claims the integration synchronously and runs the
	// sync detached from ctx.
	StartBackgroundSync(ctx context.Context, organizationID string, full bool) error
	SyncAllConnected(ctx context.Context) error
	ConnectDemo(ctx context.Context, organizationID, provider string) (*dto.SyncSummary, error)
	Disconnect(ctx context.Context, organizationID string) error
	Status(ctx context.Context, organizationID string) (*dto.IntegrationStatus, error)
	// Wait blocks until background runs have finished.
	Wait()
}

// recordSource is the read side of a provider, real or canned.
type recordSource interface {
	SupportedEntityTypes() []model.EntityType
	ListRecords(ctx context.Context, entityType model.EntityType, accessToken, instanceURL string, opts model.ListOptions) (*model.RecordPage, error)
	FetchRecord(ctx context.Context, entityType model.EntityType, accessToken, externalID, instanceURL string) (*model.ProviderRecord, error)
}

type syncUsecase struct {
	cfg          SyncConfig
	registry     repository.ICRMRegistry
	oauth        IOAuthUsecase
	integrations repository.IIntegration
	syncLogs     repository.ISyncLog
	handlers     EntityHandlers
	now          func() time.Time
	background   sync.WaitGroup
}

func NewSyncUsecase(cfg SyncConfig, registry repository.ICRMRegistry, oauth IOAuthUsecase, integrations repository.IIntegration,
	syncLogs repository.ISyncLog, handlers EntityHandlers) ISyncUsecase {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 500
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 30 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	return &syncUsecase{
		cfg:          cfg,
		registry:     registry,
		oauth:        oauth,
		integrations: integrations,
		syncLogs:     syncLogs,
		handlers:     handlers,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (u *syncUsecase) RunInitialSync(ctx context.Context, organizationID string) (*dto.SyncSummary, error) {
	return u.TriggerSync(ctx, organizationID, true)
}

func (u *syncUsecase) TriggerSync(ctx context.Context, organizationID string, full bool) (*dto.SyncSummary, error) {
	in, err := u.begin(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithTimeout(ctx, u.cfg.RunTimeout)
	defer cancel()
	return u.run(runCtx, in, full), nil
}

func (u *syncUsecase) StartBackgroundSync(ctx context.Context, organizationID string, full bool) error {
	in, err := u.begin(ctx, organizationID)
	if err != nil {
		return err
	}
	u.background.Add(1)
	go func() {
		defer u.background.Done()
		runCtx, cancel := context.WithTimeout(context.Background(), u.cfg.RunTimeout)
		defer cancel()
		u.run(runCtx, in, full)
	}()
	return nil
}

func (u *syncUsecase) Wait() {
	u.background.Wait()
}

// begin wins the SYNCING transition or explains why it could not. Every run
// is bounded by RunTimeout, so a SYNCING row older than that plus a grace
// period has no live owner.
func (u *syncUsecase) begin(ctx context.Context, organizationID string) (*model.Integration, error) {
	staleBefore := u.now().Add(-(u.cfg.RunTimeout + staleSyncGrace))
	won, err := u.integrations.TryBeginSync(ctx, organizationID, staleBefore)
	if err != nil {
		return nil, err
	}
	in, err := u.integrations.GetByOrganization(ctx, organizationID)
	if err != nil {
		if won {
			msg := err.Error()
			_ = u.integrations.FinishSync(ctx, organizationID, model.IntegrationError, model.LastSyncFailed, &msg, nil)
		}
		return nil, err
	}
	if !won {
		if !in.Active() {
			return nil, model.ErrIntegrationNotConnected
		}
		return nil, model.ErrSyncInProgress
	}
	return in, nil
}

func (u *syncUsecase) SyncAllConnected(ctx context.Context) error {
	list, err := u.integrations.ListByStatus(ctx, []model.IntegrationStatus{model.IntegrationConnected, model.IntegrationError})
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.cfg.Concurrency)
	for _, in := range list {
		org := in.OrganizationID
		g.Go(func() error {
			_, err := u.TriggerSync(gctx, org, false)
			if err != nil && !errors.Is(err, model.ErrSyncInProgress) && !errors.Is(err, model.ErrIntegrationNotConnected) {
				logger.GetLogger().WithField("organization_id", org).WithField("error", err).Error("Scheduled sync could not start")
			}
			return nil
		})
	}
	return g.Wait()
}

// run executes a claimed sync and always leaves SYNCING.
func (u *syncUsecase) run(ctx context.Context, in *model.Integration, full bool) (summary *dto.SyncSummary) {
	started := u.now()
	op := model.OperationIncrementalSync
	var since *time.Time
	if full || in.LastSyncAt == nil {
		op = model.OperationFullSync
	} else {
		since = in.LastSyncAt
	}
	summary = &dto.SyncSummary{IntegrationID: in.ID, Operation: string(op), StartedAt: started}
	log := logger.GetLogger().
		WithField("organization_id", in.OrganizationID).
		WithField("provider", in.Provider).
		WithField("integration_id", in.ID).
		WithField("operation", op)
	log.Info("CRM sync started")

	var fatal error
	defer func() {
		if r := recover(); r != nil {
			fatal = fmt.Errorf("sync panicked: %v", r)
		}
		u.finish(in, summary, fatal, started)
		log.WithField("status", summary.Status).
			WithField("processed", summary.RecordsProcessed).
			WithField("updated", summary.RecordsUpdated).
			WithField("failed", summary.RecordsFailed).
			Info("CRM sync finished")
	}()

	source, token, instanceURL, err := resolveSource(ctx, u.registry, u.oauth, in)
	if err != nil {
		fatal = err
		return summary
	}
	for _, entityType := range source.SupportedEntityTypes() {
		es, err := u.syncEntity(ctx, in, source, token, instanceURL, entityType, op, since)
		summary.Entities = append(summary.Entities, es)
		summary.RecordsProcessed += es.Processed
		summary.RecordsUpdated += es.Updated
		summary.RecordsFailed += es.Failed
		if err != nil {
			fatal = err
			break
		}
	}
	return summary
}

// finish advances last_sync_at only after a clean run, so records that failed
// are picked up again by the next incremental window.
func (u *syncUsecase) finish(in *model.Integration, summary *dto.SyncSummary, fatal error, started time.Time) {
	var entityErrs []string
	for _, es := range summary.Entities {
		if es.Error != "" {
			entityErrs = append(entityErrs, es.EntityType+": "+es.Error)
		}
	}

	status, syncStatus := model.IntegrationConnected, model.LastSyncSuccess
	syncedAt := &started
	var errMsg *string
	switch {
	case fatal != nil:
		status, syncStatus, syncedAt = model.IntegrationError, model.LastSyncFailed, nil
		msg := fatal.Error()
		errMsg = &msg
	case len(summary.Entities) > 0 && len(entityErrs) == len(summary.Entities):
		status, syncStatus, syncedAt = model.IntegrationError, model.LastSyncFailed, nil
		msg := strings.Join(entityErrs, "; ")
		errMsg = &msg
	case len(entityErrs) > 0:
		syncStatus, syncedAt = model.LastSyncPartial, nil
		msg := strings.Join(entityErrs, "; ")
		errMsg = &msg
	case summary.RecordsFailed > 0:
		syncStatus, syncedAt = model.LastSyncPartial, nil
		msg := fmt.Sprintf("%d records failed", summary.RecordsFailed)
		errMsg = &msg
	}
	summary.Status = syncStatus
	if errMsg != nil {
		summary.Error = *errMsg
	}
	summary.CompletedAt = u.now()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := u.integrations.FinishSync(ctx, in.OrganizationID, status, syncStatus, errMsg, syncedAt); err != nil {
		logger.GetLogger().WithField("organization_id", in.OrganizationID).WithField("error", err).Error("Error while finishing sync")
	}
}

// syncEntity pulls every page of one entity type. A bad record only counts
// as failed; a page error ends the entity; an auth failure ends the run.
func (u *syncUsecase) syncEntity(ctx context.Context, in *model.Integration, source recordSource, token, instanceURL string,
	entityType model.EntityType, op model.SyncOperation, since *time.Time) (dto.EntitySummary, error) {
	es := dto.EntitySummary{EntityType: string(entityType)}
	meta, _ := json.Marshal(map[string]any{"modified_since": since, "page_size": u.cfg.PageSize})
	syncLog := &model.SyncLog{
		ID:            uuid.NewString(),
		IntegrationID: in.ID,
		EntityType:    string(entityType),
		Operation:     op,
		Direction:     model.DirectionInbound,
		Metadata:      datatypes.JSON(meta),
	}
	if err := u.syncLogs.Start(ctx, syncLog); err != nil {
		es.Error = err.Error()
		return es, fmt.Errorf("starting sync log: %w", err)
	}
	es.SyncLogID = syncLog.ID

	var counts model.SyncCounts
	var pageErr error
	cursor := ""
	for page := 0; page < u.cfg.MaxPages; page++ {
		res, err := source.ListRecords(ctx, entityType, token, instanceURL, model.ListOptions{Cursor: cursor, Limit: u.cfg.PageSize, ModifiedSince: since})
		if err != nil {
			pageErr = err
			break
		}
		counts.Add(u.applyPage(ctx, in, entityType, res.Records))
		if res.NextCursor == "" {
			cursor = ""
			break
		}
		cursor = res.NextCursor
	}
	if cursor != "" {
		logger.GetLogger().WithField("integration_id", in.ID).WithField("entity_type", entityType).
			Warn("Sync stopped at the page limit; remaining records wait for the next run")
	}

	es.Processed, es.Updated, es.Failed = counts.Processed, counts.Updated, counts.Failed
	status := model.SyncLogCompleted
	var errMsg *string
	if pageErr != nil {
		status = model.SyncLogFailed
		msg := pageErr.Error()
		errMsg = &msg
		es.Error = msg
	}
	if err := u.syncLogs.Complete(context.Background(), syncLog.ID, status, counts, errMsg); err != nil {
		logger.GetLogger().WithField("sync_log_id", syncLog.ID).WithField("error", err).Error("Error while completing sync log")
	}
	if pageErr != nil && (model.IsAuthFailure(pageErr) || ctx.Err() != nil) {
		return es, pageErr
	}
	return es, nil
}

func (u *syncUsecase) applyPage(ctx context.Context, in *model.Integration, entityType model.EntityType, records []model.ProviderRecord) model.SyncCounts {
	var counts model.SyncCounts
	for _, rec := range records {
		counts.Processed++
		outcome, err := u.handlers.Apply(ctx, in, entityType, rec, u.now())
		if err != nil {
			counts.Failed++
			logger.GetLogger().
				WithField("integration_id", in.ID).
				WithField("entity_type", entityType).
				WithField("external_id", rec.ID).
				WithField("error", err).
				Warn("Skipping CRM record")
			continue
		}
		if outcome.Changed() {
			counts.Updated++
		}
	}
	return counts
}

// ConnectDemo creates a demo integration and seeds it with canned records.
func (u *syncUsecase) ConnectDemo(ctx context.Context, organizationID, provider string) (*dto.SyncSummary, error) {
	if !u.cfg.DemoMode {
		return nil, model.ErrDemoDisabled
	}
	if !u.registry.IsValidProvider(provider) {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidProvider, provider)
	}
	p := model.Provider(provider)
	secret := uuid.NewString()
	instanceURL := demoInstanceURLs[p]
	in := &model.Integration{
		OrganizationID: organizationID,
		Provider:       p,
		Status:         model.IntegrationConnected,
		AccessToken:    "demo-access-token",
		InstanceURL:    &instanceURL,
		WebhookSecret:  &secret,
		IsDemo:         true,
	}
	if err := u.integrations.Upsert(ctx, in); err != nil {
		return nil, err
	}
	return u.TriggerSync(ctx, organizationID, true)
}

// Disconnect drops credentials and keeps the integration row, its sync logs
// and every recipient with its sync fields.
func (u *syncUsecase) Disconnect(ctx context.Context, organizationID string) error {
	in, err := u.integrations.GetByOrganization(ctx, organizationID)
	if err != nil {
		return err
	}
	if in == nil || in.Status == model.IntegrationDisconnected {
		return model.ErrIntegrationNotConnected
	}
	if err := u.integrations.Disconnect(ctx, organizationID); err != nil {
		return err
	}
	logger.GetLogger().
		WithField("organization_id", organizationID).
		WithField("provider", in.Provider).
		WithField("integration_id", in.ID).
		Info("CRM integration disconnected")
	return nil
}

func (u *syncUsecase) Status(ctx context.Context, organizationID string) (*dto.IntegrationStatus, error) {
	out := &dto.IntegrationStatus{Providers: u.registry.Providers(), DemoMode: u.cfg.DemoMode, RecentLogs: []model.SyncLog{}}
	in, err := u.integrations.GetByOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	if in == nil {
		return out, nil
	}
	out.Integration = in
	out.Connected = in.Status != model.IntegrationDisconnected
	logs, err := u.syncLogs.ListRecent(ctx, in.ID, 20)
	if err != nil {
		return nil, err
	}
	if logs != nil {
		out.RecentLogs = logs
	}
	return out, nil
}

// resolveSource returns the record source and credentials for an
// integration. Demo integrations never touch the network.
func resolveSource(ctx context.Context, registry repository.ICRMRegistry, oauth IOAuthUsecase, in *model.Integration) (recordSource, string, string, error) {
	adapter, ok := registry.Get(in.Provider)
	if !ok {
		return nil, "", "", fmt.Errorf("%w: %q", model.ErrInvalidProvider, in.Provider)
	}
	if in.IsDemo {
		return demoSource{provider: in.Provider, entities: adapter.SupportedEntityTypes()}, "", in.InstanceURLValue(), nil
	}
	tok, err := oauth.GetValidAccessToken(ctx, in.OrganizationID)
	if err != nil {
		return nil, "", "", err
	}
	return adapter, tok.AccessToken, tok.InstanceURL, nil
}
