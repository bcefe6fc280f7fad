package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crm-sync/domain/dto"
	"crm-sync/domain/model"
	"crm-sync/domain/repository"
	"crm-sync/infrastructure/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

type WebhookConfig struct {
	// Concurrency bounds how many events of one delivery run at once.
	Concurrency int
	LockTTL     time.Duration
}

// WebhookRequest is one inbound delivery as received over HTTP.
type WebhookRequest struct {
	Provider      string
	IntegrationID string
	Signature     string
	Body          []byte
}

type IWebhookUsecase interface {
	// HandleWebhook returns model.ErrInvalidProvider or
	// model.ErrInvalidSignature before any processing. Every other failure
	// is reported inside the ack.
	HandleWebhook(ctx context.Context, req WebhookRequest) (*dto.WebhookAck, error)
	SignatureHeader(provider string) string
}

type webhookUsecase struct {
	cfg          WebhookConfig
	registry     repository.ICRMRegistry
	oauth        IOAuthUsecase
	integrations repository.IIntegration
	recipients   repository.IRecipient
	syncLogs     repository.ISyncLog
	handlers     EntityHandlers
	locker       repository.IRecordLocker
	archive      repository.IWebhookArchive
	now          func() time.Time
}

func NewWebhookUsecase(cfg WebhookConfig, registry repository.ICRMRegistry, oauth IOAuthUsecase, integrations repository.IIntegration,
	recipients repository.IRecipient, syncLogs repository.ISyncLog, handlers EntityHandlers, locker repository.IRecordLocker,
	archive repository.IWebhookArchive) IWebhookUsecase {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	return &webhookUsecase{
		cfg:          cfg,
		registry:     registry,
		oauth:        oauth,
		integrations: integrations,
		recipients:   recipients,
		syncLogs:     syncLogs,
		handlers:     handlers,
		locker:       locker,
		archive:      archive,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (u *webhookUsecase) SignatureHeader(provider string) string {
	if !u.registry.IsValidProvider(provider) {
		return ""
	}
	a, ok := u.registry.Get(model.Provider(provider))
	if !ok {
		return ""
	}
	return a.SignatureHeader()
}

func (u *webhookUsecase) HandleWebhook(ctx context.Context, req WebhookRequest) (*dto.WebhookAck, error) {
	if !u.registry.IsValidProvider(req.Provider) {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidProvider, req.Provider)
	}
	adapter, ok := u.registry.Get(model.Provider(req.Provider))
	if !ok {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidProvider, req.Provider)
	}
	log := logger.GetLogger().WithField("provider", req.Provider)

	in, err := u.match(ctx, adapter, req)
	switch {
	case errors.Is(err, model.ErrAmbiguousIntegration):
		log.WithField("error", err).Error("Webhook matched more than one integration; not processed")
		return &dto.WebhookAck{Received: true, Error: model.ErrAmbiguousIntegration.Error()}, nil
	case errors.Is(err, model.ErrInvalidSignature):
		log.Warn("Webhook signature verification failed")
		return nil, err
	case err != nil:
		log.WithField("error", err).Error("Error while matching webhook to an integration")
		return &dto.WebhookAck{Received: true, Error: "internal error"}, nil
	}
	log = log.WithField("organization_id", in.OrganizationID).WithField("integration_id", in.ID)

	events, parseErr := adapter.ParseWebhookPayload(req.Body)
	u.archiveBody(ctx, in, req, len(events))
	if parseErr != nil {
		u.recordParseFailure(ctx, in, parseErr)
		log.WithField("error", parseErr).Warn("Webhook payload could not be parsed")
		return &dto.WebhookAck{Received: true, Error: "invalid payload"}, nil
	}

	ack := &dto.WebhookAck{Received: true}
	results := make([]error, len(events))
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(u.cfg.Concurrency)
	for i, ev := range events {
		i, ev := i, ev
		g.Go(func() error {
			results[i] = u.processEvent(gctx, adapter, in, ev)
			return nil
		})
	}
	_ = g.Wait()
	for _, err := range results {
		if err != nil {
			ack.Failed++
		} else {
			ack.Processed++
		}
	}
	log.WithField("processed", ack.Processed).WithField("failed", ack.Failed).Info("Webhook delivery handled")
	return ack, nil
}

// match picks the single integration a delivery belongs to. Candidates are
// narrowed by the explicit integration id and the provider account, then
// must verify the signature with their own secret.
func (u *webhookUsecase) match(ctx context.Context, adapter repository.ICRMProvider, req WebhookRequest) (*model.Integration, error) {
	candidates, err := u.integrations.ListByProvider(ctx, adapter.Provider(),
		[]model.IntegrationStatus{model.IntegrationConnected, model.IntegrationSyncing, model.IntegrationError})
	if err != nil {
		return nil, err
	}
	if req.IntegrationID != "" {
		candidates = filterIntegrations(candidates, func(in *model.Integration) bool { return in.ID == req.IntegrationID })
	}
	if hint := adapter.AccountHint(req.Body); hint != "" {
		exact := filterIntegrations(candidates, func(in *model.Integration) bool {
			return in.ProviderAccountID != nil && *in.ProviderAccountID == hint
		})
		if len(exact) > 0 {
			candidates = exact
		} else {
			candidates = filterIntegrations(candidates, func(in *model.Integration) bool { return in.ProviderAccountID == nil })
		}
	}

	verified := filterIntegrations(candidates, func(in *model.Integration) bool {
		return in.WebhookSecret != nil && *in.WebhookSecret != "" &&
			adapter.VerifyWebhookSignature(req.Body, req.Signature, *in.WebhookSecret)
	})
	switch len(verified) {
	case 0:
		return nil, model.ErrInvalidSignature
	case 1:
		return verified[0], nil
	default:
		return nil, fmt.Errorf("%w: %d integrations verified", model.ErrAmbiguousIntegration, len(verified))
	}
}

func filterIntegrations(list []*model.Integration, keep func(*model.Integration) bool) []*model.Integration {
	var out []*model.Integration
	for _, in := range list {
		if keep(in) {
			out = append(out, in)
		}
	}
	return out
}

// processEvent reconciles one record under its own sync log. Events for the
// same record are serialized by the record lock.
func (u *webhookUsecase) processEvent(ctx context.Context, adapter repository.ICRMProvider, in *model.Integration, ev model.WebhookEvent) (err error) {
	skip, resolveErr := u.resolveEntity(ctx, adapter, in, &ev)
	if skip {
		return nil
	}
	meta, _ := json.Marshal(map[string]any{"action": ev.Action, "external_id": ev.ExternalID, "inline": ev.Data != nil})
	syncLog := &model.SyncLog{
		ID:            uuid.NewString(),
		IntegrationID: in.ID,
		EntityType:    string(ev.EntityType),
		Operation:     model.OperationWebhook,
		Direction:     model.DirectionInbound,
		Metadata:      datatypes.JSON(meta),
	}
	if err := u.syncLogs.Start(ctx, syncLog); err != nil {
		return fmt.Errorf("starting sync log: %w", err)
	}

	counts := model.SyncCounts{Processed: 1}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("webhook event panicked: %v", r)
		}
		status := model.SyncLogCompleted
		var errMsg *string
		if err != nil {
			status = model.SyncLogFailed
			counts.Failed = 1
			msg := err.Error()
			errMsg = &msg
			logger.GetLogger().
				WithField("integration_id", in.ID).
				WithField("sync_log_id", syncLog.ID).
				WithField("external_id", ev.ExternalID).
				WithField("error", err).
				Warn("Webhook event failed")
		}
		if cerr := u.syncLogs.Complete(context.Background(), syncLog.ID, status, counts, errMsg); cerr != nil {
			logger.GetLogger().WithField("sync_log_id", syncLog.ID).WithField("error", cerr).Error("Error while completing sync log")
		}
	}()

	if resolveErr != nil {
		return resolveErr
	}

	key := fmt.Sprintf("%s:%s:%s:%s", in.OrganizationID, in.Provider, ev.EntityType, ev.ExternalID)
	unlock, err := u.locker.Lock(ctx, key, u.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("locking record: %w", err)
	}
	defer unlock()

	if ev.Action == model.WebhookDelete {
		n, err := u.recipients.ClearExternalLink(ctx, in.OrganizationID, ev.ExternalID, in.Provider)
		if err != nil {
			return err
		}
		counts.Updated = int(n)
		return nil
	}

	rec := ev.Data
	if rec == nil {
		source, token, instanceURL, err := resolveSource(ctx, u.registry, u.oauth, in)
		if err != nil {
			return err
		}
		if rec, err = source.FetchRecord(ctx, ev.EntityType, token, ev.ExternalID, instanceURL); err != nil {
			return err
		}
		if rec == nil {
			return nil
		}
	}
	if rec.ID == "" {
		rec.ID = ev.ExternalID
	}
	outcome, err := u.handlers.Apply(ctx, in, ev.EntityType, *rec, u.now())
	if err != nil {
		return err
	}
	if outcome.Changed() {
		counts.Updated = 1
	}
	return nil
}

// resolveEntity fills in the entity type of an event that only named the
// provider object. Deletes go ahead without one; events on objects that do
// not map to a recipient are skipped.
func (u *webhookUsecase) resolveEntity(ctx context.Context, adapter repository.ICRMProvider, in *model.Integration, ev *model.WebhookEvent) (bool, error) {
	if ev.EntityType != "" {
		return false, nil
	}
	err := fmt.Errorf("%s object %q: %w", in.Provider, ev.ObjectRef, model.ErrUnsupportedEntity)
	if resolver, ok := adapter.(repository.IEntityResolver); ok && ev.ObjectRef != "" && !in.IsDemo {
		var tok *AccessToken
		if tok, err = u.oauth.GetValidAccessToken(ctx, in.OrganizationID); err == nil {
			ev.EntityType, err = resolver.ResolveEntityType(ctx, tok.AccessToken, ev.ObjectRef)
		}
	}
	switch {
	case err == nil:
		return false, nil
	case ev.Action == model.WebhookDelete:
		logger.GetLogger().WithField("integration_id", in.ID).WithField("external_id", ev.ExternalID).WithField("error", err).
			Debug("Entity type of deleted record unknown; clearing link by id")
		return false, nil
	case errors.Is(err, model.ErrUnsupportedEntity):
		return true, nil
	default:
		return false, err
	}
}

func (u *webhookUsecase) archiveBody(ctx context.Context, in *model.Integration, req WebhookRequest, events int) {
	if u.archive == nil {
		return
	}
	entry := &model.WebhookArchiveEntry{
		RequestID:     uuid.NewString(),
		Provider:      in.Provider,
		IntegrationID: in.ID,
		ReceivedAt:    u.now(),
		Body:          string(req.Body),
		EventCount:    events,
	}
	if err := u.archive.Save(ctx, entry); err != nil {
		logger.GetLogger().WithField("integration_id", in.ID).WithField("error", err).Warn("Error while archiving webhook body")
	}
}

func (u *webhookUsecase) recordParseFailure(ctx context.Context, in *model.Integration, cause error) {
	syncLog := &model.SyncLog{
		ID:            uuid.NewString(),
		IntegrationID: in.ID,
		Operation:     model.OperationWebhook,
		Direction:     model.DirectionInbound,
	}
	if err := u.syncLogs.Start(ctx, syncLog); err != nil {
		logger.GetLogger().WithField("integration_id", in.ID).WithField("error", err).Error("Error while starting sync log")
		return
	}
	msg := cause.Error()
	if err := u.syncLogs.Complete(ctx, syncLog.ID, model.SyncLogFailed, model.SyncCounts{Failed: 1}, &msg); err != nil {
		logger.GetLogger().WithField("sync_log_id", syncLog.ID).WithField("error", err).Error("Error while completing sync log")
	}
}
