package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crm-sync/domain/dto"
	"crm-sync/domain/model"
	"crm-sync/domain/repository"
	"crm-sync/infrastructure/logger"

	"github.com/google/uuid"
)

type IPushUsecase interface {
	// PushToCRM writes one job's fields to the provider and records the
	// outcome on the recipient. It never retries. Jobs for one recipient run
	// one at a time and send the recipient's current values, so the newest
	// edit wins whatever order the jobs arrive in.
	PushToCRM(ctx context.Context, job *model.PushJob) dto.PushResult
	// Handle adapts PushToCRM to the queue worker contract.
	Handle(ctx context.Context, job *model.PushJob) error
}

type pushUsecase struct {
	registry     repository.ICRMRegistry
	oauth        IOAuthUsecase
	integrations repository.IIntegration
	recipients   repository.IRecipient
	syncLogs     repository.ISyncLog
	locker       repository.IRecordLocker
	timeout      time.Duration
	now          func() time.Time
}

func NewPushUsecase(registry repository.ICRMRegistry, oauth IOAuthUsecase, integrations repository.IIntegration,
	recipients repository.IRecipient, syncLogs repository.ISyncLog, locker repository.IRecordLocker, timeout time.Duration) IPushUsecase {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &pushUsecase{
		registry:     registry,
		oauth:        oauth,
		integrations: integrations,
		recipients:   recipients,
		syncLogs:     syncLogs,
		locker:       locker,
		timeout:      timeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (u *pushUsecase) Handle(ctx context.Context, job *model.PushJob) error {
	res := u.PushToCRM(ctx, job)
	if !res.Success {
		return errors.New(res.Error)
	}
	return nil
}

func (u *pushUsecase) PushToCRM(ctx context.Context, job *model.PushJob) dto.PushResult {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()
	log := logger.GetLogger().
		WithField("organization_id", job.OrganizationID).
		WithField("recipient_id", job.RecipientID).
		WithField("external_id", job.ExternalID)

	in, err := u.integrations.GetByOrganization(ctx, job.OrganizationID)
	if err != nil {
		return u.fail(ctx, job, nil, err)
	}
	if in == nil {
		return u.fail(ctx, job, nil, model.ErrIntegrationNotConnected)
	}

	syncLog := &model.SyncLog{
		ID:            uuid.NewString(),
		IntegrationID: in.ID,
		EntityType:    string(job.EntityType),
		Operation:     model.OperationPush,
		Direction:     model.DirectionOutbound,
	}
	if err := u.syncLogs.Start(ctx, syncLog); err != nil {
		log.WithField("error", err).Error("Error while starting push sync log")
		syncLog = nil
	}

	if !in.Active() {
		return u.fail(ctx, job, syncLog, model.ErrIntegrationNotConnected)
	}
	if in.Provider != job.Provider {
		return u.fail(ctx, job, syncLog, fmt.Errorf("record belongs to %s but the organization is connected to %s", job.Provider, in.Provider))
	}

	unlock, err := u.locker.Lock(ctx, "push:"+job.OrganizationID+":"+job.RecipientID, u.timeout)
	if err != nil {
		return u.fail(ctx, job, syncLog, fmt.Errorf("locking recipient: %w", err))
	}
	defer unlock()

	rec, err := u.recipients.GetByID(ctx, job.OrganizationID, job.RecipientID)
	if err != nil {
		return u.fail(ctx, job, syncLog, err)
	}
	if !rec.CRMManaged() || *rec.ExternalID != job.ExternalID || derefString(rec.ExternalSource) != string(job.Provider) {
		msg := "recipient is no longer linked to " + string(job.Provider) + " record " + job.ExternalID
		u.complete(syncLog, model.SyncLogFailed, model.SyncCounts{Processed: 1, Failed: 1}, &msg)
		log.Warn("Push skipped; CRM link changed after the edit")
		return dto.PushResult{Success: false, Error: msg}
	}

	fields := make(map[string]string, len(job.Fields))
	for name := range job.Fields {
		fields[name] = localValue(rec, name)
	}
	if err := u.push(ctx, in, job, fields); err != nil {
		return u.fail(ctx, job, syncLog, err)
	}

	settled, err := u.recipients.MarkPushed(ctx, job.OrganizationID, job.RecipientID, job.SyncVersion, u.now())
	if err != nil {
		log.WithField("error", err).Error("Error while marking recipient synced")
	} else if !settled {
		log.WithField("sync_version", job.SyncVersion).Debug("Recipient changed after this push was queued; status left as is")
	}
	u.complete(syncLog, model.SyncLogCompleted, model.SyncCounts{Processed: 1, Updated: 1}, nil)
	log.WithField("provider", in.Provider).WithField("fields", len(fields)).Info("Pushed local edits to CRM")
	return dto.PushResult{Success: true}
}

func (u *pushUsecase) push(ctx context.Context, in *model.Integration, job *model.PushJob, fields map[string]string) error {
	payload, err := MapLocalToExternal(in.Provider, job.EntityType, fields)
	if err != nil {
		return err
	}
	if len(payload) == 0 || in.IsDemo {
		return nil
	}
	adapter, ok := u.registry.Get(in.Provider)
	if !ok {
		return fmt.Errorf("%w: %q", model.ErrInvalidProvider, in.Provider)
	}
	tok, err := u.oauth.GetValidAccessToken(ctx, in.OrganizationID)
	if err != nil {
		return err
	}
	return adapter.UpdateRecord(ctx, job.EntityType, tok.AccessToken, job.ExternalID, tok.InstanceURL, payload)
}

func (u *pushUsecase) fail(ctx context.Context, job *model.PushJob, syncLog *model.SyncLog, cause error) dto.PushResult {
	if err := u.recipients.SetSyncStatus(context.WithoutCancel(ctx), job.OrganizationID, job.RecipientID, model.RecipientError, nil); err != nil {
		logger.GetLogger().WithField("recipient_id", job.RecipientID).WithField("error", err).Error("Error while marking recipient push failed")
	}
	msg := cause.Error()
	u.complete(syncLog, model.SyncLogFailed, model.SyncCounts{Processed: 1, Failed: 1}, &msg)
	logger.GetLogger().
		WithField("organization_id", job.OrganizationID).
		WithField("recipient_id", job.RecipientID).
		WithField("error", cause).
		Warn("CRM push failed")
	return dto.PushResult{Success: false, Error: msg}
}

func (u *pushUsecase) complete(syncLog *model.SyncLog, status model.SyncLogStatus, counts model.SyncCounts, errMsg *string) {
	if syncLog == nil {
		return
	}
	if err := u.syncLogs.Complete(context.Background(), syncLog.ID, status, counts, errMsg); err != nil {
		logger.GetLogger().WithField("sync_log_id", syncLog.ID).WithField("error", err).Error("Error while completing push sync log")
	}
}
