package scheduler

import (
	"context"
	"time"

	"crm-sync/infrastructure/logger"

	"github.com/go-co-op/gocron"
)

const incrementalSyncTag = "crm_incremental_sync"

// SyncRunner runs one incremental sync pass over every connected integration.
type SyncRunner interface {
	SyncAllConnected(ctx context.Context) error
}

// SyncScheduler periodically triggers incremental syncs.
type SyncScheduler struct {
	scheduler *gocron.Scheduler
	runner    SyncRunner
	interval  time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewSyncScheduler(runner SyncRunner, interval time.Duration) *SyncScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &SyncScheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		runner:    runner,
		interval:  interval,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start registers the sync job and starts the scheduler. A zero interval
// disables scheduling.
func (s *SyncScheduler) Start() error {
	if s.interval <= 0 {
		logger.GetLogger().Info("Scheduled CRM sync disabled")
		return nil
	}
	_, err := s.scheduler.Every(s.interval).
		WaitForSchedule().
		SingletonMode().
		Tag(incrementalSyncTag).
		Do(s.runOnce)
	if err != nil {
		return err
	}
	logger.GetLogger().WithField("interval", s.interval.String()).Info("Starting CRM sync scheduler...")
	s.scheduler.StartAsync()
	return nil
}

func (s *SyncScheduler) Stop() {
	s.scheduler.Stop()
	s.cancel()
}

// JobCount is the number of registered jobs.
func (s *SyncScheduler) JobCount() int {
	return len(s.scheduler.Jobs())
}

func (s *SyncScheduler) runOnce() {
	start := time.Now()
	if err := s.runner.SyncAllConnected(s.ctx); err != nil {
		logger.GetLogger().WithField("error", err).Error("Scheduled CRM sync failed")
		return
	}
	logger.GetLogger().WithField("elapsed", time.Since(start).String()).Info("Scheduled CRM sync completed")
}
