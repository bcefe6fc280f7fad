package queue

import (
	"context"
	"errors"
	"time"

	"crm-sync/domain/model"
	"crm-sync/infrastructure/logger"

	"golang.org/x/sync/errgroup"
)

var ErrQueueFull = errors.New("push queue is full")

const defaultDrainTimeout = 30 * time.Second

// MemoryQueue is an in-process push queue drained by a fixed worker pool.
// On shutdown the workers keep handling buffered jobs for up to
// DrainTimeout; whatever is left after that is logged and dropped, and the
// recipients' PENDING marks expire on their own.
type MemoryQueue struct {
	jobs         chan *model.PushJob
	workers      int
	DrainTimeout time.Duration
}

func NewMemoryQueue(size, workers int) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	if workers <= 0 {
		workers = 1
	}
	return &MemoryQueue{jobs: make(chan *model.PushJob, size), workers: workers, DrainTimeout: defaultDrainTimeout}
}

// Enqueue never blocks the request path; a full buffer is reported instead.
func (q *MemoryQueue) Enqueue(ctx context.Context, job *model.PushJob) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Run works the queue until ctx is cancelled, then drains it. A job already
// taken when ctx is cancelled still runs to completion under the handler's
// own deadline.
func (q *MemoryQueue) Run(ctx context.Context, handle model.PushHandler) error {
	g, gctx := errgroup.WithContext(ctx)
	jobCtx := context.WithoutCancel(ctx)
	for i := 0; i < q.workers; i++ {
		worker := i
		g.Go(func() error {
			for gctx.Err() == nil {
				select {
				case <-gctx.Done():
					return nil
				case job := <-q.jobs:
					runJob(jobCtx, worker, job, handle)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	q.drain(context.WithoutCancel(ctx), handle)
	return nil
}

// drain hands the jobs buffered at shutdown to the workers under a fresh
// deadline so their pushes are not cancelled along with the server.
func (q *MemoryQueue) drain(parent context.Context, handle model.PushHandler) {
	if len(q.jobs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(parent, q.DrainTimeout)
	defer cancel()
	logger.GetLogger().WithField("buffered", len(q.jobs)).Info("Draining push queue")

	g := errgroup.Group{}
	for i := 0; i < q.workers; i++ {
		worker := i
		g.Go(func() error {
			for ctx.Err() == nil {
				select {
				case job := <-q.jobs:
					runJob(ctx, worker, job, handle)
				default:
					return nil
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	if left := len(q.jobs); left > 0 {
		logger.GetLogger().WithField("dropped", left).Warn("Push queue drain timed out")
	}
}

func runJob(ctx context.Context, worker int, job *model.PushJob, handle model.PushHandler) {
	defer func() {
		if r := recover(); r != nil {
			logger.GetLogger().WithField("job", job.ID).WithField("panic", r).Error("Push job panicked")
		}
	}()
	if err := handle(ctx, job); err != nil {
		logger.GetLogger().
			WithField("worker", worker).
			WithField("job", job.ID).
			WithField("recipient", job.RecipientID).
			WithField("error", err).
			Warn("Push job failed")
	}
}
