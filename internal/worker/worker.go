package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bobarin/longcut/internal/apperrors"
	"github.com/bobarin/longcut/internal/queue"
)

const dequeueTimeout = 5 * time.Second

// JobSource yields queued runs.
type JobSource interface {
	Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*queue.Job, error)
}

// Worker consumes assemble_run jobs and drives them through the pipeline.
type Worker struct {
	jobs     JobSource
	pipeline *Pipeline
	logger   *zap.Logger
}

func New(jobs JobSource, pipeline *Pipeline, logger *zap.Logger) *Worker {
	return &Worker{
		jobs:     jobs,
		pipeline: pipeline,
		logger:   logger.Named("worker"),
	}
}

// Start runs concurrency consumers until ctx is cancelled. Runs are
// independent of each other; cuts within one run stay sequential.
func (w *Worker) Start(ctx context.Context, concurrency int) error {
	if concurrency < 1 {
		concurrency = 1
	}
	w.logger.Info("worker started", zap.Int("concurrency", concurrency))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := i
		g.Go(func() error {
			w.consume(gctx, consumer)
			return nil
		})
	}

	err := g.Wait()
	w.logger.Info("worker stopped")
	return err
}

func (w *Worker) consume(ctx context.Context, consumer int) {
	log := w.logger.With(zap.Int("consumer", consumer))
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.jobs.Dequeue(ctx, queue.QueueAssembleRun, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("dequeue failed", zap.Error(err))
			// avoid a hot loop while redis is unreachable
			if sleepCtx(ctx, time.Second) != nil {
				return
			}
			continue
		}
		if job == nil {
			continue
		}

		w.Handle(ctx, job)
	}
}

// Handle validates a queued request and runs it. Failures are recorded in
// the ledger; nothing is returned because the queue has no redelivery.
func (w *Worker) Handle(ctx context.Context, job *queue.Job) {
	log := w.logger.With(zap.String("run_id", job.RunID.String()), zap.String("job_id", job.ID.String()))
	log.Info("processing run")

	spec, err := job.Request.Validate()
	if err != nil {
		log.Warn("rejected queued run", zap.Error(err))
		w.pipeline.record("mark failed", w.pipeline.stages.Recorder.MarkRunFailed(ctx, job.RunID, string(apperrors.KindOf(err)), err.Error()))
		return
	}

	run, err := w.pipeline.Run(ctx, job.RunID, spec)
	if err != nil {
		return
	}
	log.Info("run finished", zap.String("filename", run.FinalFilename))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
