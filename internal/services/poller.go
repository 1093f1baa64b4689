package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bobarin/longcut/internal/apperrors"
	"github.com/bobarin/longcut/internal/models"
)

// StatusChecker fetches the state of a generation job.
type StatusChecker interface {
	Status(ctx context.Context, jobID string) (*models.JobStatusResponse, error)
}

type PollerOptions struct {
	Interval      time.Duration // first wait between polls
	BackoffFactor float64       // interval multiplier per poll, 1.0 = fixed
	MaxInterval   time.Duration // cap for the backed-off interval
	Timeout       time.Duration // overall budget per job, 0 = unbounded
	MaxErrors     int           // consecutive transient poll failures tolerated
}

// Poller waits for a job to reach a terminal state.
type Poller struct {
	checker StatusChecker
	opts    PollerOptions
	logger  *zap.Logger
	sleep   sleepFunc
	now     func() time.Time
}

func NewPoller(checker StatusChecker, opts PollerOptions, logger *zap.Logger) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 4 * time.Second
	}
	if opts.BackoffFactor < 1.0 {
		opts.BackoffFactor = 1.0
	}
	if opts.MaxInterval < opts.Interval {
		opts.MaxInterval = opts.Interval
	}
	return &Poller{
		checker: checker,
		opts:    opts,
		logger:  logger.Named("poller"),
		sleep:   sleepCtx,
		now:     time.Now,
	}
}

// AwaitCompletion polls jobID until it completes or fails and returns the
// artifact URL. Transient poll failures are tolerated up to MaxErrors in a
// row; a failed job yields GenerationFailure with the full status payload;
// running past Timeout yields PollTimeout.
func (p *Poller) AwaitCompletion(ctx context.Context, jobID string) (string, error) {
	start := p.now()
	var deadline time.Time
	if p.opts.Timeout > 0 {
		deadline = start.Add(p.opts.Timeout)
	}

	interval := p.opts.Interval
	consecutiveErrors := 0

	for poll := 1; ; poll++ {
		status, err := p.checker.Status(ctx, jobID)
		switch {
		case err != nil:
			if apperrors.Is(err, apperrors.KindCancelled) || !apperrors.Retryable(err) {
				return "", err
			}
			consecutiveErrors++
			if consecutiveErrors > p.opts.MaxErrors {
				return "", err
			}
			p.logger.Warn("transient poll failure",
				zap.String("job_id", jobID), zap.Int("poll", poll),
				zap.Int("consecutive_errors", consecutiveErrors), zap.Error(err))

		case status.Status == models.JobStateCompleted:
			artifactURL := status.ArtifactURL()
			if artifactURL == "" {
				return "", apperrors.Upstream("job completed without download_url or output_url", 0, statusPayload(status)).WithStage("poll")
			}
			p.logger.Info("job completed",
				zap.String("job_id", jobID), zap.Int("polls", poll),
				zap.Duration("elapsed", p.now().Sub(start)))
			return artifactURL, nil

		case status.Status == models.JobStateFailed:
			p.logger.Error("job failed", zap.String("job_id", jobID), zap.String("error", status.Error))
			return "", apperrors.GenerationFailure(jobID, statusPayload(status)).WithStage("poll")

		default:
			consecutiveErrors = 0
			p.logger.Debug("job pending",
				zap.String("job_id", jobID), zap.Int("poll", poll),
				zap.String("status", string(status.Status)), zap.Duration("next_poll", interval))
		}

		if !deadline.IsZero() && !p.now().Add(interval).Before(deadline) {
			return "", (&apperrors.Error{
				Kind:    apperrors.KindPollTimeout,
				Message: fmt.Sprintf("job %s not finished after %v (%d polls)", jobID, p.opts.Timeout, poll),
			}).WithStage("poll")
		}

		if err := p.sleep(ctx, interval); err != nil {
			return "", apperrors.Wrap(apperrors.KindCancelled, "polling cancelled", err).WithStage("poll")
		}

		next := time.Duration(float64(interval) * p.opts.BackoffFactor)
		if next > p.opts.MaxInterval {
			next = p.opts.MaxInterval
		}
		interval = next
	}
}

func statusPayload(status *models.JobStatusResponse) string {
	if len(status.Raw) > 0 {
		return string(status.Raw)
	}
	b, _ := json.Marshal(status)
	return string(b)
}
