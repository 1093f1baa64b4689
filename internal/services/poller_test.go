package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bobarin/longcut/internal/apperrors"
	"github.com/bobarin/longcut/internal/models"
)

type pollStep struct {
	status *models.JobStatusResponse
	err    error
}

// scriptedChecker replays steps in order and repeats the last one.
type scriptedChecker struct {
	steps []pollStep
	calls int
}

func (s *scriptedChecker) Status(_ context.Context, jobID string) (*models.JobStatusResponse, error) {
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	return s.steps[i].status, s.steps[i].err
}

func pending() pollStep {
	return pollStep{status: &models.JobStatusResponse{Status: models.JobStateRunning}}
}

// newTestPoller wires a fake clock that only advances when the poller sleeps.
func newTestPoller(checker StatusChecker, opts PollerOptions) (*Poller, *[]time.Duration) {
	p := NewPoller(checker, opts, zap.NewNop())
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var waits []time.Duration
	p.now = func() time.Time { return clock }
	p.sleep = func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		waits = append(waits, d)
		clock = clock.Add(d)
		return nil
	}
	return p, &waits
}

func TestAwaitCompletion_ReturnsArtifactURL(t *testing.T) {
	checker := &scriptedChecker{steps: []pollStep{
		pending(),
		pending(),
		{status: &models.JobStatusResponse{Status: models.JobStateCompleted, DownloadURL: "https://cdn/a.mp4"}},
	}}
	p, waits := newTestPoller(checker, PollerOptions{Interval: 4 * time.Second, Timeout: time.Minute})

	url, err := p.AwaitCompletion(context.Background(), "job_1")

	require.NoError(t, err)
	assert.Equal(t, "https://cdn/a.mp4", url)
	assert.Equal(t, 3, checker.calls)
	assert.Equal(t, []time.Duration{4 * time.Second, 4 * time.Second}, *waits)
}

func TestAwaitCompletion_FallsBackToOutputURL(t *testing.T) {
	checker := &scriptedChecker{steps: []pollStep{
		{status: &models.JobStatusResponse{Status: models.JobStateCompleted, OutputURL: "https://cdn/b.mp4"}},
	}}
	p, _ := newTestPoller(checker, PollerOptions{Interval: time.Second})

	url, err := p.AwaitCompletion(context.Background(), "job_1")

	require.NoError(t, err)
	assert.Equal(t, "https://cdn/b.mp4", url)
}

func TestAwaitCompletion_CompletedWithoutURL(t *testing.T) {
	checker := &scriptedChecker{steps: []pollStep{
		{status: &models.JobStatusResponse{Status: models.JobStateCompleted}},
	}}
	p, _ := newTestPoller(checker, PollerOptions{Interval: time.Second})

	_, err := p.AwaitCompletion(context.Background(), "job_1")

	assert.True(t, apperrors.Is(err, apperrors.KindUpstream))
}

func TestAwaitCompletion_FailedJobCarriesPayload(t *testing.T) {
	raw := []byte(`{"id":"job_2","status":"failed","error":"content policy"}`)
	checker := &scriptedChecker{steps: []pollStep{
		pending(),
		{status: &models.JobStatusResponse{Status: models.JobStateFailed, Error: "content policy", Raw: raw}},
	}}
	p, _ := newTestPoller(checker, PollerOptions{Interval: time.Second})

	_, err := p.AwaitCompletion(context.Background(), "job_2")

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.KindGenerationFailure, appErr.Kind)
	assert.Equal(t, string(raw), appErr.Body)
	assert.Equal(t, "poll", appErr.Stage)
}

func TestAwaitCompletion_BackoffIsCapped(t *testing.T) {
	checker := &scriptedChecker{steps: []pollStep{
		pending(), pending(), pending(), pending(),
		{status: &models.JobStatusResponse{Status: models.JobStateCompleted, DownloadURL: "u"}},
	}}
	p, waits := newTestPoller(checker, PollerOptions{
		Interval:      2 * time.Second,
		BackoffFactor: 2,
		MaxInterval:   5 * time.Second,
	})

	_, err := p.AwaitCompletion(context.Background(), "job_1")

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}, *waits)
}

func TestAwaitCompletion_Timeout(t *testing.T) {
	checker := &scriptedChecker{steps: []pollStep{pending()}}
	p, _ := newTestPoller(checker, PollerOptions{Interval: 10 * time.Second, Timeout: 35 * time.Second})

	_, err := p.AwaitCompletion(context.Background(), "job_slow")

	assert.True(t, apperrors.Is(err, apperrors.KindPollTimeout))
	assert.Equal(t, 4, checker.calls)
}

func TestAwaitCompletion_ToleratesTransientErrors(t *testing.T) {
	transient := apperrors.Upstream("gateway", 503, "")
	checker := &scriptedChecker{steps: []pollStep{
		{err: transient},
		{err: transient},
		{status: &models.JobStatusResponse{Status: models.JobStateCompleted, DownloadURL: "u"}},
	}}
	p, _ := newTestPoller(checker, PollerOptions{Interval: time.Second, MaxErrors: 2})

	url, err := p.AwaitCompletion(context.Background(), "job_1")

	require.NoError(t, err)
	assert.Equal(t, "u", url)
}

func TestAwaitCompletion_GivesUpAfterMaxErrors(t *testing.T) {
	checker := &scriptedChecker{steps: []pollStep{{err: apperrors.Upstream("gateway", 502, "")}}}
	p, _ := newTestPoller(checker, PollerOptions{Interval: time.Second, MaxErrors: 2})

	_, err := p.AwaitCompletion(context.Background(), "job_1")

	assert.True(t, apperrors.Is(err, apperrors.KindUpstream))
	assert.Equal(t, 3, checker.calls)
}

func TestAwaitCompletion_NonRetryableErrorIsFinal(t *testing.T) {
	checker := &scriptedChecker{steps: []pollStep{{err: apperrors.Upstream("not found", 404, "")}}}
	p, _ := newTestPoller(checker, PollerOptions{Interval: time.Second, MaxErrors: 5})

	_, err := p.AwaitCompletion(context.Background(), "job_1")

	assert.True(t, apperrors.Is(err, apperrors.KindUpstream))
	assert.Equal(t, 1, checker.calls)
}

func TestAwaitCompletion_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker := &scriptedChecker{steps: []pollStep{pending()}}
	p, _ := newTestPoller(checker, PollerOptions{Interval: time.Second})

	_, err := p.AwaitCompletion(ctx, "job_1")

	assert.True(t, apperrors.Is(err, apperrors.KindCancelled))
	assert.True(t, errors.Is(err, context.Canceled))
}
