package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/bobarin/longcut/internal/apperrors"
	"github.com/bobarin/longcut/internal/models"
)

// ---------------------------------------------------------------------------
// Generative video client
// Deferred request pattern: POST /videos → job id, GET /videos/{id} → status.
// Each cut after the first references the previous job id (remix_id) and the
// previous clip URL (a "previous_context" video reference).
// ---------------------------------------------------------------------------

const (
	defaultVideoModel   = "sora-2"
	videoHTTPTimeout    = 60 * time.Second // per HTTP call, not the full poll cycle
	previousContextRole = "previous_context"

	continuityStrongPhrase = "Continue directly from the previous clip: keep the same characters, faces, wardrobe, location, lighting and camera framing, picking up exactly where the last shot ended."
	continuityNormalPhrase = "Keep continuity with the previous clip: same characters and setting, with the story progressing naturally."
	cinematicPhrase        = "Cinematic quality with consistent character design and color grading across every cut."
)

// CutRequest is everything needed to generate one cut.
type CutRequest struct {
	SceneText   string
	DurationSec int
	Settings    models.Settings
	Characters  []models.Character
	Continuity  models.ContinuityState
}

type VideoClientOptions struct {
	BaseURL    string
	APIKey     string
	Model      string
	MaxRetries int
}

// VideoClient talks to the generative video service.
type VideoClient struct {
	http       *resty.Client
	apiKey     string
	model      string
	maxRetries int
	logger     *zap.Logger
	sleep      sleepFunc
}

func NewVideoClient(opts VideoClientOptions, logger *zap.Logger) *VideoClient {
	model := opts.Model
	if model == "" {
		model = defaultVideoModel
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(videoHTTPTimeout).
		SetHeader("Accept", "application/json")
	if opts.APIKey != "" {
		httpClient.SetAuthToken(opts.APIKey)
	}

	return &VideoClient{
		http:       httpClient,
		apiKey:     opts.APIKey,
		model:      model,
		maxRetries: opts.MaxRetries,
		logger:     logger.Named("video_client"),
		sleep:      sleepCtx,
	}
}

// ComposePrompt joins, in this fixed order: global prompt, continuity
// directive, cinematic phrase, voice hints, scene text. Empty parts are
// skipped.
func ComposePrompt(settings models.Settings, characters []models.Character, sceneText string) string {
	continuity := continuityNormalPhrase
	if settings.Continuity == models.ContinuityStrong {
		continuity = continuityStrongPhrase
	}

	parts := []string{
		strings.TrimSpace(settings.GlobalPrompt),
		continuity,
		cinematicPhrase,
		voiceHintSummary(characters),
		strings.TrimSpace(sceneText),
	}

	return strings.Join(lo.Filter(parts, func(s string, _ int) bool { return s != "" }), "\n")
}

// voiceHintSummary renders "Voice hints: role:hint, role:hint", or "" when
// no character carries a hint.
func voiceHintSummary(characters []models.Character) string {
	hints := lo.FilterMap(characters, func(c models.Character, _ int) (string, bool) {
		return c.Name + ":" + c.VoiceHint, c.VoiceHint != ""
	})
	if len(hints) == 0 {
		return ""
	}
	return "Voice hints: " + strings.Join(hints, ", ")
}

// referenceInputs lists one image per character that has one, then the
// previous clip when the cut continues an earlier one.
func referenceInputs(characters []models.Character, continuity models.ContinuityState) []models.ReferenceInput {
	refs := lo.FilterMap(characters, func(c models.Character, _ int) (models.ReferenceInput, bool) {
		return models.ReferenceInput{Type: "image", URL: c.ImageURL, Role: c.Name}, c.ImageURL != ""
	})
	if continuity.PreviousClipURL != "" {
		refs = append(refs, models.ReferenceInput{Type: "video", URL: continuity.PreviousClipURL, Role: previousContextRole})
	}
	if len(refs) == 0 {
		return nil
	}
	return refs
}

// BuildRequest turns a cut into the wire body for POST /videos.
func (c *VideoClient) BuildRequest(cut CutRequest) models.GenerationRequest {
	return models.GenerationRequest{
		Model:           c.model,
		Prompt:          ComposePrompt(cut.Settings, cut.Characters, cut.SceneText),
		Ratio:           cut.Settings.Ratio,
		DurationSec:     cut.DurationSec,
		RemixID:         cut.Continuity.PreviousJobID,
		ReferenceInputs: referenceInputs(cut.Characters, cut.Continuity),
		AudioConfig: models.AudioConfig{
			Voice:    cut.Settings.Voice,
			Language: cut.Settings.Language,
		},
	}
}

// Submit sends one generation request and returns the opaque job id.
// Transient failures (network, 408/429/5xx gateways) are retried with
// backoff; anything else is returned as-is.
func (c *VideoClient) Submit(ctx context.Context, cut CutRequest) (string, error) {
	if c.apiKey == "" {
		return "", apperrors.Config("no video service credential configured (VIDEO_API_KEY)").WithStage("submit")
	}

	body := c.BuildRequest(cut)
	c.logger.Info("submitting generation",
		zap.Int("prompt_len", len(body.Prompt)),
		zap.Int("duration_sec", body.DurationSec),
		zap.String("ratio", string(body.Ratio)),
		zap.Bool("remix", body.RemixID != ""),
		zap.Int("references", len(body.ReferenceInputs)))

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt)
			c.logger.Warn("retrying submission", zap.Int("attempt", attempt), zap.Duration("wait", delay), zap.Error(lastErr))
			if err := c.sleep(ctx, delay); err != nil {
				return "", apperrors.Wrap(apperrors.KindCancelled, "submission cancelled", err).WithStage("submit")
			}
		}

		jobID, err := c.submitOnce(ctx, body)
		if err == nil {
			return jobID, nil
		}
		lastErr = err
		if ctx.Err() != nil || !apperrors.Retryable(err) {
			break
		}
	}

	return "", lastErr
}

func (c *VideoClient) submitOnce(ctx context.Context, body models.GenerationRequest) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("/videos")
	if err != nil {
		return "", transportError(ctx, "submission request failed", err, "submit")
	}

	if !resp.IsSuccess() {
		return "", apperrors.Upstream("video service rejected submission", resp.StatusCode(), string(resp.Body())).WithStage("submit")
	}

	var sub models.SubmitResponse
	if err := json.Unmarshal(resp.Body(), &sub); err != nil {
		return "", apperrors.Upstream(fmt.Sprintf("unparsable submission response: %v", err), resp.StatusCode(), string(resp.Body())).WithStage("submit")
	}
	if sub.ID == "" {
		return "", apperrors.Upstream("no id in submission response", resp.StatusCode(), string(resp.Body())).WithStage("submit")
	}
	return sub.ID, nil
}

// Status fetches the current state of a job.
func (c *VideoClient) Status(ctx context.Context, jobID string) (*models.JobStatusResponse, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/videos/" + url.PathEscape(jobID))
	if err != nil {
		return nil, transportError(ctx, "status request failed", err, "poll")
	}

	if !resp.IsSuccess() {
		return nil, apperrors.Upstream("video service status check failed", resp.StatusCode(), string(resp.Body())).WithStage("poll")
	}

	var status models.JobStatusResponse
	if err := json.Unmarshal(resp.Body(), &status); err != nil {
		return nil, apperrors.Upstream(fmt.Sprintf("unparsable status response: %v", err), resp.StatusCode(), string(resp.Body())).WithStage("poll")
	}
	status.Raw = resp.Body()
	return &status, nil
}

// transportError classifies a failed round trip: cancellation of the
// caller's context is final, anything else is an upstream transport error.
func transportError(ctx context.Context, message string, err error, stage string) error {
	if ctx.Err() != nil {
		return apperrors.Wrap(apperrors.KindCancelled, message, ctx.Err()).WithStage(stage)
	}
	return apperrors.Wrap(apperrors.KindUpstream, message, err).WithStage(stage)
}
