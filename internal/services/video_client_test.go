package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bobarin/longcut/internal/apperrors"
	"github.com/bobarin/longcut/internal/models"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestClient(t *testing.T, baseURL, apiKey string, retries int) *VideoClient {
	t.Helper()
	c := NewVideoClient(VideoClientOptions{BaseURL: baseURL, APIKey: apiKey, Model: "sora-2", MaxRetries: retries}, zap.NewNop())
	c.sleep = noSleep
	return c
}

func testSettings() models.Settings {
	return models.Settings{
		Ratio:        models.RatioLandscape,
		Language:     "ko",
		Voice:        "warm",
		Continuity:   models.ContinuityStrong,
		GlobalPrompt: "A rainy neon city at night.",
	}
}

func TestComposePrompt_FixedOrder(t *testing.T) {
	chars := []models.Character{
		{Name: "Detective", VoiceHint: "low and tired"},
		{Name: "Cat"},
		{Name: "Informant", VoiceHint: "fast"},
	}

	got := ComposePrompt(testSettings(), chars, "The detective enters the bar.")

	want := "A rainy neon city at night.\n" +
		continuityStrongPhrase + "\n" +
		cinematicPhrase + "\n" +
		"Voice hints: Detective:low and tired, Informant:fast\n" +
		"The detective enters the bar."
	assert.Equal(t, want, got)

	// deterministic
	assert.Equal(t, got, ComposePrompt(testSettings(), chars, "The detective enters the bar."))
}

func TestComposePrompt_OmitsEmptyParts(t *testing.T) {
	settings := testSettings()
	settings.GlobalPrompt = ""
	settings.Continuity = models.ContinuityNormal

	got := ComposePrompt(settings, []models.Character{{Name: "A"}}, "scene")
	assert.Equal(t, continuityNormalPhrase+"\n"+cinematicPhrase+"\nscene", got)
}

func TestBuildRequest_FirstCutHasNoContinuity(t *testing.T) {
	c := newTestClient(t, "http://unused", "key", 0)
	req := c.BuildRequest(CutRequest{
		SceneText:   "opening",
		DurationSec: 10,
		Settings:    testSettings(),
		Characters:  []models.Character{{Name: "Hero", ImageURL: "https://cdn/hero.png"}, {Name: "Extra"}},
	})

	assert.Equal(t, "sora-2", req.Model)
	assert.Equal(t, 10, req.DurationSec)
	assert.Empty(t, req.RemixID)
	require.Len(t, req.ReferenceInputs, 1)
	assert.Equal(t, models.ReferenceInput{Type: "image", URL: "https://cdn/hero.png", Role: "Hero"}, req.ReferenceInputs[0])
	assert.Equal(t, models.AudioConfig{Voice: "warm", Language: "ko"}, req.AudioConfig)
}

func TestBuildRequest_ContinuationReferencesPreviousCut(t *testing.T) {
	c := newTestClient(t, "http://unused", "key", 0)
	req := c.BuildRequest(CutRequest{
		SceneText:  "chase",
		Settings:   testSettings(),
		Continuity: models.ContinuityState{PreviousJobID: "job_1", PreviousClipURL: "https://cdn/job_1.mp4"},
	})

	assert.Equal(t, "job_1", req.RemixID)
	require.Len(t, req.ReferenceInputs, 1)
	assert.Equal(t, "video", req.ReferenceInputs[0].Type)
	assert.Equal(t, "previous_context", req.ReferenceInputs[0].Role)
	assert.Equal(t, "https://cdn/job_1.mp4", req.ReferenceInputs[0].URL)
}

func TestBuildRequest_OmitsEmptyReferenceInputsOnWire(t *testing.T) {
	c := newTestClient(t, "http://unused", "key", 0)
	body, err := json.Marshal(c.BuildRequest(CutRequest{SceneText: "x", Settings: testSettings()}))
	require.NoError(t, err)
	assert.NotContains(t, string(body), "reference_inputs")
	assert.NotContains(t, string(body), "remix_id")
}

func TestSubmit_MissingCredential(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "", 0)
	_, err := c.Submit(context.Background(), CutRequest{SceneText: "x", Settings: testSettings()})

	assert.True(t, apperrors.Is(err, apperrors.KindConfig))
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestSubmit_Success(t *testing.T) {
	var got models.GenerationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/videos", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"vid_123"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "secret", 0)
	id, err := c.Submit(context.Background(), CutRequest{SceneText: "x", DurationSec: 25, Settings: testSettings()})

	require.NoError(t, err)
	assert.Equal(t, "vid_123", id)
	assert.Equal(t, 25, got.DurationSec)
	assert.Equal(t, models.RatioLandscape, got.Ratio)
}

func TestSubmit_UpstreamErrorKeepsStatusAndBody(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"ratio not supported"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "secret", 3)
	_, err := c.Submit(context.Background(), CutRequest{SceneText: "x", Settings: testSettings()})

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.KindUpstream, appErr.Kind)
	assert.Equal(t, http.StatusBadRequest, appErr.StatusCode)
	assert.Equal(t, `{"error":"ratio not supported"}`, appErr.Body)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits), "4xx must not be retried")
}

func TestSubmit_RetriesTransientStatus(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"id":"vid_ok"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "secret", 3)
	id, err := c.Submit(context.Background(), CutRequest{SceneText: "x", Settings: testSettings()})

	require.NoError(t, err)
	assert.Equal(t, "vid_ok", id)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestStatus_ParsesPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/videos/vid_9", r.URL.Path)
		w.Write([]byte(`{"id":"vid_9","status":"completed","output_url":"https://cdn/out.mp4"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "secret", 0)
	st, err := c.Status(context.Background(), "vid_9")

	require.NoError(t, err)
	assert.Equal(t, models.JobStateCompleted, st.Status)
	assert.Equal(t, "https://cdn/out.mp4", st.ArtifactURL())
}
