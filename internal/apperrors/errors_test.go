package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := Upstream("submit rejected", 400, `{"error":"bad ratio"}`).WithStage("submit")
	assert.Equal(t, `[upstream_error] submit: submit rejected (status 400): {"error":"bad ratio"}`, err.Error())

	cause := errors.New("connection reset")
	wrapped := Wrap(KindDownload, "fetch failed", cause)
	assert.Contains(t, wrapped.Error(), "connection reset")
	assert.True(t, errors.Is(wrapped, cause))
}

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("cut 3: %w", GenerationFailure("job_1", `{"status":"failed"}`))
	assert.Equal(t, KindGenerationFailure, KindOf(err))
	assert.True(t, Is(err, KindGenerationFailure))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestWithStage_KeepsFirstStage(t *testing.T) {
	err := Processing("ffmpeg exited", nil).WithStage("watermark").WithStage("assemble")
	assert.Equal(t, "watermark", StageOf(err))
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", Upstream("busy", 429, ""), true},
		{"bad gateway", Upstream("gw", 502, ""), true},
		{"bad request", Upstream("nope", 400, ""), false},
		{"transport", Wrap(KindUpstream, "request failed", errors.New("EOF")), true},
		{"generation failure", GenerationFailure("j", "{}"), false},
		{"validation", Validation("bad"), false},
		{"download 503", Download("fetch", 503, nil), true},
		{"plain error", errors.New("x"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Retryable(tc.err))
		})
	}
}
