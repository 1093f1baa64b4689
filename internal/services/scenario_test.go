package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingWriter struct{}

func (failingWriter) Name() string { return "failing" }
func (failingWriter) WriteScenes(context.Context, string, int) ([]string, error) {
	return nil, errors.New("quota exceeded")
}

func TestPlaceholderWriter(t *testing.T) {
	scenes, err := PlaceholderWriter{}.WriteScenes(context.Background(), "ignored", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{PlaceholderScene(1), PlaceholderScene(2), PlaceholderScene(3)}, scenes)
}

func TestDraftScenes_FallsBackOnError(t *testing.T) {
	assert.Nil(t, DraftScenes(context.Background(), failingWriter{}, "brief", 4, zap.NewNop()))
	assert.Nil(t, DraftScenes(context.Background(), nil, "brief", 4, zap.NewNop()))
}

func TestParseScenes(t *testing.T) {
	scenes, err := parseScenes("```json\n{\"scenes\": [\" A door opens. \", \"\", \"A cat walks in.\"]}\n```")
	require.NoError(t, err)
	assert.Equal(t, []string{"A door opens.", "A cat walks in."}, scenes)

	_, err = parseScenes(`{"scenes": []}`)
	assert.Error(t, err)

	_, err = parseScenes("not json")
	assert.Error(t, err)
}

func TestOpenAIWriter_WriteScenes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"message": {"role": "assistant", "content": "{\"scenes\":[\"Dawn over the harbor.\",\"A boat leaves the pier.\"]}"},
				"finish_reason": "stop"
			}]
		}`))
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL
	w := newOpenAIWriter(cfg, "", zap.NewNop())

	scenes, err := w.WriteScenes(context.Background(), "a fishing village", 2)

	require.NoError(t, err)
	assert.Equal(t, []string{"Dawn over the harbor.", "A boat leaves the pier."}, scenes)
}
