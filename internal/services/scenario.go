package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ScenarioWriter drafts scene lines when the caller supplied none.
type ScenarioWriter interface {
	Name() string
	WriteScenes(ctx context.Context, brief string, count int) ([]string, error)
}

// PlaceholderWriter produces the generic continuation scenes.
type PlaceholderWriter struct{}

func (PlaceholderWriter) Name() string { return "placeholder" }

func (PlaceholderWriter) WriteScenes(_ context.Context, _ string, count int) ([]string, error) {
	return lo.Times(count, func(i int) string { return PlaceholderScene(i + 1) }), nil
}

// DraftScenes asks w for count scene lines. Any failure is logged and
// yields nil, which the scheduler turns into placeholders.
func DraftScenes(ctx context.Context, w ScenarioWriter, brief string, count int, logger *zap.Logger) []string {
	if w == nil || count <= 0 {
		return nil
	}
	scenes, err := w.WriteScenes(ctx, brief, count)
	if err != nil {
		logger.Warn("scenario writer failed, using placeholders", zap.String("writer", w.Name()), zap.Error(err))
		return nil
	}
	logger.Info("drafted scenario", zap.String("writer", w.Name()), zap.Int("scenes", len(scenes)), zap.Int("wanted", count))
	return scenes
}

func scenarioPrompt(brief string, count int) string {
	if strings.TrimSpace(brief) == "" {
		brief = "An original short story with a clear beginning, middle and end."
	}
	return fmt.Sprintf(`Write a storyboard of exactly %d consecutive scenes for a video.
Each scene is one shot lasting a few seconds; describe what is seen and heard in one or two sentences.
Consecutive scenes must flow into each other with the same characters and setting unless the story moves on.

Story brief:
%s

Respond with JSON only: {"scenes": ["scene 1", "scene 2", ...]}`, count, strings.TrimSpace(brief))
}

type scenarioResponse struct {
	Scenes []string `json:"scenes"`
}

// parseScenes reads {"scenes":[...]} from a model reply, tolerating a
// markdown code fence around it.
func parseScenes(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var resp scenarioResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w (raw: %s)", err, truncate(raw, 200))
	}
	scenes := lo.FilterMap(resp.Scenes, func(s string, _ int) (string, bool) {
		s = strings.TrimSpace(s)
		return s, s != ""
	})
	if len(scenes) == 0 {
		return nil, fmt.Errorf("scenario has no scenes")
	}
	return scenes, nil
}
