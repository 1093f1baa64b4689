package services

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/bobarin/longcut/internal/apperrors"
	"github.com/bobarin/longcut/internal/models"
)

// Schedule is the normalized cut plan for one run.
type Schedule struct {
	CutSeconds int
	CutCount   int
	Scenes     []models.Scene
}

// ResolveCutSeconds picks the per-cut duration: an explicit override wins,
// otherwise the plan tier's default.
func ResolveCutSeconds(plan string, override int) (int, error) {
	if override > 0 {
		return override, nil
	}
	secs, ok := models.PlanCutSeconds[strings.ToLower(plan)]
	if !ok {
		return 0, apperrors.Config("unknown plan %q", plan)
	}
	return secs, nil
}

// CutCount returns max(1, ceil(totalLength / cutSec)).
func CutCount(totalLength, cutSec int) (int, error) {
	if totalLength <= 0 {
		return 0, apperrors.Validation("total length must be positive (got %d)", totalLength)
	}
	if cutSec <= 0 {
		return 0, apperrors.Config("cut seconds must be positive (got %d)", cutSec)
	}
	n := (totalLength + cutSec - 1) / cutSec
	if n < 1 {
		n = 1
	}
	return n, nil
}

// PlaceholderScene is the generic continuing-scene line used when the
// caller supplies no scenario.
func PlaceholderScene(index int) string {
	return fmt.Sprintf("Scene %d: continue the story naturally from the previous scene.", index)
}

// NormalizeScenes builds the run's schedule. Blank scenario lines are
// ignored; a short scenario is padded by repeating its last line and a long
// one is cut from the tail, so the result always has exactly CutCount scenes.
func NormalizeScenes(totalLength, cutSec int, scenario []string) (*Schedule, error) {
	count, err := CutCount(totalLength, cutSec)
	if err != nil {
		return nil, err
	}

	lines := lo.FilterMap(scenario, func(s string, _ int) (string, bool) {
		s = strings.TrimSpace(s)
		return s, s != ""
	})

	texts := make([]string, count)
	for i := 0; i < count; i++ {
		switch {
		case len(lines) == 0:
			texts[i] = PlaceholderScene(i + 1)
		case i < len(lines):
			texts[i] = lines[i]
		default:
			texts[i] = lines[len(lines)-1]
		}
	}

	return &Schedule{
		CutSeconds: cutSec,
		CutCount:   count,
		Scenes: lo.Map(texts, func(text string, i int) models.Scene {
			return models.Scene{Index: i + 1, Text: text}
		}),
	}, nil
}
