package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bobarin/longcut/internal/apperrors"
)

func TestWatermarkRect(t *testing.T) {
	tests := []struct {
		w, h int
		want Rect
	}{
		{1920, 1080, Rect{X: 1344, Y: 918, W: 537, H: 140}},
		{1280, 720, Rect{X: 896, Y: 612, W: 358, H: 93}},
		{720, 1280, Rect{X: 504, Y: 1088, W: 201, H: 166}},
		{1, 1, Rect{X: 0, Y: 0, W: 1, H: 1}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, WatermarkRect(tt.w, tt.h), "%dx%d", tt.w, tt.h)
	}
}

func TestWatermarkRect_StaysInsideFrame(t *testing.T) {
	for _, size := range [][2]int{{640, 360}, {1080, 1920}, {1024, 1024}, {3840, 2160}} {
		r := WatermarkRect(size[0], size[1])
		assert.GreaterOrEqual(t, r.X, size[0]*70/100)
		assert.LessOrEqual(t, r.X+r.W, size[0])
		assert.GreaterOrEqual(t, r.Y, size[1]*85/100)
		assert.LessOrEqual(t, r.Y+r.H, size[1])
	}
}

func TestRemoveWatermark_BlursComputedRegion(t *testing.T) {
	tool := &fakeMediaTool{size: FrameSize{1920, 1080}}
	dir := t.TempDir()

	err := NewWatermarkRemover(tool, zap.NewNop()).RemoveWatermark(context.Background(), filepath.Join(dir, "raw.mp4"), filepath.Join(dir, "clean.mp4"))

	require.NoError(t, err)
	require.Len(t, tool.blurred, 1)
	assert.Equal(t, WatermarkRect(1920, 1080), tool.blurred[0])
	assert.FileExists(t, filepath.Join(dir, "clean.mp4"))
}

func TestRemoveWatermark_UnreadableClip(t *testing.T) {
	tool := &fakeMediaTool{probeErr: apperrors.Processing("no readable video frame", errors.New("exit status 1"))}

	err := NewWatermarkRemover(tool, zap.NewNop()).RemoveWatermark(context.Background(), "raw.mp4", "clean.mp4")

	assert.True(t, apperrors.Is(err, apperrors.KindProcessing))
	assert.Equal(t, "watermark", apperrors.StageOf(err))
	assert.Empty(t, tool.blurred)
}

func TestRemoveWatermark_ToolFailure(t *testing.T) {
	tool := &fakeMediaTool{size: FrameSize{640, 360}, blurErr: errors.New("exit status 1")}

	err := NewWatermarkRemover(tool, zap.NewNop()).RemoveWatermark(context.Background(), "raw.mp4", "clean.mp4")

	assert.True(t, apperrors.Is(err, apperrors.KindProcessing))
}
