package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/bobarin/longcut/internal/apperrors"
)

// WatermarkRect returns the bottom-right region where the provider stamps
// its watermark: x in [0.70w, 0.98w], y in [0.85h, 0.98h].
func WatermarkRect(width, height int) Rect {
	x0, x1 := width*70/100, width*98/100
	y0, y1 := height*85/100, height*98/100
	r := Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
	if r.W < 1 {
		r.W = 1
	}
	if r.H < 1 {
		r.H = 1
	}
	return r
}

// WatermarkRemover blurs the watermark region of a clip for its whole duration.
type WatermarkRemover struct {
	tool   MediaTool
	logger *zap.Logger
}

func NewWatermarkRemover(tool MediaTool, logger *zap.Logger) *WatermarkRemover {
	return &WatermarkRemover{tool: tool, logger: logger.Named("watermark")}
}

func (w *WatermarkRemover) RemoveWatermark(ctx context.Context, input, output string) error {
	size, err := w.tool.ProbeFrameSize(ctx, input)
	if err != nil {
		return stageError(err, "watermark")
	}

	region := WatermarkRect(size.Width, size.Height)
	w.logger.Debug("blurring watermark",
		zap.String("input", input),
		zap.Int("width", size.Width), zap.Int("height", size.Height),
		zap.Int("x", region.X), zap.Int("y", region.Y),
		zap.Int("w", region.W), zap.Int("h", region.H))

	if err := w.tool.BlurRegion(ctx, input, output, region); err != nil {
		return stageError(err, "watermark")
	}
	return nil
}

// stageError tags err with stage, converting foreign errors into processing
// failures so callers always see an *apperrors.Error.
func stageError(err error, stage string) error {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		appErr = apperrors.Processing(stage+" failed", err)
	}
	return appErr.WithStage(stage)
}
