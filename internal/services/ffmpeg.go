package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/bobarin/longcut/internal/apperrors"
)

// ---------------------------------------------------------------------------
// Media tool abstraction
// Pipeline stages talk to MediaTool; FFmpeg is the production implementation
// and tests substitute a fake.
// ---------------------------------------------------------------------------

// FrameSize is the pixel size of a video stream.
type FrameSize struct {
	Width  int
	Height int
}

// Rect is a pixel rectangle anchored at its top-left corner.
type Rect struct {
	X, Y, W, H int
}

// EncodeOptions controls the final re-encode during concatenation.
type EncodeOptions struct {
	ScaleWidth  int // 0 keeps the source size
	ScaleHeight int
}

func (o EncodeOptions) scaled() bool {
	return o.ScaleWidth > 0 && o.ScaleHeight > 0
}

type MediaTool interface {
	ProbeFrameSize(ctx context.Context, path string) (FrameSize, error)
	BlurRegion(ctx context.Context, input, output string, region Rect) error
	Concatenate(ctx context.Context, inputs []string, listPath, output string, opts EncodeOptions) error
	MixAudio(ctx context.Context, videoPath, audioPath, output string, volume float64) error
}

const (
	videoCRF     = "18"
	audioCodec   = "aac"
	audioBitrate = "192k"

	blurPower     = 3
	stderrTailLen = 2048
)

// FFmpeg shells out to the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	ffmpegBin  string
	ffprobeBin string
	logger     *zap.Logger
}

func NewFFmpeg(logger *zap.Logger) *FFmpeg {
	return &FFmpeg{
		ffmpegBin:  "ffmpeg",
		ffprobeBin: "ffprobe",
		logger:     logger.Named("ffmpeg"),
	}
}

// ProbeFrameSize reads width and height of the first video stream.
func (f *FFmpeg) ProbeFrameSize(ctx context.Context, path string) (FrameSize, error) {
	cmd := exec.CommandContext(ctx, f.ffprobeBin, probeArgs(path)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return FrameSize{}, apperrors.Processing(fmt.Sprintf("ffprobe %s: %s", path, tail(stderr.String())), err)
	}
	size, err := parseFrameSize(string(out))
	if err != nil {
		return FrameSize{}, apperrors.Processing(fmt.Sprintf("no readable video frame in %s", path), err)
	}
	return size, nil
}

func (f *FFmpeg) BlurRegion(ctx context.Context, input, output string, region Rect) error {
	return f.run(ctx, "blur", blurArgs(input, output, region))
}

// Concatenate joins inputs in the given order through the concat demuxer.
// listPath receives the demuxer list and is left for the caller to clean up
// with the rest of its working directory.
func (f *FFmpeg) Concatenate(ctx context.Context, inputs []string, listPath, output string, opts EncodeOptions) error {
	if len(inputs) == 0 {
		return apperrors.Processing("no clips to concatenate", nil)
	}
	list, err := concatList(inputs)
	if err != nil {
		return apperrors.Processing("resolve clip paths", err)
	}
	if err := os.WriteFile(listPath, []byte(list), 0644); err != nil {
		return apperrors.Processing("write concat list", err)
	}
	return f.run(ctx, "concat", concatArgs(listPath, output, opts))
}

// MixAudio lays audioPath under videoPath. A video without an audio stream
// gets the background track alone, cut to the video's length.
func (f *FFmpeg) MixAudio(ctx context.Context, videoPath, audioPath, output string, volume float64) error {
	withAudio, err := f.hasAudio(ctx, videoPath)
	if err != nil {
		return err
	}
	return f.run(ctx, "mix", mixArgs(videoPath, audioPath, output, volume, withAudio))
}

func (f *FFmpeg) hasAudio(ctx context.Context, path string) (bool, error) {
	cmd := exec.CommandContext(ctx, f.ffprobeBin, audioProbeArgs(path)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return false, apperrors.Wrap(apperrors.KindCancelled, "ffprobe interrupted", ctx.Err())
		}
		return false, apperrors.Processing(fmt.Sprintf("ffprobe %s: %s", path, tail(stderr.String())), err)
	}
	return strings.TrimSpace(string(out)) != "", nil
}

func (f *FFmpeg) run(ctx context.Context, op string, args []string) error {
	f.logger.Debug("running ffmpeg", zap.String("op", op), zap.Strings("args", args))

	cmd := exec.CommandContext(ctx, f.ffmpegBin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return apperrors.Wrap(apperrors.KindCancelled, "ffmpeg "+op+" interrupted", ctx.Err())
		}
		return apperrors.Processing(fmt.Sprintf("ffmpeg %s failed: %s", op, tail(stderr.String())), err)
	}
	return nil
}

// Argument builders. Kept pure so the exact invocations are testable.

func probeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=s=x:p=0",
		path,
	}
}

func audioProbeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=index",
		"-of", "csv=p=0",
		path,
	}
}

// parseFrameSize parses ffprobe's "WxH" output.
func parseFrameSize(out string) (FrameSize, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	w, h, ok := strings.Cut(strings.TrimSpace(line), "x")
	if !ok {
		return FrameSize{}, fmt.Errorf("unexpected ffprobe output %q", out)
	}
	width, err1 := strconv.Atoi(w)
	height, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
		return FrameSize{}, fmt.Errorf("unexpected ffprobe output %q", out)
	}
	return FrameSize{Width: width, Height: height}, nil
}

// blurFilter crops the region, box-blurs it and overlays it back in place.
func blurFilter(r Rect) string {
	radius := r.W
	if r.H < radius {
		radius = r.H
	}
	radius /= 5
	if radius < 1 {
		radius = 1
	}
	return fmt.Sprintf(
		"[0:v]split[base][patch];[patch]crop=%d:%d:%d:%d,boxblur=%d:%d[blurred];[base][blurred]overlay=%d:%d[v]",
		r.W, r.H, r.X, r.Y, radius, blurPower, r.X, r.Y,
	)
}

func blurArgs(input, output string, r Rect) []string {
	return []string{
		"-i", input,
		"-filter_complex", blurFilter(r),
		"-map", "[v]",
		"-map", "0:a?", // audio passes through untouched when present
		"-c:v", "libx264",
		"-crf", videoCRF,
		"-pix_fmt", "yuv420p",
		"-c:a", "copy",
		"-y",
		output,
	}
}

// concatList renders the concat demuxer list, one entry per input, in order.
// Entries are absolute: the demuxer resolves relative ones against the
// list's own directory.
func concatList(inputs []string) (string, error) {
	var b strings.Builder
	for _, p := range inputs {
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	return b.String(), nil
}

func concatArgs(listPath, output string, opts EncodeOptions) []string {
	vf := "format=yuv420p"
	if opts.scaled() {
		vf = fmt.Sprintf("scale=%d:%d:flags=lanczos,%s", opts.ScaleWidth, opts.ScaleHeight, vf)
	}
	return []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-vf", vf,
		"-c:v", "libx264",
		"-crf", videoCRF,
		"-c:a", audioCodec,
		"-b:a", audioBitrate,
		"-y",
		output,
	}
}

// mixFilter keeps the assembled audio at full level and lays the background
// track under it at volume; the output lasts as long as the longer input.
// Without source audio the background track is the only input.
func mixFilter(volume float64, withSourceAudio bool) string {
	vol := strconv.FormatFloat(volume, 'f', -1, 64)
	if !withSourceAudio {
		return fmt.Sprintf("[1:a]volume=%s[aout]", vol)
	}
	return fmt.Sprintf(
		"[1:a]volume=%s[bgm];[0:a][bgm]amix=inputs=2:duration=longest:dropout_transition=2:normalize=0[aout]",
		vol,
	)
}

func mixArgs(videoPath, audioPath, output string, volume float64, withSourceAudio bool) []string {
	args := []string{
		"-i", videoPath,
		"-i", audioPath,
		"-filter_complex", mixFilter(volume, withSourceAudio),
		"-map", "0:v",
		"-map", "[aout]",
		"-c:v", "copy",
		"-c:a", audioCodec,
		"-b:a", audioBitrate,
	}
	if !withSourceAudio {
		args = append(args, "-shortest")
	}
	return append(args, "-y", output)
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= stderrTailLen {
		return s
	}
	return "..." + s[len(s)-stderrTailLen:]
}
