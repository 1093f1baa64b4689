package services

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bobarin/longcut/internal/apperrors"
	"github.com/bobarin/longcut/internal/models"
)

const (
	finalTimestampLayout = "20060102_150405"
	concatListName       = "concat_list.txt"
)

// FinalFilename is the assembled artifact name for an assembly started at t.
func FinalFilename(t time.Time) string {
	return "final_" + t.Format(finalTimestampLayout) + ".mp4"
}

// Assembler concatenates processed clips into one normalized output.
type Assembler struct {
	tool   MediaTool
	opts   EncodeOptions
	logger *zap.Logger
}

func NewAssembler(tool MediaTool, opts EncodeOptions, logger *zap.Logger) *Assembler {
	return &Assembler{tool: tool, opts: opts, logger: logger.Named("assembler")}
}

// Assemble joins clips in exactly the given order into workDir and returns
// the output path. The name derives from startedAt.
func (a *Assembler) Assemble(ctx context.Context, clips []string, workDir string, startedAt time.Time) (string, error) {
	if len(clips) == 0 {
		return "", apperrors.Processing("no clips to assemble", nil).WithStage("assemble")
	}

	output := filepath.Join(workDir, FinalFilename(startedAt))
	a.logger.Info("assembling clips",
		zap.Int("clips", len(clips)),
		zap.String("output", output),
		zap.Bool("scaled", a.opts.scaled()))

	if err := a.tool.Concatenate(ctx, clips, filepath.Join(workDir, concatListName), output, a.opts); err != nil {
		return "", stageError(err, "assemble")
	}
	return output, nil
}

// Downloader fetches a remote file to a local path.
type Downloader interface {
	Download(ctx context.Context, url, destination string) (int64, error)
}

// AudioMixer lays an optional background track under the assembled output.
type AudioMixer struct {
	tool    MediaTool
	fetcher Downloader
	logger  *zap.Logger
}

func NewAudioMixer(tool MediaTool, fetcher Downloader, logger *zap.Logger) *AudioMixer {
	return &AudioMixer{tool: tool, fetcher: fetcher, logger: logger.Named("mixer")}
}

// Mix returns assembled unchanged when bgm is disabled or has no URL.
// Otherwise it downloads the track into workDir and writes a mixed copy next
// to assembled.
func (m *AudioMixer) Mix(ctx context.Context, assembled string, bgm models.BGMConfig, workDir string) (string, error) {
	if !bgm.Active() {
		m.logger.Debug("background audio inactive, skipping mix")
		return assembled, nil
	}

	trackPath := filepath.Join(workDir, "bgm"+trackExt(bgm.URL))
	if _, err := m.fetcher.Download(ctx, bgm.URL, trackPath); err != nil {
		return "", stageError(err, "mix")
	}

	output := strings.TrimSuffix(assembled, filepath.Ext(assembled)) + "_bgm.mp4"
	m.logger.Info("mixing background audio", zap.Float64("volume", bgm.Volume), zap.String("output", output))
	if err := m.tool.MixAudio(ctx, assembled, trackPath, output, bgm.Volume); err != nil {
		return "", stageError(err, "mix")
	}
	return output, nil
}

// trackExt keeps the remote file's extension so ffmpeg can pick the demuxer
// from it, defaulting to .mp3.
func trackExt(rawURL string) string {
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" || len(ext) > 5 {
		return ".mp3"
	}
	return ext
}

// ArtifactName is the published filename for a run's final artifact.
func ArtifactName(startedAt time.Time, runID string) string {
	suffix := runID
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("final_%s_%s.mp4", startedAt.Format(finalTimestampLayout), suffix)
}
