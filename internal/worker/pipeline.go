package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/bobarin/longcut/internal/apperrors"
	"github.com/bobarin/longcut/internal/models"
	"github.com/bobarin/longcut/internal/services"
	"github.com/bobarin/longcut/internal/storage"
)

// Stage contracts. The services package provides the production
// implementations; tests plug in fakes.

type Submitter interface {
	Submit(ctx context.Context, cut services.CutRequest) (string, error)
}

type CompletionAwaiter interface {
	AwaitCompletion(ctx context.Context, jobID string) (string, error)
}

type WatermarkStripper interface {
	RemoveWatermark(ctx context.Context, input, output string) error
}

type ClipAssembler interface {
	Assemble(ctx context.Context, clips []string, workDir string, startedAt time.Time) (string, error)
}

type Mixer interface {
	Mix(ctx context.Context, assembled string, bgm models.BGMConfig, workDir string) (string, error)
}

// RunRecorder persists run progress. Recording failures are logged and never
// fail the run.
type RunRecorder interface {
	MarkRunRunning(ctx context.Context, id uuid.UUID, cutCount, cutSeconds int) error
	RecordClip(ctx context.Context, runID uuid.UUID, clip models.Clip, sceneText string) error
	MarkRunSucceeded(ctx context.Context, id uuid.UUID, filename string) error
	MarkRunFailed(ctx context.Context, id uuid.UUID, kind, message string) error
}

// Publisher copies a finished artifact to remote storage.
type Publisher interface {
	UploadFile(ctx context.Context, objectPath, localPath, contentType string) error
}

type PipelineOptions struct {
	Plan       string
	CutSeconds int // overrides the plan tier when > 0
	WorkDir    string
	OutputDir  string
}

// Stages bundles the collaborators of a Pipeline. Mixer, Writer, Recorder
// and Publisher are optional.
type Stages struct {
	Submitter Submitter
	Poller    CompletionAwaiter
	Fetcher   services.Downloader
	Watermark WatermarkStripper
	Assembler ClipAssembler
	Mixer     Mixer
	Writer    services.ScenarioWriter
	Recorder  RunRecorder
	Publisher Publisher
}

// Pipeline drives one run from scenario to final artifact, one cut at a time.
type Pipeline struct {
	stages Stages
	opts   PipelineOptions
	logger *zap.Logger
	now    func() time.Time
}

func NewPipeline(stages Stages, opts PipelineOptions, logger *zap.Logger) *Pipeline {
	if stages.Recorder == nil {
		stages.Recorder = nopRecorder{}
	}
	return &Pipeline{
		stages: stages,
		opts:   opts,
		logger: logger.Named("pipeline"),
		now:    time.Now,
	}
}

// Run executes the whole pipeline for spec. The first failing stage aborts
// the run; nothing is left in the output directory in that case.
func (p *Pipeline) Run(ctx context.Context, runID uuid.UUID, spec *models.RunSpec) (*models.PipelineRun, error) {
	run, err := p.run(ctx, runID, spec)
	if err != nil {
		p.logger.Error("run failed",
			zap.String("run_id", runID.String()),
			zap.String("kind", string(apperrors.KindOf(err))),
			zap.String("stage", apperrors.StageOf(err)),
			zap.Error(err))
		p.record("mark failed", p.stages.Recorder.MarkRunFailed(context.WithoutCancel(ctx), runID, string(apperrors.KindOf(err)), err.Error()))
		return nil, err
	}
	p.record("mark succeeded", p.stages.Recorder.MarkRunSucceeded(ctx, runID, run.FinalFilename))
	return run, nil
}

func (p *Pipeline) run(ctx context.Context, runID uuid.UUID, spec *models.RunSpec) (*models.PipelineRun, error) {
	log := p.logger.With(zap.String("run_id", runID.String()))

	schedule, err := p.schedule(ctx, spec)
	if err != nil {
		return nil, err
	}

	run := &models.PipelineRun{
		ID:         runID,
		Scenes:     schedule.Scenes,
		Characters: spec.Characters,
		Settings:   spec.Settings,
		CutSeconds: schedule.CutSeconds,
		StartedAt:  p.now(),
	}
	log.Info("run scheduled",
		zap.Int("cuts", schedule.CutCount),
		zap.Int("cut_seconds", schedule.CutSeconds),
		zap.Int("total_length", spec.TotalLength),
		zap.Int("characters", len(spec.Characters)),
		zap.Bool("bgm", spec.Settings.BGM.Active()))
	p.record("mark running", p.stages.Recorder.MarkRunRunning(ctx, runID, schedule.CutCount, schedule.CutSeconds))

	if err := os.MkdirAll(p.opts.WorkDir, 0755); err != nil {
		return nil, apperrors.Processing("create work dir", err).WithStage("setup")
	}
	workDir, err := os.MkdirTemp(p.opts.WorkDir, "run-"+runID.String()+"-")
	if err != nil {
		return nil, apperrors.Processing("create run work dir", err).WithStage("setup")
	}
	run.WorkDir = workDir
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn("failed to clean work dir", zap.String("dir", workDir), zap.Error(err))
		}
	}()

	for _, scene := range run.Scenes {
		clip, err := p.generateCut(ctx, run, scene)
		if err != nil {
			return nil, err
		}
		run.Clips = append(run.Clips, *clip)
		run.Continuity = models.ContinuityState{PreviousJobID: clip.JobID, PreviousClipURL: clip.ArtifactURL}
		p.record("record clip", p.stages.Recorder.RecordClip(ctx, runID, *clip, scene.Text))
	}

	assemblyStart := p.now()
	processed := lo.Map(run.Clips, func(c models.Clip, _ int) string { return c.ProcessedPath })
	assembled, err := p.stages.Assembler.Assemble(ctx, processed, workDir, assemblyStart)
	if err != nil {
		return nil, err
	}

	final := assembled
	if run.Settings.BGM.Active() && p.stages.Mixer != nil {
		final, err = p.stages.Mixer.Mix(ctx, assembled, run.Settings.BGM, workDir)
		if err != nil {
			return nil, err
		}
	}

	run.FinalFilename = services.ArtifactName(assemblyStart, runID.String())
	run.FinalPath = filepath.Join(p.opts.OutputDir, run.FinalFilename)
	if err := os.MkdirAll(p.opts.OutputDir, 0755); err != nil {
		return nil, apperrors.Processing("create output dir", err).WithStage("publish")
	}
	if err := moveFile(final, run.FinalPath); err != nil {
		return nil, apperrors.Processing("move final artifact", err).WithStage("publish")
	}

	if p.stages.Publisher != nil {
		// The local copy stays authoritative; an upload failure only loses
		// the remote mirror.
		if err := p.stages.Publisher.UploadFile(ctx, storage.ObjectPath(runID, run.FinalFilename), run.FinalPath, "video/mp4"); err != nil {
			log.Warn("failed to publish artifact", zap.Error(err))
		}
	}

	log.Info("run complete",
		zap.String("filename", run.FinalFilename),
		zap.Int("clips", len(run.Clips)),
		zap.Duration("elapsed", p.now().Sub(run.StartedAt)))
	return run, nil
}

// schedule resolves the cut length and count, drafts a scenario when the
// caller sent none, and normalizes scenes to exactly one per cut.
func (p *Pipeline) schedule(ctx context.Context, spec *models.RunSpec) (*services.Schedule, error) {
	cutSec, err := services.ResolveCutSeconds(p.opts.Plan, p.opts.CutSeconds)
	if err != nil {
		return nil, stage(err, "schedule")
	}
	count, err := services.CutCount(spec.TotalLength, cutSec)
	if err != nil {
		return nil, stage(err, "schedule")
	}

	scenario := spec.Scenario
	if !lo.SomeBy(scenario, func(s string) bool { return strings.TrimSpace(s) != "" }) {
		scenario = services.DraftScenes(ctx, p.stages.Writer, spec.Settings.GlobalPrompt, count, p.logger)
	}

	schedule, err := services.NormalizeScenes(spec.TotalLength, cutSec, scenario)
	if err != nil {
		return nil, stage(err, "schedule")
	}
	return schedule, nil
}

// generateCut runs submit, poll, download and watermark removal for one
// scene. It must finish before the next cut starts because the next request
// references this cut's job and artifact.
func (p *Pipeline) generateCut(ctx context.Context, run *models.PipelineRun, scene models.Scene) (*models.Clip, error) {
	log := p.logger.With(zap.String("run_id", run.ID.String()), zap.Int("cut", scene.Index))
	log.Info("generating cut", zap.Int("of", len(run.Scenes)), zap.Bool("continues", !run.Continuity.Empty()))

	jobID, err := p.stages.Submitter.Submit(ctx, services.CutRequest{
		SceneText:   scene.Text,
		DurationSec: run.CutSeconds,
		Settings:    run.Settings,
		Characters:  run.Characters,
		Continuity:  run.Continuity,
	})
	if err != nil {
		return nil, stage(err, "submit")
	}
	log.Info("cut submitted", zap.String("job_id", jobID))

	artifactURL, err := p.stages.Poller.AwaitCompletion(ctx, jobID)
	if err != nil {
		return nil, stage(err, "poll")
	}

	clip := &models.Clip{
		Ordinal:       scene.Index,
		JobID:         jobID,
		ArtifactURL:   artifactURL,
		RawPath:       filepath.Join(run.WorkDir, fmt.Sprintf("cut_%02d_raw.mp4", scene.Index)),
		ProcessedPath: filepath.Join(run.WorkDir, fmt.Sprintf("cut_%02d.mp4", scene.Index)),
	}

	if _, err := p.stages.Fetcher.Download(ctx, artifactURL, clip.RawPath); err != nil {
		return nil, stage(err, "download")
	}
	if err := p.stages.Watermark.RemoveWatermark(ctx, clip.RawPath, clip.ProcessedPath); err != nil {
		return nil, stage(err, "watermark")
	}
	os.Remove(clip.RawPath)

	log.Info("cut ready", zap.String("job_id", jobID))
	return clip, nil
}

func (p *Pipeline) record(op string, err error) {
	if err != nil {
		p.logger.Warn("ledger update failed", zap.String("op", op), zap.Error(err))
	}
}

// stage tags err with the pipeline stage when it has none yet.
func stage(err error, name string) error {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		return apperrors.Wrap(apperrors.KindUnknown, name+" failed", err).WithStage(name)
	}
	return appErr.WithStage(name)
}

// moveFile renames src to dst, copying when they sit on different devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Remove(src)
}

type nopRecorder struct{}

func (nopRecorder) MarkRunRunning(context.Context, uuid.UUID, int, int) error { return nil }
func (nopRecorder) RecordClip(context.Context, uuid.UUID, models.Clip, string) error { return nil }
func (nopRecorder) MarkRunSucceeded(context.Context, uuid.UUID, string) error { return nil }
func (nopRecorder) MarkRunFailed(context.Context, uuid.UUID, string, string) error { return nil }
