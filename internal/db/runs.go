package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bobarin/longcut/internal/models"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

func (db *DB) CreateRun(ctx context.Context, run *models.RunRecord) error {
	query := `
		INSERT INTO runs (id, status, request)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`

	var request interface{}
	if len(run.Request) > 0 {
		request = []byte(run.Request)
	}

	return db.QueryRowContext(ctx, query, run.ID, run.Status, request).
		Scan(&run.CreatedAt, &run.UpdatedAt)
}

func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (*models.RunRecord, error) {
	query := `
		SELECT
			id, status, request, cut_count, cut_seconds, final_filename,
			error_kind, error_message, started_at, finished_at, created_at, updated_at
		FROM runs
		WHERE id = $1
	`

	run := &models.RunRecord{}
	var request []byte
	err := db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.Status, &request, &run.CutCount, &run.CutSeconds, &run.FinalFilename,
		&run.ErrorKind, &run.ErrorMessage, &run.StartedAt, &run.FinishedAt,
		&run.CreatedAt, &run.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	run.Request = request

	return run, nil
}

// MarkRunRunning records the schedule and start time. It also creates the
// row for runs that were started synchronously without a prior CreateRun.
func (db *DB) MarkRunRunning(ctx context.Context, id uuid.UUID, cutCount, cutSeconds int) error {
	query := `
		INSERT INTO runs (id, status, cut_count, cut_seconds, started_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    cut_count = EXCLUDED.cut_count,
		    cut_seconds = EXCLUDED.cut_seconds,
		    started_at = EXCLUDED.started_at,
		    updated_at = now()
	`
	_, err := db.ExecContext(ctx, query, id, models.RunStatusRunning, cutCount, cutSeconds, time.Now())
	return err
}

func (db *DB) MarkRunSucceeded(ctx context.Context, id uuid.UUID, filename string) error {
	query := `
		UPDATE runs
		SET status = $1, final_filename = $2, finished_at = $3, updated_at = now()
		WHERE id = $4
	`
	_, err := db.ExecContext(ctx, query, models.RunStatusSucceeded, filename, time.Now(), id)
	return err
}

func (db *DB) MarkRunFailed(ctx context.Context, id uuid.UUID, kind, message string) error {
	query := `
		UPDATE runs
		SET status = $1, error_kind = $2, error_message = $3, finished_at = $4, updated_at = now()
		WHERE id = $5
	`
	_, err := db.ExecContext(ctx, query, models.RunStatusFailed, kind, message, time.Now(), id)
	return err
}

// RecordClip upserts the ledger row for one finished cut.
func (db *DB) RecordClip(ctx context.Context, runID uuid.UUID, clip models.Clip, sceneText string) error {
	query := `
		INSERT INTO run_clips (run_id, ordinal, scene_text, job_id, artifact_url)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id, ordinal) DO UPDATE
		SET scene_text = EXCLUDED.scene_text,
		    job_id = EXCLUDED.job_id,
		    artifact_url = EXCLUDED.artifact_url,
		    updated_at = now()
	`

	var artifactURL *string
	if clip.ArtifactURL != "" {
		artifactURL = &clip.ArtifactURL
	}

	_, err := db.ExecContext(ctx, query, runID, clip.Ordinal, sceneText, clip.JobID, artifactURL)
	return err
}

func (db *DB) GetRunClips(ctx context.Context, runID uuid.UUID) ([]models.ClipRecord, error) {
	query := `
		SELECT run_id, ordinal, scene_text, job_id, artifact_url, created_at, updated_at
		FROM run_clips
		WHERE run_id = $1
		ORDER BY ordinal
	`

	rows, err := db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run clips: %w", err)
	}
	defer rows.Close()

	var clips []models.ClipRecord
	for rows.Next() {
		var c models.ClipRecord
		if err := rows.Scan(&c.RunID, &c.Ordinal, &c.SceneText, &c.JobID, &c.ArtifactURL, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run clip: %w", err)
		}
		clips = append(clips, c)
	}

	return clips, rows.Err()
}
