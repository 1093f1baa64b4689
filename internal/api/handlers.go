package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bobarin/longcut/internal/apperrors"
	"github.com/bobarin/longcut/internal/db"
	"github.com/bobarin/longcut/internal/models"
	"github.com/bobarin/longcut/internal/storage"
)

const (
	signedURLTTL   = 3600 // seconds
	maxRequestBody = 1 << 20
)

// RunExecutor runs the pipeline synchronously.
type RunExecutor interface {
	Run(ctx context.Context, runID uuid.UUID, spec *models.RunSpec) (*models.PipelineRun, error)
}

type RunStore interface {
	CreateRun(ctx context.Context, run *models.RunRecord) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.RunRecord, error)
	GetRunClips(ctx context.Context, runID uuid.UUID) ([]models.ClipRecord, error)
}

type RunQueue interface {
	EnqueueAssembleRun(ctx context.Context, runID uuid.UUID, req *models.CreateRunRequest) error
}

type URLSigner interface {
	GetSignedURL(ctx context.Context, objectPath string, expiresIn int) (string, error)
}

// Deps are the collaborators of a Handler. Only Pipeline is required; leave
// the others nil when the backing service is not configured.
type Deps struct {
	Pipeline  RunExecutor
	Store     RunStore
	Queue     RunQueue
	Storage   URLSigner
	OutputDir string

	// MaxConcurrentRuns bounds synchronous runs in flight.
	MaxConcurrentRuns int
}

type Handler struct {
	pipeline  RunExecutor
	store     RunStore
	queue     RunQueue
	storage   URLSigner
	outputDir string
	slots     chan struct{}
	logger    *zap.Logger
}

func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	slots := deps.MaxConcurrentRuns
	if slots < 1 {
		slots = 1
	}
	return &Handler{
		pipeline:  deps.Pipeline,
		store:     deps.Store,
		queue:     deps.Queue,
		storage:   deps.Storage,
		outputDir: deps.OutputDir,
		slots:     make(chan struct{}, slots),
		logger:    logger.Named("api"),
	}
}

// CreateRun handles POST /v1/runs. By default the request blocks until the
// final artifact exists; ?async=true queues it instead.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, models.ErrorResponse(apperrors.Validation("invalid request body: %v", err)))
		return
	}

	spec, err := req.Validate()
	if err != nil {
		respondJSON(w, http.StatusBadRequest, models.ErrorResponse(err))
		return
	}

	runID := uuid.New()

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		h.enqueueRun(w, r, runID, &req)
		return
	}

	select {
	case h.slots <- struct{}{}:
	case <-r.Context().Done():
		return
	}
	defer func() { <-h.slots }()

	run, err := h.pipeline.Run(r.Context(), runID, spec)
	if err != nil {
		resp := models.ErrorResponse(err)
		resp.RunID = runID.String()
		respondJSON(w, statusForError(err), resp)
		return
	}

	respondJSON(w, http.StatusOK, models.SuccessResponse(runID, run.FinalFilename))
}

func (h *Handler) enqueueRun(w http.ResponseWriter, r *http.Request, runID uuid.UUID, req *models.CreateRunRequest) {
	if h.queue == nil || h.store == nil {
		respondError(w, http.StatusServiceUnavailable, "Async runs need REDIS_URL and DATABASE_URL")
		return
	}

	raw, _ := json.Marshal(req)
	record := &models.RunRecord{
		ID:      runID,
		Status:  models.RunStatusQueued,
		Request: raw,
	}
	if err := h.store.CreateRun(r.Context(), record); err != nil {
		h.logger.Error("failed to create run", zap.String("run_id", runID.String()), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to create run")
		return
	}

	if err := h.queue.EnqueueAssembleRun(r.Context(), runID, req); err != nil {
		h.logger.Error("failed to enqueue run", zap.String("run_id", runID.String()), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to enqueue run")
		return
	}

	respondJSON(w, http.StatusAccepted, models.EnqueueRunResponse{RunID: runID, Status: models.RunStatusQueued})
}

// GetRun handles GET /v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	clips, err := h.store.GetRunClips(r.Context(), run.ID)
	if err != nil {
		h.logger.Error("failed to get run clips", zap.String("run_id", run.ID.String()), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to get clips")
		return
	}

	resp := models.RunDetailResponse{RunRecord: *run, Clips: clips}
	if run.FinalFilename != nil {
		link := downloadPath(*run.FinalFilename, run.ID)
		resp.DownloadURL = &link
	}
	respondJSON(w, http.StatusOK, resp)
}

// GetRunClips handles GET /v1/runs/{id}/clips
func (h *Handler) GetRunClips(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	clips, err := h.store.GetRunClips(r.Context(), run.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get clips")
		return
	}
	if clips == nil {
		clips = []models.ClipRecord{}
	}
	respondJSON(w, http.StatusOK, clips)
}

func (h *Handler) loadRun(w http.ResponseWriter, r *http.Request) (*models.RunRecord, bool) {
	if h.store == nil {
		respondError(w, http.StatusNotImplemented, "Run ledger not configured")
		return nil, false
	}

	runID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid run ID")
		return nil, false
	}

	run, err := h.store.GetRun(r.Context(), runID)
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Run not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("failed to get run", zap.String("run_id", runID.String()), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to get run")
		return nil, false
	}
	return run, true
}

// Download handles GET /v1/download/{filename}. Local artifacts are served
// directly; otherwise, given ?run_id, it redirects to a signed storage URL.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	name, ok := safeFilename(chi.URLParam(r, "filename"))
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid filename")
		return
	}

	localPath := filepath.Join(h.outputDir, name)
	if info, err := os.Stat(localPath); err == nil && info.Mode().IsRegular() {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		http.ServeFile(w, r, localPath)
		return
	}

	runID, err := uuid.Parse(r.URL.Query().Get("run_id"))
	if h.storage == nil || err != nil {
		respondError(w, http.StatusNotFound, "File not found")
		return
	}

	signedURL, err := h.storage.GetSignedURL(r.Context(), storage.ObjectPath(runID, name), signedURLTTL)
	if err != nil {
		h.logger.Warn("failed to sign artifact URL", zap.String("file", name), zap.Error(err))
		respondError(w, http.StatusNotFound, "File not found")
		return
	}
	http.Redirect(w, r, signedURL, http.StatusTemporaryRedirect)
}

// safeFilename accepts a bare file name only, so requests cannot escape the
// output directory.
func safeFilename(raw string) (string, bool) {
	name, err := url.PathUnescape(raw)
	if err != nil {
		return "", false
	}
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return "", false
	}
	return name, true
}

func downloadPath(filename string, runID uuid.UUID) string {
	return "/v1/download/" + url.PathEscape(filename) + "?run_id=" + runID.String()
}

// statusForError maps a failure kind to the HTTP status of the reply.
func statusForError(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindUpstream, apperrors.KindGenerationFailure, apperrors.KindDownload:
		return http.StatusBadGateway
	case apperrors.KindPollTimeout:
		return http.StatusGatewayTimeout
	case apperrors.KindCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, models.RunResponse{Status: "error", Message: message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
