package models

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bobarin/longcut/internal/apperrors"
)

// Plans are subscription tiers with a default per-cut duration.
const (
	PlanPlus = "plus"
	PlanPro  = "pro"
)

var PlanCutSeconds = map[string]int{
	PlanPlus: 10,
	PlanPro:  25,
}

// KnownPlans lists the plan names in a stable order.
func KnownPlans() []string {
	plans := make([]string, 0, len(PlanCutSeconds))
	for p := range PlanCutSeconds {
		plans = append(plans, p)
	}
	sort.Strings(plans)
	return plans
}

// ParseResolution parses "WxH" into positive dimensions.
func ParseResolution(s string) (width, height int, ok bool) {
	w, h, found := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !found {
		return 0, 0, false
	}
	width, err1 := strconv.Atoi(w)
	height, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
		return 0, 0, false
	}
	return width, height, true
}

// Enums

type Ratio string

const (
	RatioLandscape Ratio = "16:9"
	RatioPortrait  Ratio = "9:16"
	RatioSquare    Ratio = "1:1"
)

type ContinuityStrength string

const (
	ContinuityStrong ContinuityStrength = "strong"
	ContinuityNormal ContinuityStrength = "normal"
)

type JobState string

const (
	JobStateSubmitted JobState = "submitted"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Terminal reports whether polling can stop.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run data

type Scene struct {
	Index int    `json:"index"` // 1-based
	Text  string `json:"text"`
}

type Character struct {
	Name      string `json:"name"`
	ImageURL  string `json:"image_url,omitempty"`
	VoiceHint string `json:"voice_hint,omitempty"`
}

type BGMConfig struct {
	Enabled bool    `json:"enabled"`
	URL     string  `json:"url,omitempty"`
	Volume  float64 `json:"volume"`
}

// Active reports whether the mixer should run at all.
func (b BGMConfig) Active() bool {
	return b.Enabled && strings.TrimSpace(b.URL) != ""
}

type Settings struct {
	Ratio        Ratio              `json:"ratio"`
	Language     string             `json:"language"`
	Voice        string             `json:"voice"`
	Continuity   ContinuityStrength `json:"continuity"`
	GlobalPrompt string             `json:"global_prompt,omitempty"`
	BGM          BGMConfig          `json:"bgm"`
}

// ContinuityState links a cut to the one immediately before it.
// The zero value means "first cut".
type ContinuityState struct {
	PreviousJobID   string `json:"previous_job_id,omitempty"`
	PreviousClipURL string `json:"previous_clip_url,omitempty"`
}

func (c ContinuityState) Empty() bool {
	return c.PreviousJobID == "" && c.PreviousClipURL == ""
}

type Clip struct {
	Ordinal       int    `json:"ordinal"`
	JobID         string `json:"job_id"`
	ArtifactURL   string `json:"artifact_url"`
	RawPath       string `json:"raw_path"`
	ProcessedPath string `json:"processed_path"`
}

// RunSpec is a validated caller request, ready for the pipeline.
type RunSpec struct {
	Scenario    []string    `json:"scenario"`
	TotalLength int         `json:"total_length"`
	Characters  []Character `json:"characters"`
	Settings    Settings    `json:"settings"`
}

// PipelineRun is the aggregate state of one assembly run.
type PipelineRun struct {
	ID            uuid.UUID       `json:"id"`
	Scenes        []Scene         `json:"scenes"`
	Characters    []Character     `json:"characters"`
	Settings      Settings        `json:"settings"`
	CutSeconds    int             `json:"cut_seconds"`
	Clips         []Clip          `json:"clips"`
	Continuity    ContinuityState `json:"continuity"`
	WorkDir       string          `json:"-"`
	FinalPath     string          `json:"final_path,omitempty"`
	FinalFilename string          `json:"final_filename,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
}

// Generative service wire schemas

type ReferenceInput struct {
	Type string `json:"type"` // "image" or "video"
	URL  string `json:"url"`
	Role string `json:"role"`
}

type AudioConfig struct {
	Voice    string `json:"voice"`
	Language string `json:"language"`
}

// GenerationRequest is the body for POST /videos.
type GenerationRequest struct {
	Model           string           `json:"model"`
	Prompt          string           `json:"prompt"`
	Ratio           Ratio            `json:"ratio"`
	DurationSec     int              `json:"duration_sec"`
	RemixID         string           `json:"remix_id,omitempty"`
	ReferenceInputs []ReferenceInput `json:"reference_inputs,omitempty"`
	AudioConfig     AudioConfig      `json:"audio_config"`
}

type SubmitResponse struct {
	ID string `json:"id"`
}

// JobStatusResponse is the body of GET /videos/{id}.
type JobStatusResponse struct {
	ID          string   `json:"id,omitempty"`
	Status      JobState `json:"status"`
	DownloadURL string   `json:"download_url,omitempty"`
	OutputURL   string   `json:"output_url,omitempty"`
	Error       string   `json:"error,omitempty"`

	Raw []byte `json:"-"` // full response body, kept for diagnostics
}

// ArtifactURL prefers the dedicated download URL.
func (r JobStatusResponse) ArtifactURL() string {
	if r.DownloadURL != "" {
		return r.DownloadURL
	}
	return r.OutputURL
}

// Ledger records

type RunRecord struct {
	ID            uuid.UUID       `json:"id"`
	Status        RunStatus       `json:"status"`
	Request       json.RawMessage `json:"request,omitempty"`
	CutCount      *int            `json:"cut_count,omitempty"`
	CutSeconds    *int            `json:"cut_seconds,omitempty"`
	FinalFilename *string         `json:"final_filename,omitempty"`
	ErrorKind     *string         `json:"error_kind,omitempty"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type ClipRecord struct {
	RunID       uuid.UUID `json:"run_id"`
	Ordinal     int       `json:"ordinal"`
	SceneText   string    `json:"scene_text"`
	JobID       string    `json:"job_id"`
	ArtifactURL *string   `json:"artifact_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// API DTOs

// CreateRunRequest is the caller-facing body of POST /v1/runs.
type CreateRunRequest struct {
	Scenes         []string    `json:"scenes"`
	TotalLength    int         `json:"total_length"`
	Ratio          string      `json:"ratio,omitempty"`          // Default: "16:9"
	Language       string      `json:"language,omitempty"`       // Default: "en"
	Voice          string      `json:"voice,omitempty"`          // Default: "default"
	Continuity     string      `json:"continuity,omitempty"`     // Default: "normal"
	GlobalPrompt   string      `json:"global_prompt,omitempty"`
	Characters     []Character `json:"characters,omitempty"`
	CharactersJSON string      `json:"characters_json,omitempty"` // form-style alternative to Characters
	BGMEnabled     bool        `json:"bgm_enabled"`
	BGMURL         string      `json:"bgm_url,omitempty"`
	BGMVolume      *float64    `json:"bgm_volume,omitempty"` // Default: 0.2
}

const defaultBGMVolume = 0.2

// Validate checks the request at the edge and returns the normalized spec.
// Every failure is a ValidationError.
func (r *CreateRunRequest) Validate() (*RunSpec, error) {
	if r.TotalLength <= 0 {
		return nil, apperrors.Validation("total_length must be positive (got %d)", r.TotalLength)
	}

	ratio := Ratio(strings.TrimSpace(r.Ratio))
	switch ratio {
	case "":
		ratio = RatioLandscape
	case RatioLandscape, RatioPortrait, RatioSquare:
	default:
		return nil, apperrors.Validation("ratio must be 16:9, 9:16 or 1:1 (got %q)", r.Ratio)
	}

	continuity := ContinuityStrength(strings.ToLower(strings.TrimSpace(r.Continuity)))
	switch continuity {
	case "":
		continuity = ContinuityNormal
	case ContinuityStrong, ContinuityNormal:
	default:
		return nil, apperrors.Validation("continuity must be strong or normal (got %q)", r.Continuity)
	}

	characters := r.Characters
	if len(characters) == 0 && strings.TrimSpace(r.CharactersJSON) != "" {
		if err := json.Unmarshal([]byte(r.CharactersJSON), &characters); err != nil {
			return nil, apperrors.Validation("unparsable character list: %v", err)
		}
	}
	cleaned := make([]Character, 0, len(characters))
	seen := make(map[string]bool, len(characters))
	for i, c := range characters {
		c.Name = strings.TrimSpace(c.Name)
		c.ImageURL = strings.TrimSpace(c.ImageURL)
		c.VoiceHint = strings.TrimSpace(c.VoiceHint)
		if c.Name == "" {
			return nil, apperrors.Validation("character %d has no name", i+1)
		}
		if seen[c.Name] {
			return nil, apperrors.Validation("duplicate character %q", c.Name)
		}
		seen[c.Name] = true
		if c.ImageURL != "" && !isHTTPURL(c.ImageURL) {
			return nil, apperrors.Validation("character %q image_url is not an absolute http(s) URL", c.Name)
		}
		cleaned = append(cleaned, c)
	}

	volume := defaultBGMVolume
	if r.BGMVolume != nil {
		volume = *r.BGMVolume
	}
	if volume < 0 || volume > 1 {
		return nil, apperrors.Validation("bgm_volume must be between 0.0 and 1.0 (got %g)", volume)
	}
	bgmURL := strings.TrimSpace(r.BGMURL)
	if r.BGMEnabled && bgmURL != "" && !isHTTPURL(bgmURL) {
		return nil, apperrors.Validation("bgm_url is not an absolute http(s) URL")
	}

	language := strings.TrimSpace(r.Language)
	if language == "" {
		language = "en"
	}
	voice := strings.TrimSpace(r.Voice)
	if voice == "" {
		voice = "default"
	}

	return &RunSpec{
		Scenario:    append([]string(nil), r.Scenes...),
		TotalLength: r.TotalLength,
		Characters:  cleaned,
		Settings: Settings{
			Ratio:        ratio,
			Language:     language,
			Voice:        voice,
			Continuity:   continuity,
			GlobalPrompt: strings.TrimSpace(r.GlobalPrompt),
			BGM: BGMConfig{
				Enabled: r.BGMEnabled,
				URL:     bgmURL,
				Volume:  volume,
			},
		},
	}, nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// RunResponse is the synchronous reply of POST /v1/runs.
type RunResponse struct {
	Status   string `json:"status"` // "success" or "error"
	Filename string `json:"filename,omitempty"`
	RunID    string `json:"run_id,omitempty"`
	Message  string `json:"message,omitempty"`
}

func SuccessResponse(runID uuid.UUID, filename string) RunResponse {
	return RunResponse{Status: "success", Filename: filename, RunID: runID.String()}
}

func ErrorResponse(err error) RunResponse {
	return RunResponse{Status: "error", Message: err.Error()}
}

type EnqueueRunResponse struct {
	RunID  uuid.UUID `json:"run_id"`
	Status RunStatus `json:"status"`
}

type RunDetailResponse struct {
	RunRecord
	Clips       []ClipRecord `json:"clips,omitempty"`
	DownloadURL *string      `json:"download_url,omitempty"`
}

func (r RunRecord) String() string {
	return fmt.Sprintf("run %s (%s)", r.ID, r.Status)
}
