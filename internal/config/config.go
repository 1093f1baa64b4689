package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bobarin/longcut/internal/models"
)

type Config struct {
	// Server
	APIPort            string `yaml:"api_port"`
	WorkerEnabled      bool   `yaml:"worker_enabled"`
	BackendAPIKey      string `yaml:"backend_api_key"`      // empty = no auth, dev mode
	CorsAllowedOrigins string `yaml:"cors_allowed_origins"` // comma-separated, empty = *
	MaxConcurrentRuns  int    `yaml:"max_concurrent_runs"`

	// Run ledger (optional)
	DatabaseURL string `yaml:"database_url"`

	// Async queue (optional)
	RedisURL string `yaml:"redis_url"`

	// Supabase artifact storage (optional)
	SupabaseURL           string `yaml:"supabase_url"`
	SupabaseServiceKey    string `yaml:"supabase_service_key"`
	SupabaseStorageBucket string `yaml:"supabase_storage_bucket"`

	// Generative video service
	VideoAPIBaseURL string `yaml:"video_api_base_url"`
	VideoAPIKey     string `yaml:"video_api_key"` // checked at submit time, not here
	VideoModel      string `yaml:"video_model"`

	// Cut sizing
	Plan            string `yaml:"plan"`             // "plus" or "pro"
	CutSeconds      int    `yaml:"cut_seconds"`      // >0 overrides the plan default
	FinalResolution string `yaml:"final_resolution"` // "WxH", empty = keep source size

	// Polling / retries
	PollInterval      time.Duration `yaml:"poll_interval"`
	PollBackoffFactor float64       `yaml:"poll_backoff_factor"` // 1.0 = fixed interval
	PollMaxInterval   time.Duration `yaml:"poll_max_interval"`
	PollTimeout       time.Duration `yaml:"poll_timeout"`
	PollMaxErrors     int           `yaml:"poll_max_errors"`
	SubmitMaxRetries  int           `yaml:"submit_max_retries"`

	// Filesystem
	WorkDir   string `yaml:"work_dir"`
	OutputDir string `yaml:"output_dir"`

	// Scenario drafting when the caller sends no scenes
	ScenarioWriter string `yaml:"scenario_writer"` // "placeholder", "openai", "gemini"
	OpenAIKey      string `yaml:"openai_api_key"`
	OpenAIModel    string `yaml:"openai_model"`
	GeminiKey      string `yaml:"gemini_api_key"`
	GeminiModel    string `yaml:"gemini_model"`

	// Logging
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

func defaults() *Config {
	return &Config{
		APIPort:               "8080",
		WorkerEnabled:         true,
		MaxConcurrentRuns:     2,
		SupabaseStorageBucket: "longcut-videos",
		VideoAPIBaseURL:       "https://api.sora.openai.com/v1",
		VideoModel:            "sora-2",
		Plan:                  models.PlanPlus,
		PollInterval:          4 * time.Second,
		PollBackoffFactor:     1.0,
		PollMaxInterval:       30 * time.Second,
		PollTimeout:           20 * time.Minute,
		PollMaxErrors:         5,
		SubmitMaxRetries:      3,
		WorkDir:               "/tmp/longcut/work",
		OutputDir:             "/tmp/longcut/output",
		ScenarioWriter:        "placeholder",
		OpenAIModel:           "gpt-5-mini",
		GeminiModel:           "gemini-2.5-flash",
		LogLevel:              "info",
	}
}

// Load builds the configuration once for the process: defaults, then the
// optional CONFIG_FILE (YAML), then environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.APIPort = getEnv("API_PORT", cfg.APIPort)
	cfg.WorkerEnabled = getEnvBool("WORKER_ENABLED", cfg.WorkerEnabled)
	cfg.BackendAPIKey = getEnv("BACKEND_API_KEY", cfg.BackendAPIKey)
	cfg.CorsAllowedOrigins = getEnv("CORS_ALLOWED_ORIGINS", cfg.CorsAllowedOrigins)
	cfg.MaxConcurrentRuns = getEnvInt("MAX_CONCURRENT_RUNS", cfg.MaxConcurrentRuns)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.SupabaseURL = getEnv("SUPABASE_URL", cfg.SupabaseURL)
	cfg.SupabaseServiceKey = getEnv("SUPABASE_SERVICE_KEY", cfg.SupabaseServiceKey)
	cfg.SupabaseStorageBucket = getEnv("SUPABASE_STORAGE_BUCKET", cfg.SupabaseStorageBucket)
	cfg.VideoAPIBaseURL = getEnv("VIDEO_API_BASE_URL", cfg.VideoAPIBaseURL)
	cfg.VideoAPIKey = getEnv("VIDEO_API_KEY", getEnv("SORA_TOKEN", cfg.VideoAPIKey))
	cfg.VideoModel = getEnv("VIDEO_MODEL", cfg.VideoModel)
	cfg.Plan = strings.ToLower(getEnv("PLAN", cfg.Plan))
	cfg.CutSeconds = getEnvInt("CUT_SECONDS", cfg.CutSeconds)
	cfg.FinalResolution = getEnv("FINAL_RESOLUTION", cfg.FinalResolution)
	cfg.PollInterval = getEnvDuration("POLL_INTERVAL", cfg.PollInterval)
	cfg.PollBackoffFactor = getEnvFloat("POLL_BACKOFF_FACTOR", cfg.PollBackoffFactor)
	cfg.PollMaxInterval = getEnvDuration("POLL_MAX_INTERVAL", cfg.PollMaxInterval)
	cfg.PollTimeout = getEnvDuration("POLL_TIMEOUT", cfg.PollTimeout)
	cfg.PollMaxErrors = getEnvInt("POLL_MAX_ERRORS", cfg.PollMaxErrors)
	cfg.SubmitMaxRetries = getEnvInt("SUBMIT_MAX_RETRIES", cfg.SubmitMaxRetries)
	cfg.WorkDir = getEnv("WORK_DIR", cfg.WorkDir)
	cfg.OutputDir = getEnv("OUTPUT_DIR", cfg.OutputDir)
	cfg.ScenarioWriter = strings.ToLower(getEnv("SCENARIO_WRITER", cfg.ScenarioWriter))
	cfg.OpenAIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIKey)
	cfg.OpenAIModel = getEnv("OPENAI_MODEL", cfg.OpenAIModel)
	cfg.GeminiKey = getEnv("GEMINI_API_KEY", cfg.GeminiKey)
	cfg.GeminiModel = getEnv("GEMINI_MODEL", cfg.GeminiModel)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints. The video API key is not required
// here; a missing credential surfaces as a ConfigError on first submission.
func (c *Config) Validate() error {
	if _, ok := models.PlanCutSeconds[c.Plan]; !ok && c.CutSeconds <= 0 {
		return fmt.Errorf("PLAN must be one of %s (got %q)", strings.Join(models.KnownPlans(), ", "), c.Plan)
	}
	if c.CutSeconds < 0 {
		return fmt.Errorf("CUT_SECONDS must be positive")
	}
	if c.FinalResolution != "" {
		if _, _, ok := models.ParseResolution(c.FinalResolution); !ok {
			return fmt.Errorf("FINAL_RESOLUTION must look like 1920x1080 (got %q)", c.FinalResolution)
		}
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.PollBackoffFactor < 1.0 {
		return fmt.Errorf("POLL_BACKOFF_FACTOR must be >= 1.0")
	}
	if c.MaxConcurrentRuns < 1 {
		return fmt.Errorf("MAX_CONCURRENT_RUNS must be at least 1")
	}

	switch c.ScenarioWriter {
	case "", "placeholder":
	case "openai":
		if c.OpenAIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when SCENARIO_WRITER=openai")
		}
	case "gemini":
		if c.GeminiKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when SCENARIO_WRITER=gemini")
		}
	default:
		return fmt.Errorf("SCENARIO_WRITER must be placeholder, openai or gemini (got %q)", c.ScenarioWriter)
	}

	if (c.SupabaseURL == "") != (c.SupabaseServiceKey == "") {
		return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY must be set together")
	}

	return nil
}

// StorageEnabled reports whether final artifacts are mirrored to Supabase.
func (c *Config) StorageEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read CONFIG_FILE %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse CONFIG_FILE %s: %w", path, err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("4s", "2m") or bare seconds ("4").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
