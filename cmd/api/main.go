package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bobarin/longcut/internal/api"
	"github.com/bobarin/longcut/internal/config"
	"github.com/bobarin/longcut/internal/db"
	"github.com/bobarin/longcut/internal/logging"
	"github.com/bobarin/longcut/internal/models"
	"github.com/bobarin/longcut/internal/queue"
	"github.com/bobarin/longcut/internal/services"
	"github.com/bobarin/longcut/internal/storage"
	"github.com/bobarin/longcut/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting longcut",
		zap.String("plan", cfg.Plan),
		zap.Int("cut_seconds_override", cfg.CutSeconds),
		zap.String("video_api", cfg.VideoAPIBaseURL),
		zap.String("scenario_writer", cfg.ScenarioWriter))

	stages := worker.Stages{}
	deps := api.Deps{OutputDir: cfg.OutputDir, MaxConcurrentRuns: cfg.MaxConcurrentRuns}

	var database *db.DB
	if cfg.DatabaseURL != "" {
		database, err = db.New(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer database.Close()
		if err := database.Migrate(ctx); err != nil {
			logger.Fatal("failed to migrate database", zap.Error(err))
		}
		stages.Recorder = database
		deps.Store = database
		logger.Info("run ledger enabled")
	}

	var q *queue.Queue
	if cfg.RedisURL != "" {
		q, err = queue.New(cfg.RedisURL)
		if err != nil {
			logger.Fatal("failed to connect to queue", zap.Error(err))
		}
		defer q.Close()
		deps.Queue = q
		logger.Info("redis queue enabled")
	}

	if cfg.StorageEnabled() {
		stor := storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket, logger)
		stages.Publisher = stor
		deps.Storage = stor
		logger.Info("artifact storage enabled", zap.String("bucket", cfg.SupabaseStorageBucket))
	}

	videoClient := services.NewVideoClient(services.VideoClientOptions{
		BaseURL:    cfg.VideoAPIBaseURL,
		APIKey:     cfg.VideoAPIKey,
		Model:      cfg.VideoModel,
		MaxRetries: cfg.SubmitMaxRetries,
	}, logger)
	if cfg.VideoAPIKey == "" {
		logger.Warn("no VIDEO_API_KEY set, every run will fail at submission")
	}

	fetcher := services.NewArtifactFetcher(cfg.SubmitMaxRetries, logger)
	media := services.NewFFmpeg(logger)

	var encode services.EncodeOptions
	if w, h, ok := models.ParseResolution(cfg.FinalResolution); ok {
		encode = services.EncodeOptions{ScaleWidth: w, ScaleHeight: h}
	}

	stages.Submitter = videoClient
	stages.Poller = services.NewPoller(videoClient, services.PollerOptions{
		Interval:      cfg.PollInterval,
		BackoffFactor: cfg.PollBackoffFactor,
		MaxInterval:   cfg.PollMaxInterval,
		Timeout:       cfg.PollTimeout,
		MaxErrors:     cfg.PollMaxErrors,
	}, logger)
	stages.Fetcher = fetcher
	stages.Watermark = services.NewWatermarkRemover(media, logger)
	stages.Assembler = services.NewAssembler(media, encode, logger)
	stages.Mixer = services.NewAudioMixer(media, fetcher, logger)
	stages.Writer = scenarioWriter(ctx, cfg, logger)

	pipeline := worker.NewPipeline(stages, worker.PipelineOptions{
		Plan:       cfg.Plan,
		CutSeconds: cfg.CutSeconds,
		WorkDir:    cfg.WorkDir,
		OutputDir:  cfg.OutputDir,
	}, logger)
	deps.Pipeline = pipeline

	router := api.NewRouter(api.NewHandler(deps, logger), api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})
	if cfg.BackendAPIKey == "" {
		logger.Warn("no BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	// Sync runs hold the connection open for the whole pipeline, so no
	// write timeout.
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	workerDone := make(chan struct{})
	if cfg.WorkerEnabled && q != nil {
		w := worker.New(q, pipeline, logger)
		go func() {
			defer close(workerDone)
			if err := w.Start(ctx, cfg.MaxConcurrentRuns); err != nil {
				logger.Error("worker stopped with error", zap.Error(err))
			}
		}()
	} else {
		close(workerDone)
	}

	go func() {
		logger.Info("API server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	<-workerDone

	logger.Info("server exited")
}

func scenarioWriter(ctx context.Context, cfg *config.Config, logger *zap.Logger) services.ScenarioWriter {
	switch cfg.ScenarioWriter {
	case "openai":
		return services.NewOpenAIWriter(cfg.OpenAIKey, cfg.OpenAIModel, logger)
	case "gemini":
		w, err := services.NewGeminiWriter(ctx, cfg.GeminiKey, cfg.GeminiModel, logger)
		if err != nil {
			logger.Warn("gemini writer unavailable, using placeholders", zap.Error(err))
			return services.PlaceholderWriter{}
		}
		return w
	default:
		return services.PlaceholderWriter{}
	}
}
