package api

import (
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/samber/lo"
)

// RouterConfig holds settings for the API router.
type RouterConfig struct {
	// BackendAPIKey guards /v1 via X-API-Key or Authorization: Bearer <key>.
	// Empty disables auth (development mode).
	BackendAPIKey string

	// CorsAllowedOrigins is a comma-separated list; empty allows all.
	CorsAllowedOrigins string
}

func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg.CorsAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)

	r.Route("/v1", func(r chi.Router) {
		if cfg.BackendAPIKey != "" {
			r.Use(APIKeyAuth(cfg.BackendAPIKey))
		}

		r.Post("/runs", h.CreateRun)
		r.Get("/runs/{id}", h.GetRun)
		r.Get("/runs/{id}/clips", h.GetRunClips)
		r.Get("/download/{filename}", h.Download)
	})

	return r
}

func allowedOrigins(raw string) []string {
	origins := lo.FilterMap(strings.Split(raw, ","), func(o string, _ int) (string, bool) {
		o = strings.TrimSpace(o)
		return o, o != ""
	})
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
