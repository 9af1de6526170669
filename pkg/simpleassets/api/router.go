package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/tendant/simple-assets/pkg/simpleassets"
)

// RouterConfig tunes NewRouter. Zero values disable rate limiting and use
// DefaultMaxUploadBytes.
type RouterConfig struct {
	RequestsPerMinute int
	MaxUploadBytes    int64
	Logger            *slog.Logger

	// HealthCheck backs GET /healthz; nil always reports ok
	HealthCheck func(ctx context.Context) error
}

// NewRouter mounts the asset routes under /assets behind authentication.
// GET /healthz is public.
func NewRouter(service simpleassets.Service, auth AuthenticationFunc, cfg RouterConfig) chi.Router {
	handler := NewAssetHandler(service)
	if cfg.MaxUploadBytes > 0 {
		handler.WithMaxUploadBytes(cfg.MaxUploadBytes)
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoveryMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.HealthCheck != nil {
			if err := cfg.HealthCheck(r.Context()); err != nil {
				slog.Warn("Health check failed", "error", err)
				writeError(w, r, http.StatusServiceUnavailable, "unhealthy", err.Error())
				return
			}
		}
		render.JSON(w, r, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthenticationMiddleware(auth))
		if cfg.RequestsPerMinute > 0 {
			r.Use(NewRateLimiter(cfg.RequestsPerMinute).Middleware)
		}
		r.Mount("/assets", handler.Routes())
	})

	return r
}
