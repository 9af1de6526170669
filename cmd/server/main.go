package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/tendant/simple-assets/pkg/simpleassets"
	"github.com/tendant/simple-assets/pkg/simpleassets/api"
	"github.com/tendant/simple-assets/pkg/simpleassets/config"
)

// ServerEnv holds process settings that are not part of the service config
type ServerEnv struct {
	JWTSecret         string        `env:"JWT_SECRET" env-required:"true"`
	RequestsPerMinute int           `env:"REQUESTS_PER_MINUTE" env-default:"120"`
	MaxUploadBytes    int64         `env:"MAX_UPLOAD_BYTES" env-default:"20971520"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT" env-default:"60s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"30s"`
	LogFormat         string        `env:"LOG_FORMAT" env-default:"text"`
	LogLevel          string        `env:"LOG_LEVEL" env-default:"info"`
	OTLPEndpoint      string        `env:"OTLP_ENDPOINT"`
	OTLPInsecure      bool          `env:"OTLP_INSECURE" env-default:"false"`
	MetricsInterval   time.Duration `env:"METRICS_INTERVAL" env-default:"15s"`
}

func newLogger(env ServerEnv) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(env.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if env.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	var env ServerEnv
	if err := cleanenv.ReadEnv(&env); err != nil {
		slog.Error("Failed to read server environment", "err", err)
		os.Exit(1)
	}

	logger := newLogger(env)
	slog.SetDefault(logger)

	if err := run(env, logger); err != nil {
		logger.Error("Server error", "err", err)
		os.Exit(1)
	}
}

func run(env ServerEnv, logger *slog.Logger) error {
	cfg, err := config.Load(config.WithEnv(""))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx := context.Background()
	meter, shutdownMetrics, err := setupMetrics(ctx, env, cfg.Environment)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(flushCtx); err != nil {
			logger.Warn("Failed to flush metrics", "err", err)
		}
	}()

	rt, err := cfg.Build(ctx,
		simpleassets.WithLogger(logger),
		simpleassets.WithMeter(meter),
	)
	if err != nil {
		return fmt.Errorf("failed to build service: %w", err)
	}
	defer rt.Close()

	tokenAuth := jwtauth.New("HS256", []byte(env.JWTSecret), nil)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(env.RequestTimeout))
	r.Use(jwtauth.Verifier(tokenAuth))
	r.Mount("/", api.NewRouter(rt.Service, identityFromJWT, api.RouterConfig{
		RequestsPerMinute: env.RequestsPerMinute,
		MaxUploadBytes:    env.MaxUploadBytes,
		Logger:            logger,
		HealthCheck:       rt.Ping,
	}))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"database", cfg.DatabaseType,
			"storage", cfg.Storage.Type,
			"locks", cfg.LockType)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	logger.Info("Shutting down server...")

	// In-flight creates hold owner locks; let them finish and release
	shutdownCtx, cancel := context.WithTimeout(context.Background(), env.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exiting")
	return nil
}
