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

	"github.com/iacamera/iacamera/internal/config"
	"github.com/iacamera/iacamera/internal/handler"
	"github.com/iacamera/iacamera/internal/logging"
	"github.com/iacamera/iacamera/internal/metrics"
	"github.com/iacamera/iacamera/internal/repository"
	"github.com/iacamera/iacamera/internal/service"
	"github.com/iacamera/iacamera/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Setup("INFO", "json")
		logging.Fatal("invalid configuration", "error", err)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	// run returns only after its deferred cleanup has finished.
	if err := run(cfg); err != nil {
		logging.Fatal("server error", "error", err)
	}
}

func run(cfg *config.Config) error {
	ctx := context.Background()

	repo, closeDB, err := openRepository(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open metadata store (%s): %w", cfg.DatabaseDriver, err)
	}
	defer closeDB()

	store := storage.NewLocalStorage(cfg.UploadDir)
	if err := os.MkdirAll(store.Root(), 0o755); err != nil {
		return fmt.Errorf("create upload root %s: %w", store.Root(), err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observer, err := metrics.NewIngestObserver(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	imageService := service.NewImageService(store, repo, observer)

	h := handler.New(repo, cfg.AllowedOrigin)
	imageHandler := handler.NewImageHandler(imageService, cfg.MaxUploadBytes)

	var limiter *handler.RateLimiter
	if cfg.RateLimitPerMinute > 0 {
		limiter = handler.NewRateLimiter(cfg.RateLimitPerMinute, 0)
		defer limiter.Stop()
	}

	server := &http.Server{
		Addr: cfg.Addr(),
		Handler: h.Router(imageHandler, handler.RouterOptions{
			MaxUploadBytes: cfg.MaxUploadBytes,
			Limiter:        limiter,
			Metrics:        metrics.Handler(reg),
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	slog.Info("server listening",
		"addr", server.Addr,
		"upload_dir", store.Root(),
		"driver", cfg.DatabaseDriver,
		"max_upload_bytes", cfg.MaxUploadBytes,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	return serve(server, quit)
}

// serve runs srv until it fails or a signal arrives on quit, then shuts it
// down gracefully. A listen error is returned instead of exiting.
func serve(srv *http.Server, quit <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	return nil
}

// openRepository connects the configured metadata store and returns it with
// its close function.
func openRepository(ctx context.Context, cfg *config.Config) (repository.ImageRepository, func(), error) {
	switch cfg.DatabaseDriver {
	case config.DriverSQLite:
		db, err := repository.OpenSQLite(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		repo := repository.NewSQLiteImageRepository(db)
		return repo, closeSQLite(repo), nil
	default:
		pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewPgImageRepository(pool), pool.Close, nil
	}
}

func closeSQLite(repo *repository.SQLiteImageRepository) func() {
	return func() {
		if err := repo.Close(); err != nil {
			slog.Warn("failed to close sqlite", "error", err)
		}
	}
}
