package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"ledger/internal/cache"
	"ledger/internal/cli"
	apphttp "ledger/internal/http"
	"ledger/internal/log"
	"ledger/internal/services"
)

func main() {
	logger, cfg := cli.Bootstrap(log.ComponentApp)
	ctx := context.Background()

	be := cli.OpenBackend(ctx, logger, cfg)
	defer func() {
		if err := be.Close(); err != nil {
			logger.ErrorContext(ctx, "Backend cleanup failed", log.FieldError, err)
		}
	}()

	previews := cache.NewLRUCache[services.StatementPreview](cfg.PreviewCacheSize, cfg.PreviewCacheTTL)
	caches := cache.NewManager()
	caches.Register(previews)
	caches.StartCleanup(cfg.PreviewCacheTTL)
	defer caches.Stop()

	executor := services.NewExecutor(be.Store, time.Now)
	svc := services.NewRecurringService(be.Store, executor, previews, be.Publisher)

	srv := apphttp.NewServer(apphttp.Config{
		Addr:               ":" + cfg.Port,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Logger:             logger.WithComponent(log.ComponentHTTP),
		Ready:              be.Ready,
	}, svc)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sig := cli.WaitForSignal(ctx)
		logger.InfoContext(ctx, "Shutdown signal received", "signal", sig.String())

		shutdownCtx, cancel := cli.ShutdownContext()
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.ErrorContext(ctx, "Server shutdown error", log.FieldError, err)
		}
	}()

	logger.InfoContext(ctx, "Starting ledger server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"amqp_enabled", be.Publisher != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.ErrorContext(ctx, "Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	<-done
	logger.InfoContext(ctx, "Server stopped gracefully")
}
