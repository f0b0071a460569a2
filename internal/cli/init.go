// Package cli holds the startup and shutdown steps shared by the ledger
// binaries: cmd/ledger, cmd/recurring-worker and cmd/ledger-worker.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ledger/internal/backend"
	"ledger/internal/config"
	"ledger/internal/log"
)

// ShutdownTimeout bounds how long a binary waits for in-flight work.
const ShutdownTimeout = 30 * time.Second

// Bootstrap loads the optional .env file, installs the default logger for
// component and returns the validated configuration. It exits the process
// when the configuration is invalid.
func Bootstrap(component string) (*log.Logger, *config.Config) {
	// Missing .env is normal outside local development.
	_ = godotenv.Load()

	logger := log.New(log.ConfigFromEnv(component))
	log.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.ErrorContext(context.Background(), "Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return logger, cfg
}

// OpenBackend builds the configured ledger store or exits the process.
func OpenBackend(ctx context.Context, logger *log.Logger, cfg *config.Config) *backend.BackendResult {
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.ErrorContext(ctx, "Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	be, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to initialize backend", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	return be
}

// WaitForSignal blocks until SIGINT or SIGTERM arrives or ctx is done. It
// returns the signal, or nil when ctx ended the wait.
func WaitForSignal(ctx context.Context) os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		return sig
	case <-ctx.Done():
		return nil
	}
}

// ShutdownContext returns a fresh context bounded by ShutdownTimeout.
func ShutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), ShutdownTimeout)
}
