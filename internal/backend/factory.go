package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"ledger/internal/amqp"
	"ledger/internal/ledger"
	"ledger/internal/ledger/memory"
	"ledger/internal/storage"
)

type DefaultFactory struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger, now: time.Now}
}

func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(ctx context.Context, config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	seeded, err := f.seedAccounts(ctx, repo, config.DataDirectory)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	result := &BackendResult{Store: repo, Ready: repo.Ping}

	// AMQP is optional; the mirror worker's backup scan covers a missing broker.
	var amqpClient *amqp.Client
	if config.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without sync", "error", err)
			amqpClient = nil
		} else {
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
			result.Publisher = amqpClient
		}
	}

	result.Cleanup = func() error {
		var errs []error
		if amqpClient != nil {
			errs = append(errs, amqpClient.Close())
		}
		errs = append(errs, repo.Close())
		return errors.Join(errs...)
	}

	f.logger.Info("Initialized SQLite backend",
		"db_path", config.SQLiteDBPath,
		"seeded_accounts", seeded,
		"amqp_enabled", amqpClient != nil)
	return result, nil
}

// seedAccounts creates the accounts of dir/seed_accounts.txt that the store
// does not have yet. Existing balances are never overwritten.
func (f *DefaultFactory) seedAccounts(ctx context.Context, repo *storage.SQLiteRepository, dir string) (int, error) {
	if dir == "" {
		return 0, nil
	}
	accounts, err := ledger.LoadAccounts(filepath.Join(dir, "seed_accounts.txt"), ledger.DemoTenant)
	if err != nil {
		return 0, fmt.Errorf("load seed accounts: %w", err)
	}

	seeded := 0
	for _, a := range accounts {
		_, err := repo.FindAccount(ctx, a.ID, a.TenantID)
		switch {
		case err == nil:
			continue
		case !errors.Is(err, ledger.ErrNotFound):
			return seeded, fmt.Errorf("check seed account %s: %w", a.ID, err)
		}
		if err := repo.SaveAccount(ctx, a); err != nil {
			return seeded, fmt.Errorf("seed account %s: %w", a.ID, err)
		}
		seeded++
	}
	return seeded, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	dataDir := config.DataDirectory
	if dataDir == "" {
		dataDir = "data"
	}

	store, err := memory.NewFromFiles(dataDir, f.now())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize memory backend: %w", err)
	}

	f.logger.Info("Initialized memory backend", "data_directory", dataDir)
	return &BackendResult{Store: store}, nil
}
