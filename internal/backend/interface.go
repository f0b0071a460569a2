package backend

import (
	"context"

	"ledger/internal/ledger"
	"ledger/internal/services"
)

// CleanupFunc releases the resources held by a backend.
type CleanupFunc func() error

// BackendResult is a ready ledger store plus what the binaries need around it.
type BackendResult struct {
	Store ledger.Store
	// Publisher announces posted entries to the mirror; nil when AMQP is off.
	Publisher services.EntryPublisher
	// Ready backs the readiness check; nil means always ready.
	Ready   func(context.Context) error
	Cleanup CleanupFunc
}

// Close runs Cleanup when set.
func (r *BackendResult) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// DataDirectory holds seed_accounts.txt. The memory backend falls back to
	// the demo fixtures without it; the sqlite backend seeds only missing
	// accounts from it.
	DataDirectory string
}

type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
