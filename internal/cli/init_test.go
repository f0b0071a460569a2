package cli

import (
	"context"
	"testing"
	"time"

	"ledger/internal/config"
	"ledger/internal/log"
)

func TestWaitForSignalReturnsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		if sig := WaitForSignal(ctx); sig != nil {
			t.Errorf("expected nil signal, got %v", sig)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForSignal did not return after cancellation")
	}
}

func TestShutdownContextHasDeadline(t *testing.T) {
	ctx, cancel := ShutdownContext()
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("expected a deadline")
	}
	if remaining := time.Until(deadline); remaining <= 0 || remaining > ShutdownTimeout {
		t.Errorf("unexpected remaining time %v", remaining)
	}
}

func TestOpenBackendMemory(t *testing.T) {
	cfg := &config.Config{DataBackend: "memory", DemoDataDir: t.TempDir()}
	be := OpenBackend(context.Background(), log.New(log.DefaultConfig()), cfg)
	defer be.Close()

	if be.Store == nil {
		t.Fatal("expected a store")
	}
	if be.Publisher != nil {
		t.Error("memory backend should not publish")
	}
}
