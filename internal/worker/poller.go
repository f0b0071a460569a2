package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ledger/internal/log"
)

// Poller runs a task immediately and then on every tick until stopped. It is
// the periodic trigger of the binaries: the backup sync scan and the
// recurring auto-apply run.
type Poller struct {
	name     string
	interval time.Duration
	task     func(ctx context.Context) error

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewPoller(name string, interval time.Duration, task func(ctx context.Context) error) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{name: name, interval: interval, task: task}
}

// Start begins the loop. Returns an error if already running.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("%s poller is already running", p.name)
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go p.runLoop(ctx, p.stopCh, p.doneCh)

	slog.InfoContext(ctx, "Poller started",
		log.FieldComponent, log.ComponentWorker,
		log.FieldOperation, log.OpStartup,
		"poller", p.name, "interval", p.interval)
	return nil
}

// Stop signals the loop and waits for the current run to finish.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.running = false
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Poller stopped gracefully",
			log.FieldComponent, log.ComponentWorker,
			log.FieldOperation, log.OpShutdown,
			"poller", p.name)
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Poller stop timed out",
			log.FieldComponent, log.ComponentWorker,
			log.FieldOperation, log.OpShutdown,
			"poller", p.name)
		return ctx.Err()
	}
}

func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.runOnce(ctx)
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	if err := p.task(ctx); err != nil && ctx.Err() == nil {
		slog.ErrorContext(ctx, "Poller run failed",
			log.FieldComponent, log.ComponentWorker,
			"poller", p.name, log.FieldError, err)
	}
}
