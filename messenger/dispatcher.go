package messenger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrQueueFull = errors.New("dispatch queue full")
	ErrStopped   = errors.New("dispatcher stopped")
)

const sendTimeout = 30 * time.Second

// DispatchConfig sizes the outbound pipeline.
type DispatchConfig struct {
	Workers    int
	QueueSize  int
	RatePerSec int
}

type job struct {
	to   string
	text string
}

// Dispatcher delivers queued messages with a worker pool under a shared rate limit.
// Delivery failures are logged and dropped.
type Dispatcher struct {
	provider Provider
	logger   *slog.Logger
	cfg      DispatchConfig
	limiter  *rate.Limiter

	mu        sync.RWMutex
	queue     chan job
	accepting bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Zero config values get defaults.
func NewDispatcher(provider Provider, cfg DispatchConfig, logger *slog.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	return &Dispatcher{
		provider: provider,
		logger:   logger,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Start launches the workers. Calling Start on a running dispatcher is a no-op.
// Workers keep ctx's values but not its cancellation: only Stop ends them,
// so messages queued before shutdown still drain.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queue != nil {
		return
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel
	q := make(chan job, d.cfg.QueueSize)
	d.queue = q
	d.accepting = true

	for i := range d.cfg.Workers {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.worker(runCtx, q, i)
		}()
	}
	d.logger.Info("Dispatcher started", "workers", d.cfg.Workers, "queue_size", d.cfg.QueueSize, "rate_per_sec", d.cfg.RatePerSec)
}

// Stop refuses new messages and drains the queue until ctx ends.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.queue == nil {
		d.mu.Unlock()
		return nil
	}
	d.accepting = false
	close(d.queue)
	d.queue = nil
	cancel := d.cancel
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancel()
		d.logger.Info("Dispatcher drained")
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

// Enqueue hands a message to the workers without blocking.
func (d *Dispatcher) Enqueue(to, text string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.accepting {
		return ErrStopped
	}
	select {
	case d.queue <- job{to: to, text: text}:
		return nil
	default:
		d.logger.Warn("Dispatch queue full, dropping message", "to", to, "queue_size", d.cfg.QueueSize)
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker(ctx context.Context, q <-chan job, idx int) {
	for j := range q {
		if err := d.limiter.Wait(ctx); err != nil {
			d.logger.Warn("Dropping message on shutdown", "to", j.to, "worker", idx, "error", err)
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		start := time.Now()
		err := d.provider.Send(sendCtx, j.to, j.text)
		cancel()
		if err != nil {
			d.logger.Warn("Message delivery failed",
				"to", j.to,
				"worker", idx,
				"duration_ms", time.Since(start).Milliseconds(),
				"error", err)
			continue
		}
		d.logger.Debug("Message delivered", "to", j.to, "worker", idx)
	}
}
