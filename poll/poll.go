// Package poll drives the periodic stock check across the catalog.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"roguestock-notifier/catalog"
	"roguestock-notifier/pkg/notifier"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultInterval     = 10 * time.Second
	DefaultFetchTimeout = 8 * time.Second
)

// ErrCycleRunning is returned when a cycle is requested while one is in progress.
var ErrCycleRunning = errors.New("poll cycle already running")

// Scraper interface for reading product pages.
type Scraper interface {
	Fetch(ctx context.Context, pageURL string, shape notifier.Shape, noise []string) ([]notifier.StockRecord, error)
}

// Registry interface for subscriber bookkeeping.
type Registry interface {
	Count(id string) int
	Limit() int
	ClaimFirstNotice(key, id string) bool
	ReleaseFirstNotice(key, id string)
}

// Sender interface for dispatching notices. Sends are fire-and-forget.
type Sender interface {
	Notify(ctx context.Context, id string, n notifier.Notice) error
}

// AuditLog interface for recording stock changes.
type AuditLog interface {
	Append(ctx context.Context, rec notifier.AuditRecord) error
}

// Config holds monitor dependencies and timing.
type Config struct {
	Catalog      *catalog.Catalog
	Scraper      Scraper
	Registry     Registry
	Sender       Sender
	Audit        AuditLog
	Logger       *slog.Logger
	Interval     time.Duration
	FetchTimeout time.Duration
}

// Monitor handles catalog polling logic.
type Monitor struct {
	catalog      *catalog.Catalog
	scraper      Scraper
	registry     Registry
	sender       Sender
	audit        AuditLog
	logger       *slog.Logger
	interval     time.Duration
	fetchTimeout time.Duration
	now          func() time.Time

	cycleMu sync.Mutex

	mu   sync.Mutex
	cron *cron.Cron
}

// New creates a new poll monitor.
func New(cfg *Config) *Monitor {
	m := &Monitor{
		catalog:      cfg.Catalog,
		scraper:      cfg.Scraper,
		registry:     cfg.Registry,
		sender:       cfg.Sender,
		audit:        cfg.Audit,
		logger:       cfg.Logger,
		interval:     cfg.Interval,
		fetchTimeout: cfg.FetchTimeout,
		now:          time.Now,
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	if m.fetchTimeout <= 0 {
		m.fetchTimeout = DefaultFetchTimeout
	}
	return m
}

// Start schedules CheckAll every interval until Stop is called or ctx ends.
// A tick that arrives while a cycle is still running is skipped.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil {
		return nil
	}

	logger := cronLogger{m.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	spec := "@every " + m.interval.String()
	if _, err := c.AddFunc(spec, func() {
		if err := m.CheckAll(ctx); err != nil {
			if errors.Is(err, ErrCycleRunning) {
				m.logger.Info("Skipping tick, cycle still running")
				return
			}
			m.logger.Warn("Poll cycle ended early", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule poll: %w", err)
	}
	c.Start()
	m.cron = c

	m.logger.Info("Poll scheduler started", "interval", m.interval.String(), "items", len(m.catalog.Keys()))
	return nil
}

// Stop halts the schedule and waits for a running cycle, up to ctx.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		m.logger.Info("Poll scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CheckAll runs one cycle over every catalog item, one item at a time.
// A failing item is logged and skipped.
func (m *Monitor) CheckAll(ctx context.Context) error {
	if !m.cycleMu.TryLock() {
		return ErrCycleRunning
	}
	defer m.cycleMu.Unlock()

	start := time.Now()
	keys := m.catalog.Keys()
	var failed int

	for _, key := range keys {
		select {
		case <-ctx.Done():
			m.logger.Info("Context cancelled, stopping poll cycle", "error", ctx.Err())
			return ctx.Err()
		default:
		}

		entry, ok := m.catalog.Entry(key)
		if !ok {
			continue
		}
		if err := m.checkItem(ctx, entry); err != nil {
			failed++
			m.logger.Warn("Item check failed", "item", key, "error", err)
		}
	}

	m.logger.Debug("Poll cycle completed",
		"items", len(keys),
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (m *Monitor) checkItem(ctx context.Context, entry *catalog.Entry) error {
	item := entry.Item()

	fetchCtx, cancel := context.WithTimeout(ctx, m.fetchTimeout)
	records, err := m.scraper.Fetch(fetchCtx, item.URL, item.Shape, item.Noise)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch page: %w", err)
	}

	now := m.now()
	tr, subs := entry.Observe(now, records, Classify)

	if tr.Kind != notifier.NoChange {
		m.logger.Info("Stock transition",
			"item", item.Key,
			"kind", tr.Kind.String(),
			"tally", tr.Tally,
			"subscribers", len(subs))
	}

	limit := m.registry.Limit()
	for _, sub := range subs {
		notice := notifier.Notice{
			Item:      item,
			Summary:   tr.Summary,
			Tracking:  m.registry.Count(sub.ID),
			Limit:     limit,
			CheckedAt: now,
		}

		// The snapshot may be stale; the claim decides who sends FIRST CHECK.
		if !sub.Delivered && m.registry.ClaimFirstNotice(item.Key, sub.ID) {
			notice.Kind = notifier.FirstObservation
			if err := m.sender.Notify(ctx, sub.ID, notice); err != nil {
				m.registry.ReleaseFirstNotice(item.Key, sub.ID)
				m.logger.Warn("First check notice not queued", "item", item.Key, "subscriber", sub.ID, "error", err)
			}
		}

		if tr.Notify() {
			notice.Kind = tr.Kind
			if err := m.sender.Notify(ctx, sub.ID, notice); err != nil {
				m.logger.Warn("Stock notice not queued", "item", item.Key, "subscriber", sub.ID, "error", err)
			}
		}
	}

	if tr.Notify() && tr.LogSummary != "" {
		rec := notifier.AuditRecord{
			Time:        now,
			ProductName: item.ProductName,
			Summary:     tr.LogSummary,
			URL:         item.URL,
		}
		if err := m.audit.Append(ctx, rec); err != nil {
			m.logger.Error("Failed to append audit record", "item", item.Key, "error", err)
		} else {
			m.logger.Info("Wrote stock update to audit log", "item", item.Key)
		}
	}

	return nil
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
