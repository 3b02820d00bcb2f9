// Package main runs a service that watches product pages for stock changes
// and messages subscribers when availability changes.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"roguestock-notifier/auditlog"
	"roguestock-notifier/catalog"
	"roguestock-notifier/command"
	"roguestock-notifier/config"
	"roguestock-notifier/messenger"
	"roguestock-notifier/poll"
	"roguestock-notifier/registry"
	"roguestock-notifier/scraper"
	"roguestock-notifier/server"
	"syscall"
	"time"
	_ "time/tzdata"

	"cloud.google.com/go/storage"
	"github.com/go-playground/validator/v10"
	"google.golang.org/api/option"
)

const shutdownTimeout = 10 * time.Second

func main() {
	validate := validator.New()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}
	cfg, err := config.Load(configPath, validate)
	if err != nil {
		slog.Error("Failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Env)
	slog.SetDefault(logger)

	loc, err := cfg.Location()
	if err != nil {
		logger.Error("Failed to load time zone", "error", err)
		os.Exit(1)
	}

	items, err := config.LoadCatalog(cfg.CatalogPath, validate)
	if err != nil {
		logger.Error("Failed to load catalog", "path", cfg.CatalogPath, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting stock watch service",
		"env", cfg.Env,
		"items", len(items.Items),
		"interval", cfg.Poll.Interval.String(),
		"item_limit", cfg.ItemLimit)

	if err := run(ctx, cfg, items, loc, logger); err != nil {
		logger.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, items *config.Catalog, loc *time.Location, logger *slog.Logger) error {
	cat := catalog.New(items.Items)
	reg := registry.New(cat, cfg.ItemLimit)
	preloadSubscribers(reg, items, logger)

	provider, tg, err := newProvider(cfg, logger)
	if err != nil {
		return err
	}

	audit, closeAudit, err := newAuditLog(ctx, cfg, loc, logger)
	if err != nil {
		return err
	}
	defer closeAudit()

	dispatcher := messenger.NewDispatcher(provider, messenger.DispatchConfig{
		Workers:    cfg.Dispatch.Workers,
		QueueSize:  cfg.Dispatch.QueueSize,
		RatePerSec: cfg.Dispatch.RatePerSec,
	}, logger)
	dispatcher.Start(ctx)
	sender := messenger.New(dispatcher, logger, loc)

	monitor := poll.New(&poll.Config{
		Catalog:      cat,
		Scraper:      scraper.New(&http.Client{Timeout: cfg.Poll.FetchTimeout}, logger),
		Registry:     reg,
		Sender:       sender,
		Audit:        audit,
		Logger:       logger,
		Interval:     cfg.Poll.Interval,
		FetchTimeout: cfg.Poll.FetchTimeout,
	})

	interpreter := command.New(&command.Config{
		Catalog:   cat,
		Registry:  reg,
		Formatter: sender,
		Replier:   sender,
		Logger:    logger,
		Location:  loc,
	})

	if tg != nil {
		tg.Listen(ctx, interpreter)
	}
	if err := monitor.Start(ctx); err != nil {
		return fmt.Errorf("start poll scheduler: %w", err)
	}

	srv := server.New(&server.Config{
		Inbound:     interpreter,
		Poller:      monitor,
		IsBusy:      func(err error) bool { return errors.Is(err, poll.ErrCycleRunning) },
		Logger:      logger,
		VerifyToken: cfg.Messenger.VerifyToken,
		AppSecret:   cfg.Messenger.AppSecret,
	})
	serveErr := srv.ListenAndServe(ctx, cfg.Port)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if tg != nil {
		tg.Stop()
	}
	if err := monitor.Stop(shutdownCtx); err != nil {
		logger.Warn("Poll scheduler did not stop cleanly", "error", err)
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.Warn("Dispatcher did not drain", "error", err)
	}
	return serveErr
}

func setupLogger(env string) *slog.Logger {
	switch env {
	case config.EnvLocal:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case config.EnvDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
}

// newProvider picks Telegram, then the Messenger Send API, then the mock
// provider for local development. The Telegram provider is also returned
// separately because it doubles as an inbound transport.
func newProvider(cfg *config.Config, logger *slog.Logger) (messenger.Provider, *messenger.TelegramProvider, error) {
	switch {
	case cfg.Telegram.Token != "":
		tg, err := messenger.NewTelegramProvider(cfg.Telegram.Token, cfg.Telegram.PollTimeout, false, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using Telegram provider")
		return tg, tg, nil
	case cfg.Messenger.PageToken != "":
		logger.Info("Using Messenger Send API provider")
		return messenger.NewGraphProvider(cfg.Messenger.PageToken, cfg.Messenger.APIURL, logger), nil, nil
	case cfg.Env == config.EnvLocal:
		logger.Info("Mock message mode enabled (no messaging token)")
		return messenger.NewMockProvider(logger), nil, nil
	default:
		return nil, nil, errors.New("no messaging provider configured: set TELEGRAM_TOKEN or MESSENGER_PAGE_TOKEN")
	}
}

// newAuditLog opens the local file backend or a Cloud Storage client.
// The returned func releases the client.
func newAuditLog(ctx context.Context, cfg *config.Config, loc *time.Location, logger *slog.Logger) (*auditlog.Log, func(), error) {
	if cfg.Audit.Path != "" {
		logger.Info("Audit log on local disk", "path", cfg.Audit.Path)
		return auditlog.New(nil, "", "", cfg.Audit.Path, loc, logger), func() {}, nil
	}
	if cfg.Audit.Bucket == "" {
		return nil, nil, errors.New("audit log needs AUDIT_PATH or AUDIT_BUCKET")
	}

	var opts []option.ClientOption
	if cfg.Audit.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Audit.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create storage client: %w", err)
	}
	logger.Info("Audit log in Cloud Storage", "bucket", cfg.Audit.Bucket, "object", cfg.Audit.Object)

	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close storage client", "error", err)
		}
	}
	return auditlog.New(client, cfg.Audit.Bucket, cfg.Audit.Object, "", loc, logger), closeFn, nil
}

// preloadSubscribers registers configured subscribers in catalog key order,
// so the items dropped for a subscriber over the limit are the same every run.
func preloadSubscribers(reg *registry.Registry, items *config.Catalog, logger *slog.Logger) {
	for _, item := range items.Items {
		key := item.Key
		for _, id := range items.Subscribers[key] {
			if err := reg.Subscribe(id, key); err != nil {
				logger.Warn("Skipping preloaded subscriber", "item", key, "subscriber", id, "error", err)
			}
		}
	}
}
