package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"dmv-notifier/browser"
	"dmv-notifier/config"
	"dmv-notifier/navigator"
	"dmv-notifier/notify"
	"dmv-notifier/poll"
	"dmv-notifier/push"
	"dmv-notifier/scraper"
	"dmv-notifier/screenshot"
	"dmv-notifier/server"
	"dmv-notifier/storage"
	"dmv-notifier/supervisor"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitor until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		return runMonitor(cmd.Context(), cfg, logger)
	},
}

func runMonitor(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.VAPIDPrivateKey == "" {
		return errors.New("DMV_VAPID_PRIVATE_KEY is required (generate one with the vapid-keys command)")
	}

	store, err := storage.Open(ctx, cfg.DatabasePath, cfg.Location(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close database", "error", err)
		}
	}()

	sender, err := push.NewSender(&http.Client{Timeout: 30 * time.Second}, cfg.VAPIDPrivateKey, cfg.VAPIDSubject, cfg.PushTTL, logger)
	if err != nil {
		return fmt.Errorf("configure push sender: %w", err)
	}

	ledger, closeLedger, err := newLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLedger()

	sink, closeSink, err := newScreenshotSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink()
	recorder := screenshot.NewRecorder(sink, cfg.ScreenshotsEnabled, cfg.ScreenshotTimeout, logger)

	nav := navigator.New(cfg, recorder, logger)
	dispatcher := notify.New(cfg, store, sender, ledger, logger)
	scanner := poll.New(nav, scraper.NewExtractor(nav, logger), dispatcher, store, logger)
	launcher := browser.NewRodLauncher(cfg.BrowserBin, cfg.Headless, logger)
	sup := supervisor.New(cfg, launcher, scanner, store, recorder, logger)

	opsDone := make(chan struct{})
	if cfg.OpsAddr != "" {
		srv := server.New(&server.Config{
			Store:      store,
			Logger:     logger,
			Categories: cfg.Categories,
			Addr:       cfg.OpsAddr,
		})
		go func() {
			defer close(opsDone)
			if err := srv.Start(ctx); err != nil {
				logger.Error("HTTP server failed", "error", err)
			}
		}()
	} else {
		close(opsDone)
	}

	err = sup.Run(ctx)
	<-opsDone
	if errors.Is(err, context.Canceled) {
		logger.Info("Monitor stopped")
		return nil
	}
	return err
}

// newLedger picks the duplicate-suppression ledger. A zero TTL disables it.
func newLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger) (notify.Ledger, func(), error) {
	if cfg.DedupeTTL == 0 {
		logger.Info("Duplicate notification suppression disabled")
		return nil, func() {}, nil
	}
	if cfg.RedisAddr == "" {
		return notify.NewMemoryLedger(cfg.DedupeMaxEntries, cfg.DedupeTTL), func() {}, nil
	}

	client, err := notify.ConnectRedis(ctx, notify.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close redis client", "error", err)
		}
	}
	return notify.NewRedisLedger(client, cfg.DedupeTTL), closeFn, nil
}

// newScreenshotSink writes to the bucket when one is configured, otherwise
// to the local directory.
func newScreenshotSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (screenshot.Sink, func(), error) {
	if cfg.ScreenshotBucket == "" {
		return screenshot.NewDir(cfg.ScreenshotDir), func() {}, nil
	}

	client, err := screenshot.NewStorageClient(ctx, cfg.GoogleCredentials)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Storing screenshots in bucket", "bucket", cfg.ScreenshotBucket)
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close storage client", "error", err)
		}
	}
	return screenshot.NewBucket(client, cfg.ScreenshotBucket, "screenshots", logger), closeFn, nil
}
