// Package main is the entry point for the memefeed token feed service.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/memefeed/engine/internal/archive"
	"github.com/memefeed/engine/internal/cache"
	"github.com/memefeed/engine/internal/config"
	"github.com/memefeed/engine/internal/detector"
	"github.com/memefeed/engine/internal/feed"
	"github.com/memefeed/engine/internal/ingest"
	"github.com/memefeed/engine/internal/metrics"
	"github.com/memefeed/engine/internal/server"
	"github.com/memefeed/engine/internal/store"
	"github.com/memefeed/engine/internal/ui"
	"github.com/memefeed/engine/internal/view"
	"github.com/sirupsen/logrus"
)

const (
	// AlertChannelBuffer is the size of the buffered alert channel
	AlertChannelBuffer = 100
	// TradeChannelBuffer is the size of the buffered trade channel
	TradeChannelBuffer = 500
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	logger, closeLog := setupLogger(cfg)
	defer closeLog()

	logger.WithField("version", "1.0.0").Info("memefeed starting")

	logger.WithFields(logrus.Fields{
		"ws_url":           cfg.WSURL,
		"ws_token":         cfg.MaskedWSToken(),
		"token_channel":    cfg.TokenChannel,
		"trade_pairs":      cfg.TradePairs,
		"api_url":          cfg.APIURL,
		"snapshot_timeout": cfg.SnapshotTimeout,
		"refresh_interval": cfg.RefreshInterval,
		"use_fallback":     cfg.UseFallbackData,
		"update_buffer":    cfg.UpdateBuffer,
		"price_shock_pct":  cfg.PriceShockPct,
		"holder_surge":     cfg.HolderSurgeCount,
		"burst_count":      cfg.BurstCount,
		"burst_window":     cfg.BurstWindow,
		"redis_enabled":    cfg.RedisEnabled(),
		"clickhouse":       cfg.ClickHouseEnabled(),
		"api_addr":         cfg.APIAddr,
		"api_key":          cfg.MaskedAPIKey(),
		"enable_tui":       cfg.EnableTUI,
	}).Info("config_loaded")

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Create channels
	alertChan := make(chan store.Alert, AlertChannelBuffer)
	tradeChan := make(chan store.TradeUpdate, TradeChannelBuffer)

	coll := store.NewCollection()
	tracker := metrics.NewTracker()

	detect := detector.NewDetector(cfg,
		detector.WithOutput(alertChan),
		detector.WithCounter(tracker),
		detector.WithLogger(logger),
	)

	sinks := []feed.Sink{tracker, detect}
	var snapshotCache feed.SnapshotCache
	var closers []func() error

	// Redis snapshot cache and change fan-out (optional)
	if cfg.RedisEnabled() {
		client, err := cache.NewClient(ctx, cache.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.WithError(err).Warn("redis_unavailable")
		} else {
			snapshotCache = cache.NewSnapshotStore(client, cfg.RedisSnapshotKey, cfg.RedisSnapshotTTL, logger)
			publisher := cache.NewPublisher(client, cfg.RedisChannel, logger, cache.WithDropCounter(tracker))
			sinks = append(sinks, publisher)
			go publisher.Run(ctx)
			closers = append(closers, client.Close)
			logger.WithField("addr", cfg.RedisAddr).Info("redis_connected")
		}
	}

	// ClickHouse tick archive (optional)
	archiveDone := make(chan struct{})
	if cfg.ClickHouseEnabled() {
		writer, err := archive.NewClickHouseWriter(ctx, archive.ClickHouseOptions{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDatabase,
			Username: cfg.ClickHouseUsername,
			Password: cfg.ClickHousePassword,
		})
		if err != nil {
			logger.WithError(err).Warn("clickhouse_unavailable")
			close(archiveDone)
		} else {
			arch := archive.New(writer, cfg.ArchiveBatchSize, cfg.ArchiveFlush, logger, archive.WithCounter(tracker))
			sinks = append(sinks, arch)
			closers = append(closers, writer.Close)
			go func() {
				arch.Run(ctx)
				written, failed, pending := arch.Stats()
				logger.WithFields(logrus.Fields{
					"written": written,
					"failed":  failed,
					"pending": pending,
				}).Info("archive_stopped")
				close(archiveDone)
			}()
			logger.WithField("addr", cfg.ClickHouseAddr).Info("clickhouse_connected")
		}
	} else {
		close(archiveDone)
	}

	f := feed.New(coll, feed.Options{
		Snapshots:       ingest.NewSnapshotClient(cfg.APIURL, cfg.SnapshotTimeout, logger),
		Cache:           snapshotCache,
		UseFallback:     cfg.UseFallbackData,
		RefreshInterval: cfg.RefreshInterval,
		UpdateBuffer:    cfg.UpdateBuffer,
		Tracker:         tracker,
		Sinks:           sinks,
		Trades:          tradeChan,
		TradePairs:      cfg.TradePairs,
		Logger:          logger,
	})
	go f.Run(ctx)

	// Start periodic cleanup
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tracker.Cleanup()
				detect.Cleanup()
			}
		}
	}()

	// Initial snapshot
	if _, err := f.Refresh(ctx); err != nil {
		logger.WithError(err).Warn("initial_snapshot_failed")
	}

	// Live updates
	transport := ingest.NewCentrifugoTransport(ingest.CentrifugoConfig{
		URL:   cfg.WSURL,
		Token: cfg.WSToken,
		Name:  "memefeed",
	}, logger)
	manager := ingest.NewSubscriptionManager(transport, f,
		ingest.WithTokenChannel(cfg.TokenChannel),
		ingest.WithLogger(logger),
	)
	f.Attach(manager)
	tracker.SetWebSocketStatus("connecting")
	if err := manager.Connect(ctx); err != nil {
		logger.WithError(err).Error("feed_connect_failed")
	}

	engine := view.NewEngine(coll)

	// HTTP API (optional)
	var srv *server.Server
	if cfg.APIAddr != "" {
		srv = server.NewServer(server.ServerDeps{
			Handlers: &server.Handlers{
				Feed:           f,
				View:           engine,
				Lookup:         coll,
				Tracker:        tracker,
				RefreshTimeout: cfg.SnapshotTimeout + 5*time.Second,
				Logger:         logger,
			},
			Config: server.ServerConfig{
				Addr:         cfg.APIAddr,
				APIKey:       cfg.APIKey,
				DevMode:      cfg.APIDevMode,
				RefreshRPS:   cfg.RefreshRPS,
				RefreshBurst: cfg.RefreshBurst,
			},
			Logger: logger,
		})
		go func() {
			logger.WithField("addr", cfg.APIAddr).Info("api_listening")
			if err := srv.Start(); err != nil {
				logger.WithError(err).Error("api_server_failed")
				cancel()
			}
		}()
	}

	logger.WithFields(logrus.Fields{
		"status":      "listening for updates",
		"tokens":      coll.Len(),
		"tui_enabled": cfg.EnableTUI,
	}).Info("feed_started")

	// Start TUI or run in background mode
	if cfg.EnableTUI {
		app := ui.NewApp(ui.Deps{
			View:    engine,
			Tracker: tracker,
			Alerts:  alertChan,
			Trades:  tradeChan,
			Refresh: func(ctx context.Context) error {
				_, err := f.Refresh(ctx)
				return err
			},
			RefreshRate: cfg.UIRefreshRate,
			Logger:      logger,
		})

		appDone := make(chan struct{})
		go func() {
			if err := app.Run(); err != nil {
				logger.WithError(err).Error("tui_error")
			}
			close(appDone)
		}()

		select {
		case sig := <-sigChan:
			logger.WithField("signal", sig.String()).Info("shutdown_signal_received")
			app.Stop()
		case <-appDone:
		case <-ctx.Done():
			app.Stop()
		}
	} else {
		select {
		case sig := <-sigChan:
			logger.WithField("signal", sig.String()).Info("shutdown_signal_received")
		case <-ctx.Done():
		}
	}

	// Graceful shutdown
	logger.WithField("status", "stopping feed").Info("shutting_down")
	if err := manager.Disconnect(); err != nil {
		logger.WithError(err).Warn("disconnect_failed")
	}
	cancel()

	if srv != nil {
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Warn("api_shutdown_failed")
		}
	}

	select {
	case <-archiveDone:
	case <-time.After(10 * time.Second):
		logger.Warn("archive_flush_timeout")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.WithError(err).Debug("close_failed")
		}
	}

	logger.Info("shutdown_complete")
}

// setupLogger creates a logger with the configured level.
// Format: time="2025-01-04 14:32:01" level=info msg=message key=value
// With the TUI enabled, output goes to LOG_FILE so it doesn't corrupt the screen.
func setupLogger(cfg *config.Config) (*logrus.Logger, func()) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		logger.SetLevel(logrus.DebugLevel)
	case "WARN", "WARNING":
		logger.SetLevel(logrus.WarnLevel)
	case "ERROR":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if !cfg.EnableTUI {
		logger.SetOutput(os.Stdout)
		return logger, func() {}
	}

	if cfg.LogFile == "" {
		logger.SetOutput(io.Discard)
		return logger, func() {}
	}

	file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger.WithError(err).Warn("log_file_unavailable")
		logger.SetOutput(io.Discard)
		return logger, func() {}
	}
	logger.SetOutput(file)
	return logger, func() { _ = file.Close() }
}
