package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/email"
	"github.com/brandon/mailsync/internal/mcp"
	"github.com/brandon/mailsync/internal/optimistic"
	"github.com/brandon/mailsync/internal/priming"
	"github.com/brandon/mailsync/internal/tools"
)

var (
	version     = "dev"
	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("mailsync version %s\n", version)
		os.Exit(0)
	}
	// stdout carries the MCP stream
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stderr)

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	// Set log level
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.WithField("version", version).Info("Starting mailsync")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the offline database and restore the cache from it
	db, err := cache.OpenDB(cfg.CachePath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open cache database")
	}
	defer db.Close()

	persister := cache.NewPersister(db, cfg.QuotaMaxBytes, logger)
	store, err := cache.NewStore(cfg.DetailCacheSize, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create cache store")
	}
	if err := persister.Restore(ctx, store); err != nil {
		logger.WithError(err).Warn("Failed to restore cache, starting empty")
	}

	// Initialize accounts
	manager, err := email.NewManager(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create email manager")
	}
	defer manager.Close()
	account := manager.DefaultAccount()
	logger.WithFields(logrus.Fields{
		"accounts": manager.ListAccounts(),
		"active":   account.Name(),
	}).Info("Accounts configured")

	if err := account.SyncFolders(ctx, store); err != nil {
		logger.WithError(err).Warn("Failed to sync folders, using cached folder tree")
	}

	notifier := mcp.NewNotifier(logger)
	engine := optimistic.NewEngine(store, account, optimistic.Config{
		Folders: optimistic.Folders{
			Inbox:   cfg.Folders.Inbox,
			Trash:   cfg.Folders.Trash,
			Spam:    cfg.Folders.Spam,
			Archive: cfg.Folders.Archive,
			Outbox:  cfg.Folders.Outbox,
			Drafts:  cfg.Folders.Drafts,
			Sent:    cfg.Folders.Sent,
		},
		UndoWindow:    cfg.UndoWindow,
		AutosaveDelay: cfg.AutosaveDelay,
	}, logger, optimistic.WithNotifier(notifier), optimistic.WithConnectivity(account))
	if engine.RestoreOutbox() > 0 {
		engine.FlushOutbox()
	}

	pipeline := priming.NewPipeline(store, account, persister, priming.Config{
		BatchSize:             cfg.PrimeBatchSize,
		QuotaThresholdPercent: cfg.QuotaThresholdPercent,
		Folders:               cfg.PrimeFolders,
		ContactsFolder:        cfg.ContactsFolder,
	}, logger, priming.WithFlusher(persister))

	server := mcp.NewServer(&tools.Deps{
		Config:    cfg,
		Store:     store,
		Persister: persister,
		Engine:    engine,
		Pipeline:  pipeline,
		Fetcher:   account,
		Folders:   account,
		Logger:    logger,
	}, notifier, logger, mcp.WithVersion(version))

	if cfg.PrimeOnStart && account.Online() {
		go func() {
			if _, err := pipeline.PrimeAll(ctx); err != nil && ctx.Err() == nil {
				logger.WithError(err).Warn("Cache priming failed")
			}
		}()
	}

	go syncLoop(ctx, cfg.FlushInterval, account, engine, persister, store, logger)

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Run server in a goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Run(ctx)
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig).Info("Received shutdown signal")
	case err := <-errChan:
		if err != nil {
			logger.WithError(err).Error("Server error")
		}
	}
	cancel()

	engine.Close()
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer flushCancel()
	if err := persister.Flush(flushCtx, store); err != nil {
		logger.WithError(err).Error("Failed to flush cache on shutdown")
	}

	logger.Info("Shutting down mailsync")
}

// syncLoop persists the cache and, when the server is reachable again, sends
// what waits in the outbox
func syncLoop(ctx context.Context, interval time.Duration, account *email.Account, engine *optimistic.Engine,
	persister *cache.Persister, store *cache.Store, logger *logrus.Logger) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := persister.Flush(ctx, store); err != nil && ctx.Err() == nil {
			logger.WithError(err).Warn("Failed to flush cache")
		}
		if len(engine.Outbox()) > 0 && account.Probe(ctx) {
			if n := engine.FlushOutbox(); n > 0 {
				logger.WithField("count", n).Info("Sending queued messages")
			}
		}
	}
}
