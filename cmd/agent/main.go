package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"reddit_agent/internal/config"
	"reddit_agent/internal/datastore/contextual"
	"reddit_agent/internal/domain"
	"reddit_agent/internal/publisher"
	"reddit_agent/internal/scheduler"
	"reddit_agent/internal/service"
	"reddit_agent/internal/source/reddit"
	"reddit_agent/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	modeFlag := flag.String("mode", "full", "run mode: full, scrape or update")
	once := flag.Bool("once", false, "run a single pass and exit instead of scheduling")
	flag.Parse()

	logger := setupLogger("info")

	mode, err := parseMode(*modeFlag)
	if err != nil {
		logger.Error("invalid mode", "mode", *modeFlag, "error", err)
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	var events service.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer rabbitMQ.Close()
		events = rabbitMQ
	}

	threadStore := postgres.NewThreadStore(db)
	snapshotStore := postgres.NewSnapshotStore(db)
	txManager := postgres.NewTransactionManager(db)

	source := reddit.New(cfg.Reddit, logger)
	store := contextual.New(cfg.Datastore, logger)

	reconciler := service.NewReconciler(
		source,
		store,
		threadStore,
		snapshotStore,
		txManager,
		events,
		logger,
		cfg.Sync,
		!cfg.Datastore.DisableSyntheticID,
	)
	coordinator := service.NewCoordinator(source, threadStore, reconciler, logger, cfg.Sync)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	logger.Info("starting reddit agent",
		"mode", mode,
		"subreddits", cfg.Reddit.Subreddits,
		"interval", cfg.Sync.Interval,
	)

	if *once {
		runCtx, cancelRun := context.WithTimeout(ctx, cfg.Sync.RunTimeout)
		defer cancelRun()

		stats, err := coordinator.Run(runCtx, mode)
		if err != nil {
			logger.Error("run failed", "error", err)
			os.Exit(1)
		}
		if stats.Failed() {
			logger.Warn("run completed with thread failures", "failures", len(stats.Failures))
			os.Exit(1)
		}
		return
	}

	sched := scheduler.NewScheduler(coordinator, mode, cfg.Sync.Interval, cfg.Sync.RunTimeout, logger)
	if err := sched.Start(ctx); err != nil && err != context.Canceled {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}
}

func parseMode(s string) (domain.RunMode, error) {
	switch domain.RunMode(s) {
	case domain.ModeFull, domain.ModeScrape, domain.ModeUpdate:
		return domain.RunMode(s), nil
	default:
		return "", fmt.Errorf("must be one of full, scrape, update")
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
