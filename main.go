package main

import (
	"context"
	"flag"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/artie-labs/oplogfetcher/applier"
	"github.com/artie-labs/oplogfetcher/checkpoint"
	"github.com/artie-labs/oplogfetcher/config"
	"github.com/artie-labs/oplogfetcher/lib/logger"
	"github.com/artie-labs/oplogfetcher/lib/mtr"
	"github.com/artie-labs/oplogfetcher/mongowire"
	"github.com/artie-labs/oplogfetcher/oplogfetcher"
	"github.com/artie-labs/oplogfetcher/replconfig"
	"github.com/artie-labs/oplogfetcher/sink"
)

func setUpMetrics(cfg *config.Metrics) (mtr.Client, error) {
	if cfg == nil {
		return nil, nil
	}

	slog.Info("Creating metrics client")
	return mtr.New(cfg.Namespace, cfg.Tags, 0.5)
}

func setUpEnqueue(cfg *config.Kafka, statsD mtr.Client, buffer *applier.Buffer) (oplogfetcher.EnqueueFunc, func() error, error) {
	if cfg == nil {
		return buffer.Enqueue, func() error { return nil }, nil
	}

	slog.Info("Setting up kafka sink",
		slog.Any("bootstrapServers", cfg.BootstrapServers),
		slog.String("topic", cfg.Topic),
	)

	kafkaSink, err := sink.NewKafkaSink(sink.KafkaConfig{
		BootstrapServers: cfg.BootstrapServers,
		Topic:            cfg.Topic,
		MaxRequestBytes:  cfg.MaxRequestBytes,
	})
	if err != nil {
		return nil, nil, err
	}

	enqueue := oplogfetcher.EnqueueFunc(kafkaSink.Enqueue)
	if statsD != nil {
		enqueue = sink.WithMetrics(enqueue, statsD, map[string]string{"namespace": ""})
	}
	return enqueue, kafkaSink.Close, nil
}

func main() {
	var configFilePath string
	flag.StringVar(&configFilePath, "config", "", "path to config file")
	flag.Parse()

	cfg, err := config.ReadConfig(configFilePath)
	if err != nil {
		logger.Fatal("Failed to read config file", slog.Any("err", err))
	}

	_logger, terminateHandlers := logger.NewLogger(cfg)
	slog.SetDefault(_logger)
	defer terminateHandlers()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	statsD, err := setUpMetrics(cfg.Metrics)
	if err != nil {
		logger.Fatal("Failed to set up metrics", slog.Any("err", err))
	}

	store, err := checkpoint.Open(cfg.Fetcher.CheckpointFile)
	if err != nil {
		logger.Fatal("Failed to open checkpoint store", slog.Any("err", err))
	}

	client, disconnect, err := mongowire.Dial(ctx, cfg.SyncSource.URI, cfg.SyncSource.Database, cfg.Fetcher.AwaitDataTimeout)
	if err != nil {
		logger.Fatal("Failed to dial sync source", slog.Any("err", err))
	}
	defer disconnect(context.Background())

	buffer := applier.New(10_000)
	enqueue, closeSink, err := setUpEnqueue(cfg.Kafka, statsD, buffer)
	if err != nil {
		logger.Fatal("Failed to set up enqueue sink", slog.Any("err", err))
	}
	defer closeSink()

	if cfg.Kafka == nil {
		go drainBuffer(ctx, buffer)
	}

	done := make(chan struct{})
	fetcher := oplogfetcher.New(oplogfetcher.Options{
		StartingLastFetched: store.Get(cfg.SyncSource.Namespace),
		Namespace:           cfg.SyncSource.Namespace,
		Client:              client,
		// No live replica-set config source is wired up here: term 0 with
		// an always-eligible predicate matches a standalone or freshly
		// bootstrapped node where sync-source selection isn't yet in play.
		Config:                   replconfig.New(0, nil, nil),
		RestartPolicy:            oplogfetcher.NewDefaultRestartPolicy(cfg.Fetcher.MaxRestarts),
		RequiredRBID:             cfg.Fetcher.RequiredRBID,
		RequireFresherSyncSource: cfg.Fetcher.RequireFresherSyncSource,
		Enqueue:                  enqueue,
		BatchSize:                cfg.Fetcher.BatchSize,
		AwaitDataTimeout:         cfg.Fetcher.AwaitDataTimeout,
		OnShutdown: func(status error) {
			slog.Info("Oplog fetcher exited", slog.Any("status", status), slog.Any("lastFetched", store.Get(cfg.SyncSource.Namespace)))
			close(done)
		},
		Logger: _logger,
	})

	if err := fetcher.Start(ctx); err != nil {
		logger.Fatal("Failed to start oplog fetcher", slog.Any("err", err))
	}

	<-ctx.Done()
	fetcher.Shutdown()
	<-done

	if err := store.Set(cfg.SyncSource.Namespace, fetcher.LastFetched()); err != nil {
		slog.Warn("Failed to persist final checkpoint", slog.Any("err", err))
	}
}

func drainBuffer(ctx context.Context, buffer *applier.Buffer) {
	for {
		entry, err := buffer.Drain(ctx)
		if err != nil {
			return
		}
		slog.Debug("Drained oplog entry", slog.Any("info", entry.Info))
	}
}
