// Command aggregator folds sensor measurements into per-hub snapshots and
// publishes every changed snapshot.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smarthub-telemetry/internal/config"
	"smarthub-telemetry/internal/eventing"
	"smarthub-telemetry/internal/observability/logging"
	"smarthub-telemetry/internal/observability/metrics"
	"smarthub-telemetry/internal/streamloop"
	natsstream "smarthub-telemetry/internal/streamloop/jetstream"
	telemetryapp "smarthub-telemetry/internal/telemetry/application"
	telemetryredis "smarthub-telemetry/internal/telemetry/infrastructure/redis"
)

func main() {
	if err := run(); err != nil {
		slog.Error("aggregator stopped", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ops := metrics.NewServer(cfg.MetricsAddr)
	go func() {
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "err", err)
		}
	}()
	defer shutdownServer(ops, logger)

	conn, js, err := natsstream.Connect(cfg.NATS.URL, "hubcore-aggregator-"+eventing.NewInstanceID(), cfg.NATS.ConnectTimeout, logger)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Drain() }()

	sensors := cfg.Streams.Sensors
	snapshots := cfg.Streams.Snapshots
	if err := natsstream.EnsureStream(ctx, js, sensors.Name, sensors.Subject, sensors.MaxAge); err != nil {
		return err
	}
	if err := natsstream.EnsureStream(ctx, js, snapshots.Name, snapshots.Subject, snapshots.MaxAge); err != nil {
		return err
	}

	natsPublisher, err := natsstream.NewSnapshotPublisher(js, snapshots.Subject)
	if err != nil {
		return err
	}
	var mirrors []telemetryapp.Sink
	if cfg.Redis.Addr != "" {
		rdb, err := telemetryredis.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		mirror, err := telemetryredis.NewSnapshotMirror(rdb, cfg.Redis.TTL)
		if err != nil {
			return err
		}
		mirrors = append(mirrors, telemetryapp.Sink{Name: "redis", Publisher: mirror})
	}
	publisher, err := telemetryapp.NewMultiPublisher(logger, telemetryapp.Sink{Name: "nats", Publisher: natsPublisher}, mirrors...)
	if err != nil {
		return err
	}
	ingestor, err := telemetryapp.NewIngestor(telemetryapp.NewAggregator(logger), publisher)
	if err != nil {
		return err
	}

	subscriber, err := natsstream.NewSubscriber(js, sensors.Name, sensors.Durable, sensors.Subject+".>", sensors.Batch)
	if err != nil {
		return err
	}
	loop, err := streamloop.New("sensors", subscriber, func(ctx context.Context, msg streamloop.Message) error {
		event, err := eventing.DecodeSensorEvent(msg.Data)
		if err != nil {
			return err
		}
		return ingestor.HandleEvent(ctx, event)
	},
		streamloop.WithMaxWait(sensors.PollWait),
		streamloop.WithCommitTimeout(cfg.ShutdownWait),
		streamloop.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	var runErr error
	go func() {
		defer close(done)
		runErr = loop.Run(ctx)
	}()
	logger.Info("aggregator started", "stream", sensors.Name, "durable", sensors.Durable)

	select {
	case <-ctx.Done():
	case <-done:
	}
	stop()
	if !streamloop.WaitStopped(done, cfg.ShutdownWait) {
		logger.Warn("sensor loop did not stop in time", "wait", cfg.ShutdownWait)
		return nil
	}
	return runErr
}

func shutdownServer(srv *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("metrics server shutdown", "err", err)
	}
}
