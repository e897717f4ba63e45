// Command analyzer maintains hub topology from hub events and evaluates
// scenarios against published snapshots.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"smarthub-telemetry/internal/actuator"
	"smarthub-telemetry/internal/auth"
	"smarthub-telemetry/internal/config"
	"smarthub-telemetry/internal/eventing"
	"smarthub-telemetry/internal/observability/logging"
	"smarthub-telemetry/internal/observability/metrics"
	rulesapp "smarthub-telemetry/internal/rules/application"
	"smarthub-telemetry/internal/streamloop"
	natsstream "smarthub-telemetry/internal/streamloop/jetstream"
	topologyapp "smarthub-telemetry/internal/topology/application"
	topology "smarthub-telemetry/internal/topology/domain"
	"smarthub-telemetry/internal/topology/infrastructure/memory"
	topologypg "smarthub-telemetry/internal/topology/infrastructure/postgres"
)

func main() {
	if err := run(); err != nil {
		slog.Error("analyzer stopped", "err", err)
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

	repo, closeRepo, err := openRepository(ctx, cfg.Postgres, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	dispatcher, closeDispatcher, err := buildDispatcher(cfg.Actuator, logger)
	if err != nil {
		return err
	}
	defer closeDispatcher()

	registry, err := topologyapp.NewRegistry(repo, logger)
	if err != nil {
		return err
	}
	evaluator, err := rulesapp.NewEvaluator(repo, dispatcher, rulesapp.WithLogger(logger))
	if err != nil {
		return err
	}

	conn, js, err := natsstream.Connect(cfg.NATS.URL, "hubcore-analyzer-"+eventing.NewInstanceID(), cfg.NATS.ConnectTimeout, logger)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Drain() }()

	hubs := cfg.Streams.Hubs
	snapshots := cfg.Streams.Snapshots
	for _, s := range []config.StreamConfig{hubs, snapshots} {
		if err := natsstream.EnsureStream(ctx, js, s.Name, s.Subject, s.MaxAge); err != nil {
			return err
		}
	}

	hubSub, err := natsstream.NewSubscriber(js, hubs.Name, hubs.Durable, hubs.Subject+".>", hubs.Batch)
	if err != nil {
		return err
	}
	hubLoop, err := streamloop.New("hubs", hubSub, func(ctx context.Context, msg streamloop.Message) error {
		event, err := eventing.DecodeHubEvent(msg.Data)
		if err != nil {
			return err
		}
		return registry.ApplyHubEvent(ctx, event)
	},
		streamloop.WithMaxWait(hubs.PollWait),
		streamloop.WithCommitTimeout(cfg.ShutdownWait),
		streamloop.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	snapshotSub, err := natsstream.NewSubscriber(js, snapshots.Name, snapshots.Durable, snapshots.Subject+".>", snapshots.Batch)
	if err != nil {
		return err
	}
	snapshotLoop, err := streamloop.New("snapshots", snapshotSub, func(ctx context.Context, msg streamloop.Message) error {
		snapshot, err := eventing.DecodeSnapshot(msg.Data)
		if err != nil {
			return err
		}
		return evaluator.OnSnapshot(ctx, snapshot)
	},
		streamloop.WithMaxWait(snapshots.PollWait),
		streamloop.WithCommitTimeout(cfg.ShutdownWait),
		streamloop.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	var (
		wg      sync.WaitGroup
		errMu   sync.Mutex
		runErrs []error
	)
	runLoop := func(loop *streamloop.Loop) {
		defer wg.Done()
		if err := loop.Run(ctx); err != nil {
			errMu.Lock()
			runErrs = append(runErrs, err)
			errMu.Unlock()
			// One failed loop stops the process.
			stop()
		}
	}
	wg.Add(2)
	go runLoop(hubLoop)
	go runLoop(snapshotLoop)
	logger.Info("analyzer started", "hubs_durable", hubs.Durable, "snapshots_durable", snapshots.Durable)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	<-ctx.Done()
	if !streamloop.WaitStopped(done, cfg.ShutdownWait) {
		logger.Warn("stream loops did not stop in time", "wait", cfg.ShutdownWait,
			"hubs_state", hubLoop.State().String(), "snapshots_state", snapshotLoop.State().String())
		return nil
	}
	return errors.Join(runErrs...)
}

func openRepository(ctx context.Context, cfg config.PostgresConfig, logger *slog.Logger) (topology.Repository, func(), error) {
	if cfg.DSN == "" {
		logger.Warn("no postgres dsn configured, topology is kept in memory")
		return memory.NewStore(), func() {}, nil
	}
	db, err := topologypg.Open(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() { closeQuietly(db, logger) }
	if cfg.EnsureSchema {
		if err := topologypg.EnsureSchema(ctx, db); err != nil {
			closeDB()
			return nil, nil, err
		}
	}
	repo, err := topologypg.NewRepository(db)
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	return repo, closeDB, nil
}

func buildDispatcher(cfg config.ActuatorConfig, logger *slog.Logger) (actuator.Dispatcher, func(), error) {
	var (
		next    actuator.Dispatcher
		cleanup = func() {}
	)
	switch cfg.Transport {
	case config.TransportHTTP:
		var opts []actuator.HTTPOption
		if cfg.JWTSecret != "" {
			signer, err := auth.NewTokenSigner([]byte(cfg.JWTSecret), cfg.JWTSubject, cfg.TokenTTL)
			if err != nil {
				return nil, nil, err
			}
			opts = append(opts, actuator.WithTokenSource(signer))
		}
		client, err := actuator.NewHTTPClient(cfg.BaseURL, opts...)
		if err != nil {
			return nil, nil, err
		}
		next = client
	case config.TransportMQTT:
		client, err := actuator.ConnectMQTT(cfg.MQTTBroker, "hubcore-analyzer-"+eventing.NewInstanceID(), cfg.Timeout)
		if err != nil {
			return nil, nil, err
		}
		mqttDispatcher, err := actuator.NewMQTTDispatcher(client, cfg.TopicPrefix)
		if err != nil {
			client.Disconnect(250)
			return nil, nil, err
		}
		next = mqttDispatcher
		cleanup = func() { client.Disconnect(250) }
	default:
		next = actuator.NewLoggingDispatcher(logger)
	}
	dispatcher, err := actuator.NewInstrumented(next, cfg.Transport, cfg.Timeout)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return dispatcher, cleanup, nil
}

func closeQuietly(db *sql.DB, logger *slog.Logger) {
	if err := db.Close(); err != nil {
		logger.Warn("close database", "err", err)
	}
}

func shutdownServer(srv *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("metrics server shutdown", "err", err)
	}
}
