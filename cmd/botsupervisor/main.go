// Package main provides the entry point for the bot supervisor service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Josh-XT/AGiXT-sub003/internal/agent"
	"github.com/Josh-XT/AGiXT-sub003/internal/config"
	"github.com/Josh-XT/AGiXT-sub003/internal/events"
	"github.com/Josh-XT/AGiXT-sub003/internal/health"
	"github.com/Josh-XT/AGiXT-sub003/internal/logging"
	"github.com/Josh-XT/AGiXT-sub003/internal/metrics"
	"github.com/Josh-XT/AGiXT-sub003/internal/model"
	"github.com/Josh-XT/AGiXT-sub003/internal/server"
	"github.com/Josh-XT/AGiXT-sub003/internal/store"
	"github.com/Josh-XT/AGiXT-sub003/internal/supervisor"
	"github.com/Josh-XT/AGiXT-sub003/internal/worker"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

var errNoReconcile = errors.New("no reconcile completed yet")

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	defer func() { _ = logger.Sync() }()

	platformNames := make([]string, 0, len(cfg.Platforms))
	for _, p := range cfg.Platforms {
		platformNames = append(platformNames, p.Name)
	}
	logger.Info("Starting bot supervisor",
		zap.Strings("platforms", platformNames),
		zap.String("source", cfg.Source.Kind),
		zap.String("dedup", cfg.Dedup.Backend),
		zap.String("agent", cfg.Agent.Kind))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry)

	// Configuration source
	source, err := openSource(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open configuration source", zap.Error(err))
	}
	defer source.Close()

	// Shared dedup cache
	var shared store.DedupCache
	if cfg.Dedup.Backend == "redis" {
		redisDedup, err := store.NewRedisDedupCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, cfg.Dedup.TTL, logger)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisDedup.Close()
		shared = redisDedup
	}

	// NATS for lifecycle events and the nats agent
	var (
		natsConn  *nats.Conn
		publisher events.Publisher = events.NopPublisher{}
	)
	if cfg.NATS.Enabled {
		natsConn, err = events.Connect(events.Config{URL: cfg.NATS.URL, Name: cfg.NATS.Name, Timeout: cfg.NATS.Timeout}, logger)
		if err != nil {
			logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		publisher = events.NewNATSPublisher(natsConn, logger)
	}

	downstream, err := newAgent(cfg.Agent, natsConn, logger)
	if err != nil {
		logger.Fatal("Failed to create agent client", zap.Error(err))
	}

	// One reconciler per platform
	sup := supervisor.New(logger)
	for _, p := range cfg.Platforms {
		factory := newWorkerFactory(p, cfg, shared, downstream, source, m, logger.With(zap.String("platform", p.Name)))
		rec := supervisor.NewReconciler(supervisor.ReconcilerConfig{
			Platform:             p.Name,
			ServerScope:          p.ServerScope.Model(),
			ServerAgentBinding:   p.ServerAgent,
			ServerCredential:     model.NewCredential(p.ServerCredential),
			Interval:             cfg.Supervisor.Interval,
			FetchTimeout:         cfg.Supervisor.FetchTimeout,
			StartTimeout:         cfg.Supervisor.StartTimeout,
			StopGrace:            cfg.Supervisor.StopGrace,
			MaxConcurrentActions: cfg.Supervisor.MaxConcurrentActions,
			OnTenantRemoved:      factory.forget,
		}, source, factory.build, publisher, m, logger)
		if err := sup.Register(rec); err != nil {
			logger.Fatal("Failed to register platform", zap.String("platform", p.Name), zap.Error(err))
		}
	}

	// Health
	checker := health.NewHealthChecker(logger)
	checker.Register("config_source", source.Ping)
	if shared != nil {
		checker.Register("dedup", shared.Ping)
	}
	if natsPub, ok := publisher.(*events.NATSPublisher); ok {
		checker.Register("nats", func(context.Context) error { return natsPub.Health() })
	}

	var grpcHealth *health.GRPCHealth
	if cfg.GRPC.Enabled {
		grpcHealth = health.NewGRPCHealth(cfg.GRPC.Port, sup.Platforms(), logger)
		go func() {
			if err := grpcHealth.Serve(); err != nil {
				logger.Error("gRPC health server error", zap.Error(err))
			}
		}()
		go grpcHealth.Monitor(ctx, 10*time.Second, checker, func() map[string]error {
			out := make(map[string]error)
			for _, name := range sup.Platforms() {
				rec, err := sup.Reconciler(name)
				if err != nil {
					continue
				}
				at, lastErr := rec.LastReconcile()
				if at.IsZero() {
					lastErr = errNoReconcile
				}
				out[name] = lastErr
			}
			return out
		})
	}

	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, registry, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	httpServer := server.NewServer(cfg, sup, checker, m, logger)
	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errChan <- err
		}
	}()

	if fileSource, ok := source.(*store.FileConfigSource); ok && cfg.Source.Watch {
		if err := fileSource.Watch(ctx, sup.TriggerAll); err != nil {
			logger.Warn("Tenant file watch disabled", zap.Error(err))
		}
	}

	supervisorDone := make(chan struct{})
	go func() {
		defer close(supervisorDone)
		sup.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-errChan:
		logger.Error("server error", zap.Error(err))
	}

	// Graceful shutdown
	logger.Info("Initiating graceful shutdown")
	checker.SetDraining()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if grpcHealth != nil {
		grpcHealth.Shutdown(shutdownCtx)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown HTTP server", zap.Error(err))
	}
	if err := sup.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to stop all workers", zap.Error(err))
	}
	stop()
	<-supervisorDone

	if err := publisher.Close(); err != nil {
		logger.Warn("Failed to close event publisher", zap.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shutdown metrics server", zap.Error(err))
		}
	}

	logger.Info("Bot supervisor stopped")
}

func openSource(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.ConfigSource, error) {
	switch cfg.Source.Kind {
	case "postgres":
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		pg, err := store.NewPostgresConfigSource(
			connectCtx,
			cfg.Database.Host,
			cfg.Database.Port,
			cfg.Database.Database,
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.MaxConnections,
			cfg.Database.MinConnections,
			logger,
		)
		if err != nil {
			return nil, err
		}
		if cfg.Database.EnsureSchema {
			if err := pg.EnsureSchema(connectCtx); err != nil {
				pg.Close()
				return nil, err
			}
		}
		return pg, nil
	default:
		fs, err := store.NewFileConfigSource(cfg.Source.TenantsFile, cfg.Source.StateFile, logger)
		if err != nil {
			return nil, err
		}
		return fs, nil
	}
}

func newAgent(cfg config.AgentConfig, conn *nats.Conn, logger *zap.Logger) (worker.Agent, error) {
	switch cfg.Kind {
	case "nats":
		return agent.NewNATSClient(conn, cfg.Subject, logger)
	default:
		return agent.NewHTTPClient(agent.HTTPOptions{
			URL:        cfg.URL,
			Path:       cfg.Path,
			Token:      cfg.Token,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
		}, logger)
	}
}
