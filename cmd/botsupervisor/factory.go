package main

import (
	"fmt"
	"sync"

	"github.com/Josh-XT/AGiXT-sub003/internal/adapter/httppoll"
	"github.com/Josh-XT/AGiXT-sub003/internal/adapter/webhook"
	"github.com/Josh-XT/AGiXT-sub003/internal/config"
	"github.com/Josh-XT/AGiXT-sub003/internal/metrics"
	"github.com/Josh-XT/AGiXT-sub003/internal/model"
	"github.com/Josh-XT/AGiXT-sub003/internal/store"
	"github.com/Josh-XT/AGiXT-sub003/internal/supervisor"
	"github.com/Josh-XT/AGiXT-sub003/internal/worker"
	"go.uber.org/zap"
)

// workerFactory builds the workers of one platform
type workerFactory struct {
	platform config.PlatformConfig
	timings  config.SupervisorConfig
	dedupCfg config.DedupConfig
	// shared is the redis dedup cache; nil selects one in-memory cache per tenant
	shared   store.DedupCache
	agent    worker.Agent
	counters worker.CounterStore
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu    sync.Mutex
	local map[string]*store.LRUDedupCache
}

func newWorkerFactory(
	platform config.PlatformConfig,
	cfg *config.Config,
	shared store.DedupCache,
	agent worker.Agent,
	counters worker.CounterStore,
	m *metrics.Metrics,
	logger *zap.Logger,
) *workerFactory {
	return &workerFactory{
		platform: platform,
		timings:  cfg.Supervisor,
		dedupCfg: cfg.Dedup,
		shared:   shared,
		agent:    agent,
		counters: counters,
		metrics:  m,
		logger:   logger,
		local:    make(map[string]*store.LRUDedupCache),
	}
}

// build implements supervisor.WorkerFactory
func (f *workerFactory) build(cfg *model.TenantConfig, onExit func(supervisor.Worker, error)) (supervisor.Worker, error) {
	dedup, err := f.dedupFor(cfg.TenantID)
	if err != nil {
		return nil, err
	}

	adapter, err := newAdapter(f.platform, f.logger)
	if err != nil {
		return nil, err
	}

	return worker.New(worker.Config{
		Tenant:               cfg,
		Adapter:              adapter,
		Agent:                f.agent,
		Dedup:                dedup,
		Counters:             f.counters,
		AgentTimeout:         f.timings.AgentTimeout,
		CounterFlushInterval: f.timings.CounterFlushInterval,
		TypingInterval:       f.timings.TypingInterval,
		Metrics:              f.metrics,
		OnExit: func(w *worker.Worker, err error) {
			onExit(w, err)
		},
	}, f.logger)
}

// dedupFor returns the shared cache, or the tenant's in-memory cache which outlives restarts
func (f *workerFactory) dedupFor(tenantID string) (store.DedupCache, error) {
	if f.shared != nil {
		return f.shared, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if cache, ok := f.local[tenantID]; ok {
		return cache, nil
	}
	cache, err := store.NewLRUDedupCache(f.dedupCfg.Size, f.logger)
	if err != nil {
		return nil, err
	}
	f.local[tenantID] = cache
	return cache, nil
}

// forget drops the in-memory dedup cache of a tenant that is no longer configured
func (f *workerFactory) forget(tenantID string) {
	f.mu.Lock()
	cache, ok := f.local[tenantID]
	delete(f.local, tenantID)
	f.mu.Unlock()

	if ok {
		_ = cache.Close()
	}
}

func newAdapter(p config.PlatformConfig, logger *zap.Logger) (worker.PlatformAdapter, error) {
	switch p.Kind {
	case config.AdapterWebhook:
		return webhook.New(webhook.Options{
			Platform:   p.Name,
			ReplyURL:   p.ReplyURL,
			Timeout:    p.Timeout,
			MaxRetries: p.MaxRetries,
		}, logger), nil
	case config.AdapterHTTPPoll:
		channels := make([]worker.Channel, 0, len(p.Channels))
		for _, ch := range p.Channels {
			channels = append(channels, worker.Channel{Name: ch.Name, Interval: ch.Interval})
		}
		return httppoll.New(httppoll.Options{
			Platform:          p.Name,
			BaseURL:           p.BaseURL,
			Channels:          channels,
			Timeout:           p.Timeout,
			MaxRetries:        p.MaxRetries,
			RequestsPerSecond: p.RequestsPerSecond,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown adapter kind %q for platform %s", p.Kind, p.Name)
	}
}
