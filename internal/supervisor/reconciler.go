package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Josh-XT/AGiXT-sub003/internal/events"
	"github.com/Josh-XT/AGiXT-sub003/internal/metrics"
	"github.com/Josh-XT/AGiXT-sub003/internal/model"
	"github.com/Josh-XT/AGiXT-sub003/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval             = 60 * time.Second
	DefaultFetchTimeout         = 10 * time.Second
	DefaultStartTimeout         = 30 * time.Second
	DefaultStopGrace            = 15 * time.Second
	DefaultMaxConcurrentActions = 8
)

// ErrShuttingDown is returned by operations issued after Shutdown
var ErrShuttingDown = errors.New("reconciler is shutting down")

// WorkerFactory builds an unstarted worker for a tenant. onExit must be called when
// the worker's background task ends; err is nil after a requested stop.
type WorkerFactory func(cfg *model.TenantConfig, onExit func(w Worker, err error)) (Worker, error)

// ReconcilerConfig holds the per-platform reconcile settings
type ReconcilerConfig struct {
	Platform string
	// ServerScope and ServerAgentBinding apply to the shared "server" worker
	ServerScope        model.Scope
	ServerAgentBinding string
	// ServerCredential is used when the config source holds no server-wide credential
	ServerCredential     model.Credential
	Interval             time.Duration
	FetchTimeout         time.Duration
	StartTimeout         time.Duration
	StopGrace            time.Duration
	MaxConcurrentActions int
	// OnTenantRemoved is called after a tenant that is no longer desired has been stopped
	OnTenantRemoved func(tenantID string)
}

func (c *ReconcilerConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = DefaultStartTimeout
	}
	if c.StopGrace <= 0 {
		c.StopGrace = DefaultStopGrace
	}
	if c.MaxConcurrentActions <= 0 {
		c.MaxConcurrentActions = DefaultMaxConcurrentActions
	}
	if c.ServerScope.Mode == "" {
		c.ServerScope.Mode = model.PermissionAnyone
	}
}

// Report lists what one reconcile pass changed
type Report struct {
	Platform  string            `json:"platform"`
	Started   []string          `json:"started"`
	Stopped   []string          `json:"stopped"`
	Restarted []string          `json:"restarted"`
	Failed    map[string]string `json:"failed"`
	Duration  time.Duration     `json:"duration_ns"`
}

// Changed reports whether the pass took any action
func (r *Report) Changed() bool {
	return len(r.Started)+len(r.Stopped)+len(r.Restarted)+len(r.Failed) > 0
}

type reportBuilder struct {
	mu     sync.Mutex
	report Report
}

func (b *reportBuilder) add(list *[]string, tenantID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	*list = append(*list, tenantID)
}

func (b *reportBuilder) fail(tenantID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.report.Failed[tenantID] = err.Error()
}

func (b *reportBuilder) finish(start time.Time) Report {
	b.mu.Lock()
	defer b.mu.Unlock()
	sort.Strings(b.report.Started)
	sort.Strings(b.report.Stopped)
	sort.Strings(b.report.Restarted)
	b.report.Duration = time.Since(start)
	return b.report
}

type actionKind string

const (
	actionStart   actionKind = "start"
	actionStop    actionKind = "stop"
	actionRestart actionKind = "restart"
)

type action struct {
	kind     actionKind
	tenantID string
	current  Worker
	desired  *model.TenantConfig
}

type pin int

const (
	pinRunning pin = iota + 1
	pinStopped
)

type override struct {
	pin    pin
	config *model.TenantConfig
}

// Reconciler keeps the running workers of one platform equal to the desired state
type Reconciler struct {
	cfg       ReconcilerConfig
	source    store.ConfigSource
	factory   WorkerFactory
	registry  *Registry
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger

	// mu serializes reconcile passes and administrative overrides
	mu        sync.Mutex
	overrides map[string]override
	closed    bool

	trigger        chan struct{}
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
	loopDone       chan struct{}
	runOnce        sync.Once

	stateMu       sync.RWMutex
	lastReconcile time.Time
	lastErr       error
}

// NewReconciler creates a reconciler for one platform
func NewReconciler(
	cfg ReconcilerConfig,
	source store.ConfigSource,
	factory WorkerFactory,
	publisher events.Publisher,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Reconciler {
	cfg.applyDefaults()
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())

	return &Reconciler{
		cfg:            cfg,
		source:         source,
		factory:        factory,
		registry:       NewRegistry(),
		publisher:      publisher,
		metrics:        m,
		logger:         logger.With(zap.String("platform", cfg.Platform)),
		overrides:      make(map[string]override),
		trigger:        make(chan struct{}, 1),
		shutdownCtx:    shutdownCtx,
		shutdownCancel: shutdownCancel,
		loopDone:       make(chan struct{}),
	}
}

// Platform returns the platform this reconciler manages
func (r *Reconciler) Platform() string {
	return r.cfg.Platform
}

// Registry exposes the running workers
func (r *Reconciler) Registry() *Registry {
	return r.registry
}

// LastReconcile returns when the last pass finished and its error
func (r *Reconciler) LastReconcile() (time.Time, error) {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.lastReconcile, r.lastErr
}

// Reconcile runs one pass: fetch desired state, diff against the registry and act on the difference.
// A failure to read the config source aborts the pass without touching any worker.
func (r *Reconciler) Reconcile(ctx context.Context) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Report{}, ErrShuttingDown
	}

	start := time.Now()
	report, err := r.reconcileLocked(ctx)

	r.stateMu.Lock()
	r.lastReconcile = time.Now()
	r.lastErr = err
	r.stateMu.Unlock()

	status := "ok"
	if err != nil {
		status = "error"
	} else if len(report.Failed) > 0 {
		status = "partial"
	}
	r.metrics.RecordReconcile(r.cfg.Platform, status, time.Since(start).Seconds())
	r.metrics.SetWorkersActive(r.cfg.Platform, r.registry.Len())

	return report, err
}

func (r *Reconciler) reconcileLocked(ctx context.Context) (Report, error) {
	start := time.Now()

	desired, err := r.desiredState(ctx)
	if err != nil {
		return Report{Platform: r.cfg.Platform}, &model.ConfigurationError{Platform: r.cfg.Platform, Cause: err}
	}
	if r.shutdownCtx.Err() != nil {
		return Report{Platform: r.cfg.Platform}, ErrShuttingDown
	}

	actions := r.plan(desired)
	builder := &reportBuilder{report: Report{Platform: r.cfg.Platform, Failed: make(map[string]string)}}
	r.execute(ctx, actions, builder)

	report := builder.finish(start)
	if report.Changed() {
		r.logger.Info("Reconcile pass applied changes",
			zap.Strings("started", report.Started),
			zap.Strings("stopped", report.Stopped),
			zap.Strings("restarted", report.Restarted),
			zap.Int("failed", len(report.Failed)),
			zap.Duration("duration", report.Duration))
	} else {
		r.logger.Debug("Reconcile pass found no changes", zap.Int("workers", r.registry.Len()))
	}

	return report, nil
}

// desiredState applies the precedence rule: tenant-specific configs win over the shared server worker
func (r *Reconciler) desiredState(ctx context.Context) (map[string]*model.TenantConfig, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	configs, err := r.source.ListEnabledTenantConfigs(fetchCtx, r.cfg.Platform)
	if err != nil {
		return nil, fmt.Errorf("list tenant configs: %w", err)
	}

	desired := make(map[string]*model.TenantConfig)
	var serverRow *model.TenantConfig
	for _, cfg := range configs {
		if cfg == nil || !cfg.Enabled {
			continue
		}
		if cfg.IsServer() {
			serverRow = cfg
			continue
		}
		if !cfg.Runnable() {
			r.logger.Warn("Enabled tenant has no credential, skipping", zap.String("tenant_id", cfg.TenantID))
			continue
		}
		desired[cfg.TenantID] = cfg
	}

	if len(desired) == 0 {
		server, err := r.serverConfig(fetchCtx, serverRow)
		if err != nil {
			return nil, err
		}
		if server != nil {
			desired[model.ServerTenantID] = server
		}
	}

	for tenantID, o := range r.overrides {
		switch o.pin {
		case pinStopped:
			delete(desired, tenantID)
		case pinRunning:
			if _, ok := desired[tenantID]; !ok {
				desired[tenantID] = o.config
			}
		}
	}

	return desired, nil
}

// serverConfig builds the shared worker config, or nil when no server-wide credential exists.
// A "server" row in the config source wins over the stored server credential, which wins over the configured one.
func (r *Reconciler) serverConfig(ctx context.Context, serverRow *model.TenantConfig) (*model.TenantConfig, error) {
	cfg := &model.TenantConfig{
		TenantID:     model.ServerTenantID,
		Platform:     r.cfg.Platform,
		Enabled:      true,
		Scope:        r.cfg.ServerScope,
		AgentBinding: r.cfg.ServerAgentBinding,
	}

	if serverRow != nil && !serverRow.Credential.IsZero() {
		cfg.Credential = serverRow.Credential
		if serverRow.Scope.Mode != "" {
			cfg.Scope = serverRow.Scope
		}
		if serverRow.AgentBinding != "" {
			cfg.AgentBinding = serverRow.AgentBinding
		}
		return cfg, nil
	}

	cred, err := r.source.GetServerWideCredential(ctx, r.cfg.Platform)
	if err != nil {
		return nil, fmt.Errorf("get server-wide credential: %w", err)
	}
	if cred.IsZero() {
		cred = r.cfg.ServerCredential
	}
	if cred.IsZero() {
		return nil, nil
	}

	cfg.Credential = cred
	return cfg, nil
}

func (r *Reconciler) plan(desired map[string]*model.TenantConfig) []action {
	var actions []action
	running := r.registry.Snapshot()

	for tenantID, w := range running {
		cfg, ok := desired[tenantID]
		switch {
		case !ok:
			actions = append(actions, action{kind: actionStop, tenantID: tenantID, current: w})
		case w.Fingerprint() != cfg.Credential.Fingerprint(),
			w.Digest() != cfg.Digest(),
			w.Status().Status == model.WorkerFailed:
			actions = append(actions, action{kind: actionRestart, tenantID: tenantID, current: w, desired: cfg})
		}
	}

	for tenantID, cfg := range desired {
		if _, ok := running[tenantID]; !ok {
			actions = append(actions, action{kind: actionStart, tenantID: tenantID, desired: cfg})
		}
	}

	sort.Slice(actions, func(i, j int) bool { return actions[i].tenantID < actions[j].tenantID })
	return actions
}

// execute runs actions for different tenants concurrently; one tenant's failure never aborts the others
func (r *Reconciler) execute(ctx context.Context, actions []action, builder *reportBuilder) {
	var g errgroup.Group
	g.SetLimit(r.cfg.MaxConcurrentActions)

	for _, a := range actions {
		a := a
		g.Go(func() error {
			r.apply(ctx, a, builder)
			return nil
		})
	}

	_ = g.Wait()
}

func (r *Reconciler) apply(ctx context.Context, a action, builder *reportBuilder) {
	switch a.kind {
	case actionStop:
		r.stopWorker(ctx, a.tenantID, a.current, "tenant no longer desired")
		builder.add(&builder.report.Stopped, a.tenantID)
		if r.cfg.OnTenantRemoved != nil {
			r.cfg.OnTenantRemoved(a.tenantID)
		}

	case actionStart:
		if err := r.startWorker(ctx, a.desired); err != nil {
			builder.fail(a.tenantID, err)
			return
		}
		builder.add(&builder.report.Started, a.tenantID)

	case actionRestart:
		r.stopWorker(ctx, a.tenantID, a.current, "credential or scope changed")
		if err := r.startWorker(ctx, a.desired); err != nil {
			builder.fail(a.tenantID, err)
			return
		}
		builder.add(&builder.report.Restarted, a.tenantID)
		r.publish(events.WorkerRestarted, a.tenantID, a.desired.Credential.Fingerprint(), nil)
	}
}

// stopWorker stops w within the grace period and removes it from the registry even when it overruns
func (r *Reconciler) stopWorker(ctx context.Context, tenantID string, w Worker, reason string) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.StopGrace)
	defer cancel()

	err := w.Stop(stopCtx)
	r.registry.Remove(tenantID, w)

	if err != nil {
		stopErr := &model.StopError{Platform: r.cfg.Platform, TenantID: tenantID, Cause: err}
		r.logger.Warn("Worker did not stop cleanly, treating as stopped",
			zap.String("tenant_id", tenantID),
			zap.Error(stopErr))
		r.metrics.RecordAction(r.cfg.Platform, string(actionStop), "timeout")
	} else {
		r.metrics.RecordAction(r.cfg.Platform, string(actionStop), "ok")
	}

	r.logger.Info("Stopped worker",
		zap.String("tenant_id", tenantID),
		zap.String("reason", reason))
	r.publish(events.WorkerStopped, tenantID, w.Fingerprint(), err)
}

func (r *Reconciler) startWorker(ctx context.Context, cfg *model.TenantConfig) error {
	w, err := r.factory(cfg, r.onWorkerExit)
	if err != nil {
		r.metrics.RecordAction(r.cfg.Platform, string(actionStart), "error")
		startErr := &model.StartError{Platform: r.cfg.Platform, TenantID: cfg.TenantID, Cause: err}
		r.logger.Error("Failed to build worker", zap.String("tenant_id", cfg.TenantID), zap.Error(err))
		return startErr
	}

	startCtx, cancel := context.WithTimeout(ctx, r.cfg.StartTimeout)
	defer cancel()

	if err := w.Start(startCtx); err != nil {
		r.metrics.RecordAction(r.cfg.Platform, string(actionStart), "error")
		r.logger.Error("Failed to start worker", zap.String("tenant_id", cfg.TenantID), zap.Error(err))
		r.publish(events.WorkerFailed, cfg.TenantID, cfg.Credential.Fingerprint(), err)
		var startErr *model.StartError
		if errors.As(err, &startErr) {
			return err
		}
		return &model.StartError{Platform: r.cfg.Platform, TenantID: cfg.TenantID, Cause: err}
	}

	if !r.registry.InsertIfAbsent(cfg.TenantID, w) {
		stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.StopGrace)
		defer stopCancel()
		_ = w.Stop(stopCtx)
		return &model.StartError{
			Platform: r.cfg.Platform,
			TenantID: cfg.TenantID,
			Cause:    errors.New("tenant already has a registered worker"),
		}
	}

	r.metrics.RecordAction(r.cfg.Platform, string(actionStart), "ok")
	r.logger.Info("Started worker",
		zap.String("tenant_id", cfg.TenantID),
		zap.String("credential_fingerprint", cfg.Credential.Fingerprint()))
	r.publish(events.WorkerStarted, cfg.TenantID, cfg.Credential.Fingerprint(), nil)

	return nil
}

// onWorkerExit removes a crashed worker so the next pass starts a fresh one
func (r *Reconciler) onWorkerExit(w Worker, err error) {
	if err == nil {
		return
	}

	removed := r.registry.Remove(w.TenantID(), w)
	r.metrics.SetWorkersActive(r.cfg.Platform, r.registry.Len())
	r.logger.Error("Worker exited unexpectedly, will restart on next reconcile",
		zap.String("tenant_id", w.TenantID()),
		zap.Bool("removed", removed),
		zap.Error(err))
	r.publish(events.WorkerFailed, w.TenantID(), w.Fingerprint(), err)
}

func (r *Reconciler) publish(kind events.Kind, tenantID, fingerprint string, err error) {
	event := events.LifecycleEvent{
		Kind:                  kind,
		Platform:              r.cfg.Platform,
		TenantID:              tenantID,
		CredentialFingerprint: fingerprint,
		Timestamp:             time.Now().UTC(),
	}
	if err != nil {
		event.Error = err.Error()
	}

	if pubErr := r.publisher.Publish(context.Background(), event); pubErr != nil {
		r.logger.Warn("Failed to publish lifecycle event",
			zap.String("tenant_id", tenantID),
			zap.String("kind", string(kind)),
			zap.Error(pubErr))
	}
}

// Trigger requests a reconcile pass as soon as possible
func (r *Reconciler) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run reconciles immediately, then on every interval and trigger until ctx is done or Shutdown is called
func (r *Reconciler) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(r.shutdownCtx, cancel)
	defer stop()

	started := false
	r.runOnce.Do(func() { started = true })
	if !started {
		r.logger.Warn("Reconcile loop already started or shut down")
		return
	}
	defer close(r.loopDone)

	r.logger.Info("Starting reconcile loop", zap.Duration("interval", r.cfg.Interval))

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		case <-r.trigger:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	if _, err := r.Reconcile(ctx); err != nil {
		if errors.Is(err, ErrShuttingDown) || ctx.Err() != nil {
			return
		}
		r.logger.Error("Reconcile pass failed, retrying on next tick", zap.Error(err))
	}
}

// Shutdown stops the loop and every registered worker, each bounded by the stop grace period.
// It is safe to call more than once.
func (r *Reconciler) Shutdown(ctx context.Context) error {
	r.shutdownCancel()

	// Wait for a running loop to exit; it never started if runOnce is still unused
	var loopErr error
	started := true
	r.runOnce.Do(func() { started = false; close(r.loopDone) })
	if started {
		select {
		case <-r.loopDone:
		case <-ctx.Done():
			loopErr = fmt.Errorf("reconcile loop did not exit: %w", ctx.Err())
			r.logger.Warn("Reconcile loop still busy, stopping workers anyway", zap.Error(ctx.Err()))
		}
	}

	// A pass stuck in the config source holds mu; the workers are stopped without it
	if loopErr == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.closed = true
	} else if r.mu.TryLock() {
		defer r.mu.Unlock()
		r.closed = true
	}

	workers := r.registry.Snapshot()
	if len(workers) == 0 {
		return loopErr
	}

	r.logger.Info("Stopping all workers", zap.Int("count", len(workers)))

	var g errgroup.Group
	for tenantID, w := range workers {
		tenantID, w := tenantID, w
		g.Go(func() error {
			r.stopWorker(ctx, tenantID, w, "shutdown")
			return nil
		})
	}
	_ = g.Wait()

	r.metrics.SetWorkersActive(r.cfg.Platform, r.registry.Len())
	return loopErr
}

// ForceStart starts a tenant from its current config even when it is disabled,
// and keeps it running across passes until ForceStop.
func (r *Reconciler) ForceStart(ctx context.Context, tenantID string) (model.WorkerHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return model.WorkerHandle{}, ErrShuttingDown
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	cfg, err := r.tenantConfig(fetchCtx, tenantID)
	if err != nil {
		return model.WorkerHandle{}, err
	}

	if cfg.Enabled {
		delete(r.overrides, tenantID)
	} else {
		r.overrides[tenantID] = override{pin: pinRunning, config: cfg}
	}

	if current, ok := r.registry.Get(tenantID); ok {
		if current.Fingerprint() == cfg.Credential.Fingerprint() &&
			current.Digest() == cfg.Digest() &&
			current.Status().Status == model.WorkerRunning {
			return current.Status(), nil
		}
		r.stopWorker(ctx, tenantID, current, "forced restart")
	}

	if err := r.startWorker(ctx, cfg); err != nil {
		return model.WorkerHandle{}, err
	}

	w, _ := r.registry.Get(tenantID)
	r.metrics.SetWorkersActive(r.cfg.Platform, r.registry.Len())
	return w.Status(), nil
}

// ForceStop stops a tenant's worker and keeps it stopped across passes until ForceStart
func (r *Reconciler) ForceStop(ctx context.Context, tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrShuttingDown
	}

	current, ok := r.registry.Get(tenantID)
	if !ok {
		return fmt.Errorf("tenant %s: %w", tenantID, model.ErrWorkerNotFound)
	}
	r.overrides[tenantID] = override{pin: pinStopped}

	r.stopWorker(ctx, tenantID, current, "forced stop")
	r.metrics.SetWorkersActive(r.cfg.Platform, r.registry.Len())
	return nil
}

func (r *Reconciler) tenantConfig(ctx context.Context, tenantID string) (*model.TenantConfig, error) {
	if tenantID == model.ServerTenantID {
		server, err := r.serverConfig(ctx, nil)
		if err != nil {
			return nil, &model.ConfigurationError{Platform: r.cfg.Platform, TenantID: tenantID, Cause: err}
		}
		if server == nil {
			return nil, fmt.Errorf("tenant %s: %w", tenantID, model.ErrTenantNotConfigured)
		}
		return server, nil
	}

	cfg, err := r.source.GetTenantConfig(ctx, r.cfg.Platform, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, model.ErrTenantNotConfigured)
	}
	if err != nil {
		return nil, &model.ConfigurationError{Platform: r.cfg.Platform, TenantID: tenantID, Cause: err}
	}
	if cfg.Credential.IsZero() {
		return nil, fmt.Errorf("tenant %s has no credential: %w", tenantID, model.ErrTenantNotConfigured)
	}
	return cfg, nil
}
