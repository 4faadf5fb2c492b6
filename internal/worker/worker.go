package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Josh-XT/AGiXT-sub003/internal/metrics"
	"github.com/Josh-XT/AGiXT-sub003/internal/model"
	"github.com/Josh-XT/AGiXT-sub003/internal/policy"
	"github.com/Josh-XT/AGiXT-sub003/internal/store"
	"go.uber.org/zap"
)

const (
	DefaultAgentTimeout         = 120 * time.Second
	DefaultCounterFlushInterval = 5 * time.Minute
	DefaultTypingInterval       = 8 * time.Second

	// cleanupTimeout bounds the counter flush and disconnect done when the loop exits
	cleanupTimeout = 10 * time.Second
	streamBuffer   = 64
)

// Config holds the collaborators and timing of one worker
type Config struct {
	Tenant               *model.TenantConfig
	Adapter              PlatformAdapter
	Agent                Agent
	Dedup                store.DedupCache
	Counters             CounterStore
	AgentTimeout         time.Duration
	CounterFlushInterval time.Duration
	TypingInterval       time.Duration
	Metrics              *metrics.Metrics
	// OnExit is called once when the event loop has exited; err is nil after a requested stop
	OnExit func(w *Worker, err error)
}

type eventResult struct {
	outcome model.Outcome
	err     error
}

type eventRequest struct {
	ctx   context.Context
	event model.Event
	reply chan eventResult
}

// Worker is one tenant's live integration instance.
// All events are handled on a single loop goroutine that owns the dedup cache and counters.
type Worker struct {
	platform    string
	tenant      model.TenantConfig
	fingerprint string
	digest      string
	policy      policy.Policy

	adapter              PlatformAdapter
	agent                Agent
	dedup                store.DedupCache
	counterStore         CounterStore
	agentTimeout         time.Duration
	counterFlushInterval time.Duration
	typingInterval       time.Duration
	metrics              *metrics.Metrics
	onExit               func(w *Worker, err error)
	logger               *zap.Logger

	inbox chan *eventRequest

	mu            sync.RWMutex
	status        model.WorkerStatus
	startedAt     *time.Time
	lastEventAt   *time.Time
	lastError     string
	counters      map[string]int64
	countersDirty bool
	cancel        context.CancelFunc
	done          chan struct{}
}

// New validates the tenant scope and creates a worker in the Stopped state
func New(cfg Config, logger *zap.Logger) (*Worker, error) {
	if cfg.Tenant == nil {
		return nil, model.ErrTenantNotConfigured
	}
	if cfg.Adapter == nil || cfg.Agent == nil || cfg.Dedup == nil {
		return nil, fmt.Errorf("worker for tenant %s: adapter, agent and dedup cache are required", cfg.Tenant.TenantID)
	}

	p, err := policy.FromScope(cfg.Tenant.Scope)
	if err != nil {
		return nil, &model.ConfigurationError{
			Platform: cfg.Adapter.Platform(),
			TenantID: cfg.Tenant.TenantID,
			Cause:    err,
		}
	}

	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = DefaultAgentTimeout
	}
	if cfg.CounterFlushInterval <= 0 {
		cfg.CounterFlushInterval = DefaultCounterFlushInterval
	}
	if cfg.TypingInterval <= 0 {
		cfg.TypingInterval = DefaultTypingInterval
	}

	platform := cfg.Adapter.Platform()

	return &Worker{
		platform:             platform,
		tenant:               *cfg.Tenant,
		fingerprint:          cfg.Tenant.Credential.Fingerprint(),
		digest:               cfg.Tenant.Digest(),
		policy:               p,
		adapter:              cfg.Adapter,
		agent:                cfg.Agent,
		dedup:                cfg.Dedup,
		counterStore:         cfg.Counters,
		agentTimeout:         cfg.AgentTimeout,
		counterFlushInterval: cfg.CounterFlushInterval,
		typingInterval:       cfg.TypingInterval,
		metrics:              cfg.Metrics,
		onExit:               cfg.OnExit,
		logger: logger.With(
			zap.String("platform", platform),
			zap.String("tenant_id", cfg.Tenant.TenantID)),
		inbox:    make(chan *eventRequest),
		status:   model.WorkerStopped,
		counters: make(map[string]int64),
	}, nil
}

// TenantID returns the tenant this worker serves
func (w *Worker) TenantID() string { return w.tenant.TenantID }

// Platform returns the adapter platform name
func (w *Worker) Platform() string { return w.platform }

// Fingerprint returns the fingerprint of the credential the worker was started with
func (w *Worker) Fingerprint() string { return w.fingerprint }

// Digest returns the digest of the scope and agent binding the worker was started with
func (w *Worker) Digest() string { return w.digest }

// Start connects the adapter and launches the event loop. A worker can be started once.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.done != nil {
		w.mu.Unlock()
		return &model.StartError{Platform: w.platform, TenantID: w.tenant.TenantID, Cause: errors.New("worker already started")}
	}
	w.status = model.WorkerStarting
	w.mu.Unlock()

	if err := w.adapter.Connect(ctx, w.tenant.Credential, w.tenant.Scope); err != nil {
		w.mu.Lock()
		w.status = model.WorkerFailed
		w.lastError = err.Error()
		w.mu.Unlock()
		return &model.StartError{Platform: w.platform, TenantID: w.tenant.TenantID, Cause: err}
	}

	if w.counterStore != nil {
		persisted, err := w.counterStore.LoadCounters(ctx, w.platform, w.tenant.TenantID)
		if err != nil {
			w.logger.Warn("Failed to load persisted counters, starting from zero", zap.Error(err))
		}
		w.mu.Lock()
		for name, value := range persisted {
			w.counters[name] = value
		}
		w.mu.Unlock()
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	now := time.Now().UTC()

	w.mu.Lock()
	w.cancel = cancel
	w.done = make(chan struct{})
	w.status = model.WorkerRunning
	w.startedAt = &now
	w.lastError = ""
	w.mu.Unlock()

	go w.run(loopCtx)

	w.logger.Info("Worker started",
		zap.String("credential_fingerprint", w.fingerprint),
		zap.String("config_digest", w.digest))

	return nil
}

// Stop cancels the event loop and waits for it until ctx is done.
// Calling Stop on a worker that is not running succeeds without doing anything.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	done := w.done
	switch {
	case done == nil, w.status == model.WorkerStopped, w.status == model.WorkerFailed:
		w.mu.Unlock()
		return nil
	case w.status == model.WorkerRunning:
		w.status = model.WorkerStopping
		w.cancel()
	}
	w.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		w.mu.Lock()
		w.status = model.WorkerStopped
		w.mu.Unlock()
		w.logger.Warn("Worker did not stop within grace period")
		return model.ErrShutdownTimeout
	}
}

// Done is closed once the event loop has exited
func (w *Worker) Done() <-chan struct{} {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.done
}

// Status returns a snapshot of the worker
func (w *Worker) Status() model.WorkerHandle {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return model.WorkerHandle{
		TenantID:              w.tenant.TenantID,
		Platform:              w.platform,
		CredentialFingerprint: w.fingerprint,
		ConfigDigest:          w.digest,
		Status:                w.status,
		StartedAt:             w.startedAt,
		LastEventAt:           w.lastEventAt,
		Counters:              w.counters,
		LastError:             w.lastError,
	}.Copy()
}

// HandleEvent hands one event to the loop goroutine and waits for its outcome
func (w *Worker) HandleEvent(ctx context.Context, event model.Event) (model.Outcome, error) {
	w.mu.RLock()
	status, done := w.status, w.done
	w.mu.RUnlock()

	if status != model.WorkerRunning {
		return model.Outcome{}, model.ErrWorkerNotRunning
	}

	req := &eventRequest{ctx: ctx, event: event, reply: make(chan eventResult, 1)}

	select {
	case w.inbox <- req:
	case <-done:
		return model.Outcome{}, model.ErrWorkerNotRunning
	case <-ctx.Done():
		return model.Outcome{}, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.outcome, res.err
	case <-done:
		select {
		case res := <-req.reply:
			return res.outcome, res.err
		default:
			return model.Outcome{}, model.ErrWorkerNotRunning
		}
	}
}

func (w *Worker) run(ctx context.Context) {
	err := w.loop(ctx)
	w.cancel()
	w.finish(err)
}

// loop owns the dedup cache and counters until ctx is cancelled
func (w *Worker) loop(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker loop panic: %v", r)
		}
	}()

	var streamCh chan model.Event
	var streamErr chan error
	if s, ok := w.adapter.(Streamer); ok {
		streamCh = make(chan model.Event, streamBuffer)
		streamErr = make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					streamErr <- fmt.Errorf("event stream panic: %v", r)
				}
			}()
			err := s.Stream(ctx, streamCh)
			if ctx.Err() != nil {
				return
			}
			if err == nil {
				err = errors.New("event stream closed")
			}
			streamErr <- err
		}()
	}

	channels := w.adapter.Channels()
	next := make([]time.Time, len(channels))
	start := time.Now()
	for i := range next {
		next[i] = start
	}

	var pollC <-chan time.Time
	var pollTimer *time.Timer
	if len(channels) > 0 {
		pollTimer = time.NewTimer(0)
		defer pollTimer.Stop()
		pollC = pollTimer.C
	}

	flushTicker := time.NewTicker(w.counterFlushInterval)
	defer flushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case req := <-w.inbox:
			reqCtx, cancel := context.WithCancel(req.ctx)
			stop := context.AfterFunc(ctx, cancel)
			outcome, err := w.process(reqCtx, req.event)
			stop()
			cancel()
			req.reply <- eventResult{outcome: outcome, err: err}

		case event := <-streamCh:
			outcome, err := w.process(ctx, event)
			if err != nil {
				w.logger.Warn("Streamed event failed",
					zap.String("event_id", event.ID),
					zap.String("outcome", string(outcome.Kind)),
					zap.Error(err))
			}

		case err := <-streamErr:
			return fmt.Errorf("event stream: %w", err)

		case <-pollC:
			now := time.Now()
			for i, ch := range channels {
				if now.Before(next[i]) {
					continue
				}
				w.poll(ctx, ch.Name)
				next[i] = time.Now().Add(ch.Interval)
			}
			pollTimer.Reset(untilNext(next))

		case <-flushTicker.C:
			w.flushCounters(ctx)
		}
	}
}

func untilNext(next []time.Time) time.Duration {
	earliest := next[0]
	for _, t := range next[1:] {
		if t.Before(earliest) {
			earliest = t
		}
	}
	d := time.Until(earliest)
	if d < 0 {
		return 0
	}
	return d
}

func (w *Worker) poll(ctx context.Context, channel string) {
	events, err := w.adapter.Poll(ctx, channel)
	if err != nil {
		if ctx.Err() == nil {
			w.incr(model.CounterPollErrors)
			w.logger.Warn("Poll failed", zap.String("channel", channel), zap.Error(err))
		}
		return
	}

	for _, event := range events {
		if ctx.Err() != nil {
			return
		}
		outcome, err := w.process(ctx, event)
		if err != nil {
			w.logger.Warn("Polled event failed",
				zap.String("channel", channel),
				zap.String("event_id", event.ID),
				zap.String("outcome", string(outcome.Kind)),
				zap.Error(err))
		}
	}

	if ctx.Err() != nil {
		return
	}
	if c, ok := w.adapter.(PollCommitter); ok {
		c.CommitPoll(channel)
	}
}

// process runs the permission check, dedup check and agent call for one event
func (w *Worker) process(ctx context.Context, event model.Event) (model.Outcome, error) {
	start := time.Now()
	outcome, err := w.handle(ctx, event)
	w.metrics.RecordEvent(w.platform, string(outcome.Kind), time.Since(start).Seconds())

	now := time.Now().UTC()
	w.mu.Lock()
	w.lastEventAt = &now
	if err != nil {
		w.lastError = err.Error()
	}
	w.mu.Unlock()

	return outcome, err
}

func (w *Worker) handle(ctx context.Context, event model.Event) (model.Outcome, error) {
	if event.ID == "" {
		return w.failed(event, errors.New("event has no id"))
	}
	logger := w.logger.With(zap.String("event_id", event.ID))

	decision, reason := policy.Check(w.policy, w.tenant.Scope, event)
	if !decision.Allowed() {
		w.incr(model.CounterEventsDenied)
		logger.Info("Event denied", zap.String("reason", reason))
		if n, ok := w.adapter.(Notifier); ok {
			if err := n.NotifyDenied(ctx, event, reason); err != nil {
				logger.Warn("Failed to notify denied originator", zap.Error(err))
			}
		}
		return model.Outcome{Kind: model.OutcomeDenied, EventID: event.ID, Reason: reason}, nil
	}

	first, err := w.dedup.MarkSeen(ctx, w.tenant.TenantID, event.ID)
	if err != nil {
		return w.failed(event, fmt.Errorf("dedup check: %w", err))
	}
	if !first {
		w.incr(model.CounterEventsDuplicate)
		logger.Debug("Event already processed")
		return model.Outcome{Kind: model.OutcomeAlreadyProcessed, EventID: event.ID}, nil
	}

	stopTyping := w.startTyping(ctx, event)
	response, err := w.callAgent(ctx, event, decision)
	stopTyping()
	if err != nil {
		w.metrics.RecordAgentError(w.platform)
		return w.failed(event, err)
	}

	if !response.Empty() {
		if err := w.adapter.SendReply(ctx, event, response); err != nil {
			return w.failed(event, fmt.Errorf("send reply: %w", err))
		}
		w.incr(model.CounterRepliesSent)
	}

	w.incr(model.CounterEventsProcessed)
	logger.Debug("Event processed")
	return model.Outcome{Kind: model.OutcomeProcessed, EventID: event.ID}, nil
}

func (w *Worker) callAgent(ctx context.Context, event model.Event, decision policy.Decision) (Response, error) {
	agentCtx, cancel := context.WithTimeout(ctx, w.agentTimeout)
	defer cancel()

	response, err := w.agent.Process(agentCtx, event, AgentContext{
		TenantID:     w.tenant.TenantID,
		Platform:     w.platform,
		AgentBinding: w.tenant.AgentBinding,
		OwnerID:      w.tenant.Scope.OwnerID,
		ActAsOwner:   decision == policy.AllowAsOwner,
	})
	if err != nil {
		if errors.Is(agentCtx.Err(), context.DeadlineExceeded) {
			return Response{}, fmt.Errorf("agent timed out after %s: %w", w.agentTimeout, err)
		}
		return Response{}, fmt.Errorf("agent: %w", err)
	}
	return response, nil
}

// startTyping keeps the typing indicator alive until the returned func is called
func (w *Worker) startTyping(ctx context.Context, event model.Event) func() {
	indicator, ok := w.adapter.(TypingIndicator)
	if !ok {
		return func() {}
	}

	typingCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("Typing indicator panicked",
					zap.String("event_id", event.ID),
					zap.Any("panic", r))
			}
		}()
		ticker := time.NewTicker(w.typingInterval)
		defer ticker.Stop()
		for {
			if err := indicator.SendTyping(typingCtx, event); err != nil && typingCtx.Err() == nil {
				w.logger.Debug("Typing indicator failed", zap.String("event_id", event.ID), zap.Error(err))
			}
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}

func (w *Worker) failed(event model.Event, cause error) (model.Outcome, error) {
	w.incr(model.CounterEventsFailed)
	err := &model.ProcessingError{TenantID: w.tenant.TenantID, EventID: event.ID, Cause: cause}
	w.logger.Error("Event processing failed", zap.String("event_id", event.ID), zap.Error(cause))
	return model.Outcome{Kind: model.OutcomeFailed, EventID: event.ID, Reason: cause.Error()}, err
}

func (w *Worker) incr(name string) {
	w.mu.Lock()
	w.counters[name]++
	w.countersDirty = true
	w.mu.Unlock()
}

func (w *Worker) flushCounters(ctx context.Context) {
	if w.counterStore == nil {
		return
	}

	w.mu.Lock()
	if !w.countersDirty {
		w.mu.Unlock()
		return
	}
	snapshot := make(map[string]int64, len(w.counters))
	for k, v := range w.counters {
		snapshot[k] = v
	}
	w.countersDirty = false
	w.mu.Unlock()

	if err := w.counterStore.PersistCounters(ctx, w.platform, w.tenant.TenantID, snapshot); err != nil {
		w.mu.Lock()
		w.countersDirty = true
		w.mu.Unlock()
		w.logger.Warn("Failed to persist counters", zap.Error(err))
	}
}

// finish runs on the loop goroutine after the loop has exited
func (w *Worker) finish(loopErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	w.flushCounters(ctx)

	if err := w.adapter.Disconnect(ctx); err != nil {
		w.logger.Warn("Failed to disconnect adapter", zap.Error(err))
	}

	w.mu.Lock()
	if loopErr != nil {
		w.status = model.WorkerFailed
		w.lastError = loopErr.Error()
	} else {
		w.status = model.WorkerStopped
	}
	done := w.done
	w.mu.Unlock()

	if loopErr != nil {
		w.metrics.RecordCrash(w.platform)
		w.logger.Error("Worker crashed", zap.Error(loopErr))
	} else {
		w.logger.Info("Worker stopped")
	}

	close(done)

	if w.onExit != nil {
		w.onExit(w, loopErr)
	}
}
