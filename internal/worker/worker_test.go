package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Josh-XT/AGiXT-sub003/internal/model"
	"github.com/Josh-XT/AGiXT-sub003/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeAdapter is a push-only adapter unless channels or a stream are configured
type fakeAdapter struct {
	mu          sync.Mutex
	connectErr  error
	connected   bool
	disconnects int
	channels    []Channel
	pollEvents  map[string][]model.Event
	polls       map[string]int
	replies     []Response
	denied      []string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		pollEvents: make(map[string][]model.Event),
		polls:      make(map[string]int),
	}
}

func (a *fakeAdapter) Platform() string { return "discord" }

func (a *fakeAdapter) Connect(ctx context.Context, credential model.Credential, scope model.Scope) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connectErr != nil {
		return a.connectErr
	}
	a.connected = true
	return nil
}

func (a *fakeAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	a.disconnects++
	return nil
}

func (a *fakeAdapter) Channels() []Channel { return a.channels }

func (a *fakeAdapter) Poll(ctx context.Context, channel string) ([]model.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.polls[channel]++
	events := a.pollEvents[channel]
	a.pollEvents[channel] = nil
	return events, nil
}

func (a *fakeAdapter) SendReply(ctx context.Context, event model.Event, response Response) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replies = append(a.replies, response)
	return nil
}

func (a *fakeAdapter) NotifyDenied(ctx context.Context, event model.Event, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.denied = append(a.denied, event.ID)
	return nil
}

func (a *fakeAdapter) pollCount(channel string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.polls[channel]
}

func (a *fakeAdapter) replyCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.replies)
}

// streamingAdapter fails its stream once failStream is closed
type streamingAdapter struct {
	*fakeAdapter
	events     chan model.Event
	failStream chan struct{}
}

func (a *streamingAdapter) Stream(ctx context.Context, out chan<- model.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.failStream:
			return errors.New("gateway connection reset")
		case e := <-a.events:
			select {
			case out <- e:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

type typingAdapter struct {
	*fakeAdapter
	typing atomic.Int32
}

func (a *typingAdapter) SendTyping(ctx context.Context, event model.Event) error {
	a.typing.Add(1)
	return nil
}

// panickyStreamAdapter's stream writes to a nil map
type panickyStreamAdapter struct {
	*fakeAdapter
}

func (a *panickyStreamAdapter) Stream(ctx context.Context, out chan<- model.Event) error {
	var seen map[string]bool
	seen["boom"] = true
	return nil
}

type panickyTypingAdapter struct {
	*fakeAdapter
}

func (a *panickyTypingAdapter) SendTyping(ctx context.Context, event model.Event) error {
	panic("typing endpoint exploded")
}

// committingAdapter records how many replies had been sent when each page was committed
type committingAdapter struct {
	*fakeAdapter
	commits chan int
}

func (a *committingAdapter) CommitPoll(channel string) {
	a.commits <- a.replyCount()
}

// MockAgent is a mock implementation of Agent
type MockAgent struct {
	mock.Mock
}

func (m *MockAgent) Process(ctx context.Context, event model.Event, actx AgentContext) (Response, error) {
	args := m.Called(ctx, event, actx)
	return args.Get(0).(Response), args.Error(1)
}

// blockingAgent waits for release, ignoring ctx when ignoreCtx is set
type blockingAgent struct {
	release   chan struct{}
	ignoreCtx bool
	calls     atomic.Int32
}

func (a *blockingAgent) Process(ctx context.Context, event model.Event, actx AgentContext) (Response, error) {
	a.calls.Add(1)
	if a.ignoreCtx {
		<-a.release
		return Response{Content: "late"}, nil
	}
	select {
	case <-a.release:
		return Response{Content: "ok"}, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

type panicAgent struct{}

func (panicAgent) Process(ctx context.Context, event model.Event, actx AgentContext) (Response, error) {
	panic("nil map in agent")
}

type memCounters struct {
	mu   sync.Mutex
	data map[string]map[string]int64
}

func newMemCounters() *memCounters {
	return &memCounters{data: make(map[string]map[string]int64)}
}

func (c *memCounters) LoadCounters(ctx context.Context, platform, tenantID string) (map[string]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64)
	for k, v := range c.data[platform+"/"+tenantID] {
		out[k] = v
	}
	return out, nil
}

func (c *memCounters) PersistCounters(ctx context.Context, platform, tenantID string, counters map[string]int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make(map[string]int64, len(counters))
	for k, v := range counters {
		cp[k] = v
	}
	c.data[platform+"/"+tenantID] = cp
	return nil
}

func anyoneTenant() *model.TenantConfig {
	return &model.TenantConfig{
		TenantID:   "acme",
		Platform:   "discord",
		Enabled:    true,
		Credential: model.NewCredential("acme-token"),
		Scope:      model.Scope{Mode: model.PermissionAnyone},
	}
}

func newTestWorker(t *testing.T, cfg Config) *Worker {
	t.Helper()
	if cfg.Tenant == nil {
		cfg.Tenant = anyoneTenant()
	}
	if cfg.Adapter == nil {
		cfg.Adapter = newFakeAdapter()
	}
	if cfg.Dedup == nil {
		dedup, err := store.NewLRUDedupCache(100, zap.NewNop())
		require.NoError(t, err)
		cfg.Dedup = dedup
	}
	w, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	return w
}

func evt(id string) model.Event {
	return model.Event{
		ID:         id,
		Type:       "message",
		Originator: model.Originator{ID: "u1", Linked: true},
		Content:    "hello",
	}
}

func TestWorker_StartStopLifecycle(t *testing.T) {
	adapter := newFakeAdapter()
	agent := new(MockAgent)
	w := newTestWorker(t, Config{Adapter: adapter, Agent: agent})

	assert.Equal(t, model.WorkerStopped, w.Status().Status)
	assert.Nil(t, w.Status().StartedAt)

	require.NoError(t, w.Start(context.Background()))
	status := w.Status()
	assert.Equal(t, model.WorkerRunning, status.Status)
	assert.NotNil(t, status.StartedAt)
	assert.Equal(t, model.NewCredential("acme-token").Fingerprint(), status.CredentialFingerprint)

	require.NoError(t, w.Stop(context.Background()))
	assert.Equal(t, model.WorkerStopped, w.Status().Status)

	// Second stop is a no-op
	require.NoError(t, w.Stop(context.Background()))

	adapter.mu.Lock()
	assert.Equal(t, 1, adapter.disconnects)
	assert.False(t, adapter.connected)
	adapter.mu.Unlock()
}

func TestWorker_StartFailure(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.connectErr = errors.New("401 unauthorized")
	w := newTestWorker(t, Config{Adapter: adapter, Agent: new(MockAgent)})

	err := w.Start(context.Background())

	var startErr *model.StartError
	require.ErrorAs(t, err, &startErr)
	assert.Equal(t, "acme", startErr.TenantID)
	status := w.Status()
	assert.Equal(t, model.WorkerFailed, status.Status)
	assert.Contains(t, status.LastError, "401")

	assert.NoError(t, w.Stop(context.Background()))
}

func TestWorker_UnknownModeRejected(t *testing.T) {
	tenant := anyoneTenant()
	tenant.Scope.Mode = "sometimes"

	_, err := New(Config{Tenant: tenant, Adapter: newFakeAdapter(), Agent: new(MockAgent), Dedup: &store.LRUDedupCache{}}, zap.NewNop())

	var cfgErr *model.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestWorker_HandleEventBeforeStart(t *testing.T) {
	w := newTestWorker(t, Config{Agent: new(MockAgent)})

	_, err := w.HandleEvent(context.Background(), evt("evt-1"))
	assert.ErrorIs(t, err, model.ErrWorkerNotRunning)
}

func TestWorker_RedeliveredEventProcessedOnce(t *testing.T) {
	adapter := newFakeAdapter()
	agent := new(MockAgent)
	agent.On("Process", mock.Anything, mock.MatchedBy(func(e model.Event) bool { return e.ID == "evt-1" }), mock.Anything).
		Return(Response{Content: "hi there"}, nil).Once()

	w := newTestWorker(t, Config{Adapter: adapter, Agent: agent})
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	ctx := context.Background()
	out, err := w.HandleEvent(ctx, evt("evt-1"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeProcessed, out.Kind)

	out, err = w.HandleEvent(ctx, evt("evt-1"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeAlreadyProcessed, out.Kind)

	agent.AssertNumberOfCalls(t, "Process", 1)
	assert.Equal(t, 1, adapter.replyCount())

	counters := w.Status().Counters
	assert.Equal(t, int64(1), counters[model.CounterEventsProcessed])
	assert.Equal(t, int64(1), counters[model.CounterEventsDuplicate])
	assert.Equal(t, int64(1), counters[model.CounterRepliesSent])
}

func TestWorker_AllowlistDeniesByDefault(t *testing.T) {
	tenant := anyoneTenant()
	tenant.Scope = model.Scope{Mode: model.PermissionAllowlist}
	adapter := newFakeAdapter()
	agent := new(MockAgent)

	w := newTestWorker(t, Config{Tenant: tenant, Adapter: adapter, Agent: agent})
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	out, err := w.HandleEvent(context.Background(), evt("evt-1"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeDenied, out.Kind)
	assert.NotEmpty(t, out.Reason)

	agent.AssertNotCalled(t, "Process", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, int64(1), w.Status().Counters[model.CounterEventsDenied])

	adapter.mu.Lock()
	assert.Equal(t, []string{"evt-1"}, adapter.denied)
	adapter.mu.Unlock()
}

func TestWorker_OwnerFallbackContext(t *testing.T) {
	tenant := anyoneTenant()
	tenant.Scope = model.Scope{Mode: model.PermissionAnyone, OwnerID: "owner-1", OwnerFallback: true}
	tenant.AgentBinding = "support"
	agent := new(MockAgent)
	agent.On("Process", mock.Anything, mock.Anything, AgentContext{
		TenantID:     "acme",
		Platform:     "discord",
		AgentBinding: "support",
		OwnerID:      "owner-1",
		ActAsOwner:   true,
	}).Return(Response{}, nil).Once()

	w := newTestWorker(t, Config{Tenant: tenant, Agent: agent})
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	e := evt("evt-1")
	e.Originator.Linked = false
	out, err := w.HandleEvent(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeProcessed, out.Kind)
	agent.AssertExpectations(t)
}

func TestWorker_AgentFailureKeepsWorkerRunning(t *testing.T) {
	agent := new(MockAgent)
	agent.On("Process", mock.Anything, mock.MatchedBy(func(e model.Event) bool { return e.ID == "evt-1" }), mock.Anything).
		Return(Response{}, errors.New("upstream 503")).Once()
	agent.On("Process", mock.Anything, mock.MatchedBy(func(e model.Event) bool { return e.ID == "evt-2" }), mock.Anything).
		Return(Response{Content: "ok"}, nil).Once()

	w := newTestWorker(t, Config{Agent: agent})
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	out, err := w.HandleEvent(context.Background(), evt("evt-1"))
	var procErr *model.ProcessingError
	require.ErrorAs(t, err, &procErr)
	assert.Equal(t, "evt-1", procErr.EventID)
	assert.Equal(t, model.OutcomeFailed, out.Kind)
	assert.Contains(t, w.Status().LastError, "upstream 503")

	out, err = w.HandleEvent(context.Background(), evt("evt-2"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeProcessed, out.Kind)

	status := w.Status()
	assert.Equal(t, model.WorkerRunning, status.Status)
	assert.Equal(t, int64(1), status.Counters[model.CounterEventsFailed])
	assert.Equal(t, int64(1), status.Counters[model.CounterEventsProcessed])
}

func TestWorker_AgentTimeout(t *testing.T) {
	agent := &blockingAgent{release: make(chan struct{})}
	w := newTestWorker(t, Config{Agent: agent, AgentTimeout: 30 * time.Millisecond})
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	out, err := w.HandleEvent(context.Background(), evt("evt-1"))
	require.Error(t, err)
	assert.Equal(t, model.OutcomeFailed, out.Kind)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, out.Reason, "timed out")
}

func TestWorker_PollsChannelsIndependently(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.channels = []Channel{
		{Name: "direct_messages", Interval: 10 * time.Millisecond},
		{Name: "mentions", Interval: time.Hour},
	}
	adapter.pollEvents["direct_messages"] = []model.Event{evt("dm-1"), evt("dm-2")}

	agent := new(MockAgent)
	agent.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(Response{Content: "reply"}, nil)

	w := newTestWorker(t, Config{Adapter: adapter, Agent: agent})
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	assert.Eventually(t, func() bool {
		return adapter.pollCount("direct_messages") >= 3 && adapter.replyCount() == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, adapter.pollCount("mentions"))
	agent.AssertNumberOfCalls(t, "Process", 2)
}

func TestWorker_StreamFailureMarksFailed(t *testing.T) {
	adapter := &streamingAdapter{
		fakeAdapter: newFakeAdapter(),
		events:      make(chan model.Event),
		failStream:  make(chan struct{}),
	}
	agent := new(MockAgent)
	agent.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(Response{Content: "pong"}, nil)

	exited := make(chan error, 1)
	w := newTestWorker(t, Config{
		Adapter: adapter,
		Agent:   agent,
		OnExit:  func(_ *Worker, err error) { exited <- err },
	})
	require.NoError(t, w.Start(context.Background()))

	adapter.events <- evt("stream-1")
	assert.Eventually(t, func() bool { return adapter.replyCount() == 1 }, time.Second, 5*time.Millisecond)

	close(adapter.failStream)

	select {
	case err := <-exited:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "gateway connection reset")
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit")
	}

	status := w.Status()
	assert.Equal(t, model.WorkerFailed, status.Status)
	assert.Contains(t, status.LastError, "gateway connection reset")
	assert.NoError(t, w.Stop(context.Background()))
}

func TestWorker_PanicIsRecovered(t *testing.T) {
	exited := make(chan error, 1)
	w := newTestWorker(t, Config{
		Agent:  panicAgent{},
		OnExit: func(_ *Worker, err error) { exited <- err },
	})
	require.NoError(t, w.Start(context.Background()))

	_, err := w.HandleEvent(context.Background(), evt("evt-1"))
	assert.ErrorIs(t, err, model.ErrWorkerNotRunning)

	select {
	case err := <-exited:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panic")
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit")
	}
	assert.Equal(t, model.WorkerFailed, w.Status().Status)
}

func TestWorker_StopTimeout(t *testing.T) {
	agent := &blockingAgent{release: make(chan struct{}), ignoreCtx: true}
	w := newTestWorker(t, Config{Agent: agent})
	require.NoError(t, w.Start(context.Background()))

	go func() { _, _ = w.HandleEvent(context.Background(), evt("evt-1")) }()
	assert.Eventually(t, func() bool { return agent.calls.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := w.Stop(ctx)
	assert.ErrorIs(t, err, model.ErrShutdownTimeout)
	assert.Equal(t, model.WorkerStopped, w.Status().Status)

	close(agent.release)
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after release")
	}
}

func TestWorker_CountersPersistAcrossRestart(t *testing.T) {
	counters := newMemCounters()
	agent := new(MockAgent)
	agent.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(Response{}, nil)

	w := newTestWorker(t, Config{Agent: agent, Counters: counters})
	require.NoError(t, w.Start(context.Background()))
	_, err := w.HandleEvent(context.Background(), evt("evt-1"))
	require.NoError(t, err)
	require.NoError(t, w.Stop(context.Background()))

	persisted, err := counters.LoadCounters(context.Background(), "discord", "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(1), persisted[model.CounterEventsProcessed])

	restarted := newTestWorker(t, Config{Agent: agent, Counters: counters})
	require.NoError(t, restarted.Start(context.Background()))
	defer restarted.Stop(context.Background())
	assert.Equal(t, int64(1), restarted.Status().Counters[model.CounterEventsProcessed])
}

func TestWorker_TypingIndicatorScopedToEvent(t *testing.T) {
	adapter := &typingAdapter{fakeAdapter: newFakeAdapter()}
	agent := &blockingAgent{release: make(chan struct{})}
	w := newTestWorker(t, Config{Adapter: adapter, Agent: agent, TypingInterval: 5 * time.Millisecond})
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = w.HandleEvent(context.Background(), evt("evt-1"))
	}()

	assert.Eventually(t, func() bool { return adapter.typing.Load() >= 2 }, time.Second, time.Millisecond)
	close(agent.release)
	<-done

	after := adapter.typing.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, adapter.typing.Load())
}

func TestWorker_StatusIsSnapshot(t *testing.T) {
	agent := new(MockAgent)
	agent.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(Response{}, nil)
	w := newTestWorker(t, Config{Agent: agent})
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	snapshot := w.Status()
	snapshot.Counters[model.CounterEventsProcessed] = 99

	assert.Equal(t, int64(0), w.Status().Counters[model.CounterEventsProcessed])
}

func TestWorker_StreamPanicMarksFailed(t *testing.T) {
	adapter := &panickyStreamAdapter{fakeAdapter: newFakeAdapter()}
	exited := make(chan error, 1)
	w := newTestWorker(t, Config{
		Adapter: adapter,
		Agent:   new(MockAgent),
		OnExit:  func(_ *Worker, err error) { exited <- err },
	})
	require.NoError(t, w.Start(context.Background()))

	select {
	case err := <-exited:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "event stream panic")
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit")
	}
	assert.Equal(t, model.WorkerFailed, w.Status().Status)
	assert.Contains(t, w.Status().LastError, "nil map")
}

func TestWorker_TypingPanicDoesNotStopEvent(t *testing.T) {
	adapter := &panickyTypingAdapter{fakeAdapter: newFakeAdapter()}
	agent := new(MockAgent)
	agent.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(Response{Content: "reply"}, nil)

	w := newTestWorker(t, Config{Adapter: adapter, Agent: agent})
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	out, err := w.HandleEvent(context.Background(), evt("evt-1"))
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeProcessed, out.Kind)
	assert.Equal(t, 1, adapter.replyCount())
	assert.Equal(t, model.WorkerRunning, w.Status().Status)
}

func TestWorker_EventWithoutIDIsRejected(t *testing.T) {
	agent := new(MockAgent)
	w := newTestWorker(t, Config{Agent: agent})
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	for i := 0; i < 2; i++ {
		out, err := w.HandleEvent(context.Background(), evt(""))
		var procErr *model.ProcessingError
		require.ErrorAs(t, err, &procErr)
		assert.Equal(t, model.OutcomeFailed, out.Kind)
	}

	counters := w.Status().Counters
	assert.Equal(t, int64(2), counters[model.CounterEventsFailed])
	assert.Zero(t, counters[model.CounterEventsDuplicate])
	agent.AssertNotCalled(t, "Process", mock.Anything, mock.Anything, mock.Anything)
}

func TestWorker_CommitsPollAfterPageIsHandled(t *testing.T) {
	adapter := &committingAdapter{fakeAdapter: newFakeAdapter(), commits: make(chan int, 16)}
	adapter.channels = []Channel{{Name: "mentions", Interval: time.Hour}}
	adapter.pollEvents["mentions"] = []model.Event{evt("m-1"), evt("m-2")}

	agent := new(MockAgent)
	agent.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(Response{Content: "reply"}, nil)

	w := newTestWorker(t, Config{Adapter: adapter, Agent: agent})
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop(context.Background())

	select {
	case replies := <-adapter.commits:
		assert.Equal(t, 2, replies)
	case <-time.After(2 * time.Second):
		t.Fatal("page was never committed")
	}
}
