package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Josh-XT/AGiXT-sub003/internal/model"
)

// Channel is one pollable event source of an adapter with its own interval
type Channel struct {
	Name     string
	Interval time.Duration
}

// PlatformAdapter is the platform-specific half of a worker. One adapter instance serves one tenant.
type PlatformAdapter interface {
	Platform() string
	Connect(ctx context.Context, credential model.Credential, scope model.Scope) error
	Disconnect(ctx context.Context) error
	// Channels lists the sources the worker polls; empty for push-only adapters
	Channels() []Channel
	Poll(ctx context.Context, channel string) ([]model.Event, error)
	SendReply(ctx context.Context, event model.Event, response Response) error
}

// Streamer is implemented by adapters holding a persistent connection.
// Stream blocks until ctx is done or the connection fails, and must stop sending once ctx is done.
type Streamer interface {
	Stream(ctx context.Context, out chan<- model.Event) error
}

// TypingIndicator is implemented by adapters that can show activity while an event is processed
type TypingIndicator interface {
	SendTyping(ctx context.Context, event model.Event) error
}

// Notifier is implemented by adapters that tell a denied originator why nothing happened
type Notifier interface {
	NotifyDenied(ctx context.Context, event model.Event, reason string) error
}

// PollCommitter is implemented by adapters whose feed position only moves once the
// worker has handled every event of the last page. An uncommitted page is fetched again.
type PollCommitter interface {
	CommitPoll(channel string)
}

// AgentContext carries the tenant binding for one downstream agent call
type AgentContext struct {
	TenantID     string `json:"tenant_id"`
	Platform     string `json:"platform"`
	AgentBinding string `json:"agent_binding,omitempty"`
	OwnerID      string `json:"owner_id,omitempty"`
	// ActAsOwner is set when an unlinked originator is served with the owner's identity
	ActAsOwner bool `json:"act_as_owner,omitempty"`
}

// Response is what the downstream agent produced for one event
type Response struct {
	Content string          `json:"content"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Empty reports whether there is nothing to send back
func (r Response) Empty() bool {
	return r.Content == "" && len(r.Payload) == 0
}

// Agent is the downstream conversational agent that turns an event into a response
type Agent interface {
	Process(ctx context.Context, event model.Event, actx AgentContext) (Response, error)
}

// CounterStore persists worker counters across restarts
type CounterStore interface {
	LoadCounters(ctx context.Context, platform, tenantID string) (map[string]int64, error)
	PersistCounters(ctx context.Context, platform, tenantID string, counters map[string]int64) error
}
