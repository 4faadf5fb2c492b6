// Package httppoll implements a platform adapter that polls cursor-based event
// feeds over HTTP, one feed per channel.
package httppoll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Josh-XT/AGiXT-sub003/internal/httpclient"
	"github.com/Josh-XT/AGiXT-sub003/internal/model"
	"github.com/Josh-XT/AGiXT-sub003/internal/worker"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when polling or replying before Connect
var ErrNotConnected = errors.New("adapter not connected")

// DefaultChannels mirror the usual direct message and mention feeds
var DefaultChannels = []worker.Channel{
	{Name: "direct_messages", Interval: 30 * time.Second},
	{Name: "mentions", Interval: 60 * time.Second},
}

// Options configures the adapter
type Options struct {
	Platform          string
	BaseURL           string
	Channels          []worker.Channel
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerSecond float64
	// PageLimit caps the events returned by one poll
	PageLimit int
}

type feedPage struct {
	Events     []model.Event `json:"events"`
	NextCursor string        `json:"next_cursor"`
}

type replyRequest struct {
	EventID string          `json:"event_id"`
	Target  model.Target    `json:"target"`
	Content string          `json:"content,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Adapter polls one tenant's feeds
type Adapter struct {
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	client  *httpclient.Client
	cursors map[string]string
	// pending holds the next cursor of a page until CommitPoll
	pending map[string]string
}

// New creates an adapter for one tenant
func New(opts Options, logger *zap.Logger) *Adapter {
	if len(opts.Channels) == 0 {
		opts.Channels = DefaultChannels
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = 50
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	return &Adapter{
		opts:    opts,
		logger:  logger,
		cursors: make(map[string]string),
		pending: make(map[string]string),
	}
}

func (a *Adapter) Platform() string { return a.opts.Platform }

// Connect verifies the credential against the platform before any feed is polled
func (a *Adapter) Connect(ctx context.Context, credential model.Credential, scope model.Scope) error {
	if credential.IsZero() {
		return fmt.Errorf("empty credential")
	}
	if a.opts.BaseURL == "" {
		return fmt.Errorf("base url not configured for %s", a.opts.Platform)
	}

	client := httpclient.New(a.opts.BaseURL, credential.Reveal(), httpclient.Options{
		Timeout:           a.opts.Timeout,
		MaxRetries:        a.opts.MaxRetries,
		RequestsPerSecond: a.opts.RequestsPerSecond,
	})

	var me struct {
		ID string `json:"id"`
	}
	if err := client.DoJSON(ctx, http.MethodGet, "/me", nil, nil, &me); err != nil {
		return fmt.Errorf("credential check failed: %w", err)
	}

	a.mu.Lock()
	a.client = client
	a.mu.Unlock()

	a.logger.Info("Polling adapter connected",
		zap.String("platform", a.opts.Platform),
		zap.String("account_id", me.ID),
		zap.Int("channels", len(a.opts.Channels)))
	return nil
}

// Disconnect drops the client. Cursors are kept so a reconnect resumes the feeds.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	a.client = nil
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Channels() []worker.Channel {
	out := make([]worker.Channel, len(a.opts.Channels))
	copy(out, a.opts.Channels)
	return out
}

// Poll fetches the page after the channel's committed cursor. Events without an id
// get a generated one so distinct messages never share a dedup key.
func (a *Adapter) Poll(ctx context.Context, channel string) ([]model.Event, error) {
	a.mu.Lock()
	client := a.client
	cursor := a.cursors[channel]
	a.mu.Unlock()
	if client == nil {
		return nil, ErrNotConnected
	}

	query := url.Values{}
	query.Set("limit", fmt.Sprintf("%d", a.opts.PageLimit))
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	path := "/channels/" + url.PathEscape(channel) + "/events?" + query.Encode()

	var page feedPage
	if err := client.DoJSON(ctx, http.MethodGet, path, nil, nil, &page); err != nil {
		return nil, fmt.Errorf("poll %s: %w", channel, err)
	}

	a.mu.Lock()
	if page.NextCursor != "" {
		a.pending[channel] = page.NextCursor
	} else {
		delete(a.pending, channel)
	}
	a.mu.Unlock()

	now := time.Now().UTC()
	for i := range page.Events {
		if page.Events[i].ID == "" {
			page.Events[i].ID = uuid.NewString()
		}
		if page.Events[i].Type == "" {
			page.Events[i].Type = channel
		}
		if page.Events[i].ReceivedAt.IsZero() {
			page.Events[i].ReceivedAt = now
		}
	}
	return page.Events, nil
}

// CommitPoll moves the channel's cursor past the last polled page
func (a *Adapter) CommitPoll(channel string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if next, ok := a.pending[channel]; ok {
		a.cursors[channel] = next
		delete(a.pending, channel)
	}
}

func (a *Adapter) SendReply(ctx context.Context, event model.Event, response worker.Response) error {
	client, err := a.current()
	if err != nil {
		return err
	}
	return client.DoJSON(ctx, http.MethodPost, "/replies", nil, replyRequest{
		EventID: event.ID,
		Target:  event.Target,
		Content: response.Content,
		Payload: response.Payload,
	}, nil)
}

// SendTyping shows activity on the event's target
func (a *Adapter) SendTyping(ctx context.Context, event model.Event) error {
	client, err := a.current()
	if err != nil {
		return err
	}
	return client.DoJSON(ctx, http.MethodPost, "/typing", nil, map[string]string{
		"target_id": event.Target.ID,
	}, nil)
}

func (a *Adapter) current() (*httpclient.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil, ErrNotConnected
	}
	return a.client, nil
}
