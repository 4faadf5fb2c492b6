// Package webhook implements the push-only platform adapter. Events arrive through
// the supervisor's webhook ingress; replies are POSTed back to the platform's reply URL.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Josh-XT/AGiXT-sub003/internal/httpclient"
	"github.com/Josh-XT/AGiXT-sub003/internal/model"
	"github.com/Josh-XT/AGiXT-sub003/internal/worker"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when replying before Connect
var ErrNotConnected = errors.New("adapter not connected")

// Options configures the adapter
type Options struct {
	Platform   string
	ReplyURL   string
	Timeout    time.Duration
	MaxRetries int
}

// Adapter is a push-only worker.PlatformAdapter
type Adapter struct {
	opts   Options
	logger *zap.Logger

	mu     sync.RWMutex
	client *httpclient.Client
}

// New creates an adapter for one tenant
func New(opts Options, logger *zap.Logger) *Adapter {
	return &Adapter{opts: opts, logger: logger}
}

func (a *Adapter) Platform() string { return a.opts.Platform }

// Connect keeps the credential for outgoing replies. Nothing is dialed.
func (a *Adapter) Connect(ctx context.Context, credential model.Credential, scope model.Scope) error {
	if credential.IsZero() {
		return fmt.Errorf("empty credential")
	}
	if a.opts.ReplyURL == "" {
		return fmt.Errorf("reply url not configured for %s", a.opts.Platform)
	}

	a.mu.Lock()
	a.client = httpclient.New(a.opts.ReplyURL, credential.Reveal(), httpclient.Options{
		Timeout:    a.opts.Timeout,
		MaxRetries: a.opts.MaxRetries,
	})
	a.mu.Unlock()

	a.logger.Debug("Webhook adapter ready",
		zap.String("platform", a.opts.Platform),
		zap.String("mode", string(scope.Mode)),
		zap.String("credential", credential.Fingerprint()))
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	a.client = nil
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Channels() []worker.Channel { return nil }

func (a *Adapter) Poll(ctx context.Context, channel string) ([]model.Event, error) {
	return nil, fmt.Errorf("webhook adapter has no channel %q", channel)
}

type replyRequest struct {
	EventID string          `json:"event_id"`
	Target  model.Target    `json:"target"`
	Content string          `json:"content,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type deniedRequest struct {
	EventID    string `json:"event_id"`
	Originator string `json:"originator_id"`
	Reason     string `json:"reason"`
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

// NotifyDenied tells the originator why nothing happened
func (a *Adapter) NotifyDenied(ctx context.Context, event model.Event, reason string) error {
	client, err := a.current()
	if err != nil {
		return err
	}
	return client.DoJSON(ctx, http.MethodPost, "/notifications", nil, deniedRequest{
		EventID:    event.ID,
		Originator: event.Originator.ID,
		Reason:     reason,
	}, nil)
}

func (a *Adapter) current() (*httpclient.Client, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.client == nil {
		return nil, ErrNotConnected
	}
	return a.client, nil
}

// ParseEvent decodes a pushed webhook body. eventType fills in a missing type;
// a missing id gets a generated one, which disables redelivery detection for that event.
func ParseEvent(eventType string, body []byte) (model.Event, error) {
	var event model.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return model.Event{}, fmt.Errorf("invalid event payload: %w", err)
	}

	eventType = strings.TrimSpace(eventType)
	if eventType != "" {
		event.Type = eventType
	}
	if event.Type == "" {
		return model.Event{}, fmt.Errorf("event type is required")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	return event, nil
}
