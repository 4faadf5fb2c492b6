// Package agent contains clients for the downstream conversational agent
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Josh-XT/AGiXT-sub003/internal/httpclient"
	"github.com/Josh-XT/AGiXT-sub003/internal/model"
	"github.com/Josh-XT/AGiXT-sub003/internal/worker"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Request is the body sent to the agent for one event
type Request struct {
	Event   model.Event         `json:"event"`
	Context worker.AgentContext `json:"context"`
}

type reply struct {
	worker.Response
	Error string `json:"error,omitempty"`
}

func (r reply) result() (worker.Response, error) {
	if r.Error != "" {
		return worker.Response{}, fmt.Errorf("agent error: %s", r.Error)
	}
	return r.Response, nil
}

// HTTPClient calls an agent over HTTP
type HTTPClient struct {
	client *httpclient.Client
	path   string
	logger *zap.Logger
}

// HTTPOptions configures HTTPClient
type HTTPOptions struct {
	URL        string
	Path       string
	Token      string
	Timeout    time.Duration
	MaxRetries int
}

// NewHTTPClient creates an HTTP agent client
func NewHTTPClient(opts HTTPOptions, logger *zap.Logger) (*HTTPClient, error) {
	if opts.URL == "" {
		return nil, errors.New("agent url is required")
	}
	if opts.Path == "" {
		opts.Path = "/v1/process"
	}
	return &HTTPClient{
		client: httpclient.New(opts.URL, opts.Token, httpclient.Options{
			Timeout:    opts.Timeout,
			MaxRetries: opts.MaxRetries,
		}),
		path:   opts.Path,
		logger: logger,
	}, nil
}

// Process implements worker.Agent
func (c *HTTPClient) Process(ctx context.Context, event model.Event, actx worker.AgentContext) (worker.Response, error) {
	var out reply
	headers := map[string]string{
		"X-Tenant-ID": actx.TenantID,
		"X-Platform":  actx.Platform,
	}
	if err := c.client.DoJSON(ctx, http.MethodPost, c.path, headers, Request{Event: event, Context: actx}, &out); err != nil {
		return worker.Response{}, fmt.Errorf("agent request failed: %w", err)
	}
	return out.result()
}

// NATSClient calls an agent through NATS request/reply
type NATSClient struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewNATSClient creates a request/reply agent client on subject.
// The subject may contain the tenant's agent binding via "{binding}".
func NewNATSClient(conn *nats.Conn, subject string, logger *zap.Logger) (*NATSClient, error) {
	if conn == nil {
		return nil, errors.New("nats connection is required")
	}
	if subject == "" {
		return nil, errors.New("agent subject is required")
	}
	return &NATSClient{conn: conn, subject: subject, logger: logger}, nil
}

// Process implements worker.Agent. ctx must carry a deadline or cancellation.
func (c *NATSClient) Process(ctx context.Context, event model.Event, actx worker.AgentContext) (worker.Response, error) {
	data, err := json.Marshal(Request{Event: event, Context: actx})
	if err != nil {
		return worker.Response{}, fmt.Errorf("failed to marshal agent request: %w", err)
	}

	subject := c.subjectFor(actx)
	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		c.logger.Debug("Agent request failed",
			zap.String("subject", subject),
			zap.String("tenant_id", actx.TenantID),
			zap.String("event_id", event.ID),
			zap.Error(err))
		return worker.Response{}, fmt.Errorf("agent request failed: %w", err)
	}

	var out reply
	if err := json.Unmarshal(msg.Data, &out); err != nil {
		return worker.Response{}, fmt.Errorf("invalid agent reply: %w", err)
	}
	return out.result()
}

func (c *NATSClient) subjectFor(actx worker.AgentContext) string {
	return SubjectFor(c.subject, actx.AgentBinding)
}

// SubjectFor expands "{binding}" in a subject template; unbound tenants use "default"
func SubjectFor(template, binding string) string {
	if binding == "" {
		binding = "default"
	}
	return strings.ReplaceAll(template, "{binding}", binding)
}
