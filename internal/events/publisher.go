// Package events publishes worker lifecycle changes so other services can follow them.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Kind is the type of lifecycle change
type Kind string

const (
	WorkerStarted   Kind = "started"
	WorkerStopped   Kind = "stopped"
	WorkerRestarted Kind = "restarted"
	WorkerFailed    Kind = "failed"
)

// SubjectPrefix is the root of every lifecycle subject
const SubjectPrefix = "botsupervisor"

// LifecycleEvent describes one worker transition
type LifecycleEvent struct {
	Kind                  Kind      `json:"kind"`
	Platform              string    `json:"platform"`
	TenantID              string    `json:"tenant_id"`
	CredentialFingerprint string    `json:"credential_fingerprint,omitempty"`
	Error                 string    `json:"error,omitempty"`
	Timestamp             time.Time `json:"timestamp"`
}

// Subject returns botsupervisor.<platform>.worker.<kind>
func (e LifecycleEvent) Subject() string {
	return fmt.Sprintf("%s.%s.worker.%s", SubjectPrefix, e.Platform, e.Kind)
}

// Publisher sends lifecycle events
type Publisher interface {
	Publish(ctx context.Context, event LifecycleEvent) error
	Close() error
}

// NopPublisher discards every event
type NopPublisher struct{}

// Publish implements Publisher
func (NopPublisher) Publish(ctx context.Context, event LifecycleEvent) error { return nil }

// Close implements Publisher
func (NopPublisher) Close() error { return nil }

// Config holds NATS connection settings
type Config struct {
	URL     string
	Name    string
	Timeout time.Duration
}

// Connect opens a NATS connection with unlimited reconnects
func Connect(cfg Config, logger *zap.Logger) (*nats.Conn, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return nc, nil
}

// NATSPublisher publishes lifecycle events on core NATS subjects
type NATSPublisher struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// NewNATSPublisher creates a publisher on an existing connection
func NewNATSPublisher(conn *nats.Conn, logger *zap.Logger) *NATSPublisher {
	return &NATSPublisher{
		conn:   conn,
		logger: logger,
	}
}

// Publish implements Publisher
func (p *NATSPublisher) Publish(ctx context.Context, event LifecycleEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal lifecycle event: %w", err)
	}

	if err := p.conn.Publish(event.Subject(), data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", event.Subject(), err)
	}
	return nil
}

// Health reports whether the connection is usable
func (p *NATSPublisher) Health() error {
	if p.conn.IsClosed() {
		return fmt.Errorf("NATS connection is closed")
	}
	if !p.conn.IsConnected() {
		return fmt.Errorf("NATS is not connected")
	}
	return nil
}

// Close drains the connection
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
