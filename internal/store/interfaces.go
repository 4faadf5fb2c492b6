package store

import (
	"context"
	"errors"

	"github.com/Josh-XT/AGiXT-sub003/internal/model"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("not found")

// ConfigSource is the desired-state store read by the reconcilers
type ConfigSource interface {
	// Tenant configuration
	ListEnabledTenantConfigs(ctx context.Context, platform string) ([]*model.TenantConfig, error)
	GetTenantConfig(ctx context.Context, platform, tenantID string) (*model.TenantConfig, error)
	GetServerWideCredential(ctx context.Context, platform string) (model.Credential, error)

	// Worker counters
	LoadCounters(ctx context.Context, platform, tenantID string) (map[string]int64, error)
	PersistCounters(ctx context.Context, platform, tenantID string, counters map[string]int64) error

	// Health check
	Ping(ctx context.Context) error
	Close()
}

// DedupCache remembers which events a tenant has already started processing
type DedupCache interface {
	// MarkSeen records the event and reports whether this was the first sighting
	MarkSeen(ctx context.Context, tenantID, eventID string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

func dedupKey(tenantID, eventID string) string {
	return "dedup:" + tenantID + ":" + eventID
}
