// Package config provides configuration management for the bot supervisor.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/Josh-XT/AGiXT-sub003/internal/model"
)

// Adapter kinds
const (
	AdapterWebhook  = "webhook"
	AdapterHTTPPoll = "httppoll"
)

// Config holds all configuration for the supervisor process.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	GRPC        GRPCConfig        `mapstructure:"grpc"`
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter"`
	Supervisor  SupervisorConfig  `mapstructure:"supervisor"`
	Platforms   []PlatformConfig  `mapstructure:"platforms"`
	Agent       AgentConfig       `mapstructure:"agent"`
	Source      SourceConfig      `mapstructure:"source"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Dedup       DedupConfig       `mapstructure:"dedup"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds the status/control API and webhook ingress settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	// AdminToken guards the control routes when set
	AdminToken string `mapstructure:"admin_token"`
}

// GRPCConfig holds the gRPC health server settings.
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// RateLimiterConfig holds API rate limiter configuration.
type RateLimiterConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// SupervisorConfig holds reconcile and worker timings shared by all platforms.
type SupervisorConfig struct {
	Interval             time.Duration `mapstructure:"interval"`
	FetchTimeout         time.Duration `mapstructure:"fetch_timeout"`
	StartTimeout         time.Duration `mapstructure:"start_timeout"`
	StopGrace            time.Duration `mapstructure:"stop_grace"`
	MaxConcurrentActions int           `mapstructure:"max_concurrent_actions"`
	AgentTimeout         time.Duration `mapstructure:"agent_timeout"`
	CounterFlushInterval time.Duration `mapstructure:"counter_flush_interval"`
	TypingInterval       time.Duration `mapstructure:"typing_interval"`
}

// ChannelConfig is one polled feed of an httppoll platform.
type ChannelConfig struct {
	Name     string        `mapstructure:"name"`
	Interval time.Duration `mapstructure:"interval"`
}

// ScopeConfig is the permission and deployment scope of the shared server worker.
type ScopeConfig struct {
	Mode           string   `mapstructure:"mode"`
	OwnerID        string   `mapstructure:"owner_id"`
	Allowlist      []string `mapstructure:"allowlist"`
	AllowedParents []string `mapstructure:"allowed_parents"`
	Blocklist      []string `mapstructure:"blocklist"`
	OwnerFallback  bool     `mapstructure:"owner_fallback"`
	Deployment     string   `mapstructure:"deployment"`
	TargetIDs      []string `mapstructure:"target_ids"`
}

// Model converts the scope to its domain form.
func (s ScopeConfig) Model() model.Scope {
	return model.Scope{
		Mode:           model.PermissionMode(s.Mode),
		OwnerID:        s.OwnerID,
		Allowlist:      s.Allowlist,
		AllowedParents: s.AllowedParents,
		Blocklist:      s.Blocklist,
		OwnerFallback:  s.OwnerFallback,
		Deployment:     model.DeploymentScope(s.Deployment),
		TargetIDs:      s.TargetIDs,
	}
}

// PlatformConfig holds one platform integration.
type PlatformConfig struct {
	Name              string          `mapstructure:"name"`
	Kind              string          `mapstructure:"kind"`
	BaseURL           string          `mapstructure:"base_url"`
	ReplyURL          string          `mapstructure:"reply_url"`
	Channels          []ChannelConfig `mapstructure:"channels"`
	RequestsPerSecond float64         `mapstructure:"requests_per_second"`
	MaxRetries        int             `mapstructure:"max_retries"`
	Timeout           time.Duration   `mapstructure:"timeout"`
	ServerScope       ScopeConfig     `mapstructure:"server_scope"`
	ServerAgent       string          `mapstructure:"server_agent_binding"`
	// ServerCredential is normally supplied through SERVER_WIDE_CREDENTIAL_<PLATFORM>
	ServerCredential string `mapstructure:"server_credential"`
}

// AgentConfig holds the downstream agent client configuration.
type AgentConfig struct {
	Kind       string        `mapstructure:"kind"`
	URL        string        `mapstructure:"url"`
	Path       string        `mapstructure:"path"`
	Token      string        `mapstructure:"token"`
	Subject    string        `mapstructure:"subject"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// SourceConfig selects where tenant configs are read from.
type SourceConfig struct {
	Kind        string `mapstructure:"kind"`
	TenantsFile string `mapstructure:"tenants_file"`
	StateFile   string `mapstructure:"state_file"`
	Watch       bool   `mapstructure:"watch"`
}

// DatabaseConfig represents the PostgreSQL config source.
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MinConnections int    `mapstructure:"min_connections"`
	EnsureSchema   bool   `mapstructure:"ensure_schema"`
}

// RedisConfig represents the shared dedup store.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DedupConfig selects the dedup backend.
type DedupConfig struct {
	Backend string        `mapstructure:"backend"`
	Size    int           `mapstructure:"size"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// NATSConfig holds lifecycle event publishing settings.
type NATSConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	Name    string        `mapstructure:"name"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Platform returns the named platform config.
func (c *Config) Platform(name string) (PlatformConfig, bool) {
	for _, p := range c.Platforms {
		if p.Name == name {
			return p, true
		}
	}
	return PlatformConfig{}, false
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.GRPC.Enabled && (c.GRPC.Port <= 0 || c.GRPC.Port > 65535) {
		return fmt.Errorf("invalid grpc port: %d", c.GRPC.Port)
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
	}
	if c.RateLimiter.Enabled {
		if c.RateLimiter.RequestsPerSecond <= 0 {
			return errors.New("rate limiter requests per second must be positive")
		}
		if c.RateLimiter.BurstSize <= 0 {
			return errors.New("rate limiter burst size must be positive")
		}
	}

	if c.Supervisor.Interval <= 0 {
		return errors.New("supervisor.interval must be positive")
	}
	if c.Supervisor.MaxConcurrentActions <= 0 {
		return errors.New("supervisor.max_concurrent_actions must be positive")
	}

	if len(c.Platforms) == 0 {
		return errors.New("at least one platform is required")
	}
	seen := make(map[string]bool, len(c.Platforms))
	for i, p := range c.Platforms {
		if p.Name == "" {
			return fmt.Errorf("platforms[%d].name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("platform %s configured twice", p.Name)
		}
		seen[p.Name] = true

		switch p.Kind {
		case AdapterWebhook:
			if p.ReplyURL == "" {
				return fmt.Errorf("platform %s: reply_url is required", p.Name)
			}
		case AdapterHTTPPoll:
			if p.BaseURL == "" {
				return fmt.Errorf("platform %s: base_url is required", p.Name)
			}
			for _, ch := range p.Channels {
				if ch.Name == "" || ch.Interval <= 0 {
					return fmt.Errorf("platform %s: channels need a name and a positive interval", p.Name)
				}
			}
		default:
			return fmt.Errorf("platform %s: kind must be one of: webhook, httppoll", p.Name)
		}

		switch model.PermissionMode(p.ServerScope.Mode) {
		case "", model.PermissionOwnerOnly, model.PermissionAllowlist, model.PermissionAnyone, model.PermissionOpen:
		default:
			return fmt.Errorf("platform %s: unknown server_scope.mode %q", p.Name, p.ServerScope.Mode)
		}
	}

	switch c.Agent.Kind {
	case "http":
		if c.Agent.URL == "" {
			return errors.New("agent.url is required for the http agent")
		}
	case "nats":
		if c.Agent.Subject == "" {
			return errors.New("agent.subject is required for the nats agent")
		}
		if !c.NATS.Enabled {
			return errors.New("the nats agent requires nats.enabled")
		}
	default:
		return errors.New("agent.kind must be one of: http, nats")
	}

	switch c.Source.Kind {
	case "file":
		if c.Source.TenantsFile == "" {
			return errors.New("source.tenants_file is required for the file source")
		}
	case "postgres":
		if c.Database.Host == "" {
			return errors.New("database.host is required")
		}
		if c.Database.Database == "" {
			return errors.New("database.database is required")
		}
		if c.Database.User == "" {
			return errors.New("database.user is required")
		}
	default:
		return errors.New("source.kind must be one of: file, postgres")
	}

	switch c.Dedup.Backend {
	case "lru":
		if c.Dedup.Size <= 0 {
			return errors.New("dedup.size must be positive")
		}
	case "redis":
		if c.Redis.Host == "" {
			return errors.New("redis.host is required for the redis dedup backend")
		}
	default:
		return errors.New("dedup.backend must be one of: lru, redis")
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}
