package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Josh-XT/AGiXT-sub003/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Supervisor.Interval)
	assert.Equal(t, 10*time.Second, cfg.Supervisor.FetchTimeout)
	assert.Equal(t, 15*time.Second, cfg.Supervisor.StopGrace)
	assert.Equal(t, 120*time.Second, cfg.Supervisor.AgentTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Supervisor.CounterFlushInterval)
	assert.Equal(t, 8, cfg.Supervisor.MaxConcurrentActions)

	assert.Equal(t, "lru", cfg.Dedup.Backend)
	assert.Equal(t, 1000, cfg.Dedup.Size)
	assert.Equal(t, 24*time.Hour, cfg.Dedup.TTL)
	assert.Equal(t, "file", cfg.Source.Kind)
	assert.False(t, cfg.NATS.Enabled)

	require.Len(t, cfg.Platforms, 1)
	assert.Equal(t, AdapterWebhook, cfg.Platforms[0].Kind)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
supervisor:
  interval: 30s
platforms:
  - name: discord
    kind: httppoll
    base_url: http://discord.local
    channels:
      - name: direct_messages
        interval: 30s
      - name: mentions
        interval: 1m
    server_scope:
      mode: allowlist
      allowlist: [u1, u2]
      deployment: account_wide
    server_agent_binding: support
  - name: github
    kind: webhook
    reply_url: http://github.local
agent:
  kind: http
  url: http://agent.local
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Supervisor.Interval)
	require.Len(t, cfg.Platforms, 2)

	discord, ok := cfg.Platform("discord")
	require.True(t, ok)
	require.Len(t, discord.Channels, 2)
	assert.Equal(t, time.Minute, discord.Channels[1].Interval)
	assert.Equal(t, "support", discord.ServerAgent)

	scope := discord.ServerScope.Model()
	assert.Equal(t, model.PermissionAllowlist, scope.Mode)
	assert.Equal(t, []string{"u1", "u2"}, scope.Allowlist)
	assert.Equal(t, model.DeployAccountWide, scope.Deployment)

	_, ok = cfg.Platform("slack")
	assert.False(t, ok)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("BOTSUPERVISOR_SERVER_PORT", "9000")
	t.Setenv("BOTSUPERVISOR_SUPERVISOR_INTERVAL", "15s")
	t.Setenv("DATABASE_PASSWORD", "db-secret")
	t.Setenv("SERVER_WIDE_CREDENTIAL_WEBHOOK", "server-token")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Supervisor.Interval)
	assert.Equal(t, "db-secret", cfg.Database.Password)
	assert.Equal(t, "server-token", cfg.Platforms[0].ServerCredential)
}

func TestServerCredentialEnv(t *testing.T) {
	assert.Equal(t, "SERVER_WIDE_CREDENTIAL_DISCORD", ServerCredentialEnv("discord"))
	assert.Equal(t, "SERVER_WIDE_CREDENTIAL_X_COM", ServerCredentialEnv("x-com"))
}

func validConfig() *Config {
	return &Config{
		Server:     ServerConfig{Port: 8080},
		Supervisor: SupervisorConfig{Interval: time.Minute, MaxConcurrentActions: 4},
		Platforms: []PlatformConfig{
			{Name: "github", Kind: AdapterWebhook, ReplyURL: "http://github.local"},
		},
		Agent:  AgentConfig{Kind: "http", URL: "http://agent.local"},
		Source: SourceConfig{Kind: "file", TenantsFile: "tenants.yaml"},
		Dedup:  DedupConfig{Backend: "lru", Size: 100},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "invalid server port"},
		{name: "no platforms", mutate: func(c *Config) { c.Platforms = nil }, wantErr: "at least one platform"},
		{
			name: "duplicate platform",
			mutate: func(c *Config) {
				c.Platforms = append(c.Platforms, c.Platforms[0])
			},
			wantErr: "configured twice",
		},
		{
			name:    "unknown kind",
			mutate:  func(c *Config) { c.Platforms[0].Kind = "irc" },
			wantErr: "kind must be one of",
		},
		{
			name: "poll without base url",
			mutate: func(c *Config) {
				c.Platforms[0].Kind = AdapterHTTPPoll
			},
			wantErr: "base_url is required",
		},
		{
			name:    "unknown server mode",
			mutate:  func(c *Config) { c.Platforms[0].ServerScope.Mode = "friends" },
			wantErr: "unknown server_scope.mode",
		},
		{
			name:    "nats agent without nats",
			mutate:  func(c *Config) { c.Agent = AgentConfig{Kind: "nats", Subject: "agents.x"} },
			wantErr: "requires nats.enabled",
		},
		{
			name:    "redis dedup without host",
			mutate:  func(c *Config) { c.Dedup.Backend = "redis" },
			wantErr: "redis.host is required",
		},
		{
			name:    "postgres without host",
			mutate:  func(c *Config) { c.Source.Kind = "postgres" },
			wantErr: "database.host is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "info", cfg.Logging.Level)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
