package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read through viper
const EnvPrefix = "BOTSUPERVISOR"

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/botsupervisor/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found, use defaults/env)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvironmentOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "150s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.request_timeout", "140s")
	v.SetDefault("server.admin_token", "")

	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.port", 50051)

	v.SetDefault("rate_limiter.enabled", true)
	v.SetDefault("rate_limiter.requests_per_second", 200.0)
	v.SetDefault("rate_limiter.burst_size", 50)

	v.SetDefault("supervisor.interval", "60s")
	v.SetDefault("supervisor.fetch_timeout", "10s")
	v.SetDefault("supervisor.start_timeout", "30s")
	v.SetDefault("supervisor.stop_grace", "15s")
	v.SetDefault("supervisor.max_concurrent_actions", 8)
	v.SetDefault("supervisor.agent_timeout", "120s")
	v.SetDefault("supervisor.counter_flush_interval", "5m")
	v.SetDefault("supervisor.typing_interval", "8s")

	v.SetDefault("agent.kind", "http")
	v.SetDefault("agent.url", "http://localhost:7437")
	v.SetDefault("agent.path", "/v1/process")
	v.SetDefault("agent.token", "")
	v.SetDefault("agent.subject", "agents.{binding}.process")
	v.SetDefault("agent.timeout", "120s")
	v.SetDefault("agent.max_retries", 1)

	v.SetDefault("source.kind", "file")
	v.SetDefault("source.tenants_file", "tenants.yaml")
	v.SetDefault("source.state_file", "")
	v.SetDefault("source.watch", true)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "botsupervisor")
	v.SetDefault("database.user", "botsupervisor")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.min_connections", 2)
	v.SetDefault("database.ensure_schema", false)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("dedup.backend", "lru")
	v.SetDefault("dedup.size", 1000)
	v.SetDefault("dedup.ttl", "24h")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.name", "botsupervisor")
	v.SetDefault("nats.timeout", "10s")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("platforms", []map[string]interface{}{
		{"name": "webhook", "kind": AdapterWebhook, "reply_url": "http://localhost:8081"},
	})
}

// applyEnvironmentOverrides applies the unprefixed secret variables shared with other services
func applyEnvironmentOverrides(cfg *Config) {
	if dbPassword := os.Getenv("DATABASE_PASSWORD"); dbPassword != "" {
		cfg.Database.Password = dbPassword
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		cfg.Redis.Password = redisPassword
	}
	if agentToken := os.Getenv("AGENT_TOKEN"); agentToken != "" {
		cfg.Agent.Token = agentToken
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	for i := range cfg.Platforms {
		if cred := os.Getenv(ServerCredentialEnv(cfg.Platforms[i].Name)); cred != "" {
			cfg.Platforms[i].ServerCredential = cred
		}
	}
}

// ServerCredentialEnv names the variable holding a platform's server-wide credential
func ServerCredentialEnv(platform string) string {
	name := strings.ToUpper(platform)
	name = strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(name)
	return "SERVER_WIDE_CREDENTIAL_" + name
}
