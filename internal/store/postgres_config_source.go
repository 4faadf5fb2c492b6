package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Josh-XT/AGiXT-sub003/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Schema creates the tables read by PostgresConfigSource
const Schema = `
CREATE TABLE IF NOT EXISTS bot_tenant_configs (
	platform      TEXT        NOT NULL,
	tenant_id     TEXT        NOT NULL,
	enabled       BOOLEAN     NOT NULL DEFAULT FALSE,
	credential    TEXT        NOT NULL DEFAULT '',
	scope         JSONB       NOT NULL DEFAULT '{}'::jsonb,
	agent_binding TEXT        NOT NULL DEFAULT '',
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (platform, tenant_id)
);

CREATE TABLE IF NOT EXISTS bot_worker_counters (
	platform   TEXT        NOT NULL,
	tenant_id  TEXT        NOT NULL,
	name       TEXT        NOT NULL,
	value      BIGINT      NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (platform, tenant_id, name)
);

CREATE TABLE IF NOT EXISTS bot_server_credentials (
	platform   TEXT        PRIMARY KEY,
	credential TEXT        NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresConfigSource implements ConfigSource for PostgreSQL
type PostgresConfigSource struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresConfigSource creates a new PostgreSQL configuration source
func NewPostgresConfigSource(
	ctx context.Context,
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	logger *zap.Logger,
) (*PostgresConfigSource, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		host, port, database, user, password, maxConns, minConns,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresConfigSource{
		pool:   pool,
		logger: logger,
	}, nil
}

// EnsureSchema creates the tables if they do not exist
func (s *PostgresConfigSource) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// ListEnabledTenantConfigs retrieves every enabled tenant of a platform
func (s *PostgresConfigSource) ListEnabledTenantConfigs(ctx context.Context, platform string) ([]*model.TenantConfig, error) {
	query := `
		SELECT tenant_id, platform, enabled, credential, scope, agent_binding, updated_at
		FROM bot_tenant_configs
		WHERE platform = $1 AND enabled = TRUE
		ORDER BY tenant_id
	`

	rows, err := s.pool.Query(ctx, query, platform)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant configs: %w", err)
	}
	defer rows.Close()

	var configs []*model.TenantConfig
	for rows.Next() {
		cfg, err := scanTenantConfig(rows)
		if err != nil {
			// A malformed row affects only its own tenant
			s.logger.Warn("Skipping malformed tenant config",
				zap.String("platform", platform),
				zap.Error(err))
			continue
		}
		configs = append(configs, cfg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tenant configs: %w", err)
	}

	return configs, nil
}

// GetTenantConfig retrieves one tenant regardless of its enabled flag
func (s *PostgresConfigSource) GetTenantConfig(ctx context.Context, platform, tenantID string) (*model.TenantConfig, error) {
	query := `
		SELECT tenant_id, platform, enabled, credential, scope, agent_binding, updated_at
		FROM bot_tenant_configs
		WHERE platform = $1 AND tenant_id = $2
	`

	cfg, err := scanTenantConfig(s.pool.QueryRow(ctx, query, platform, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant config: %w", err)
	}

	return cfg, nil
}

// GetServerWideCredential returns the shared credential of a platform, or a zero credential
func (s *PostgresConfigSource) GetServerWideCredential(ctx context.Context, platform string) (model.Credential, error) {
	query := `SELECT credential FROM bot_server_credentials WHERE platform = $1`

	var secret string
	err := s.pool.QueryRow(ctx, query, platform).Scan(&secret)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Credential{}, nil
	}
	if err != nil {
		return model.Credential{}, fmt.Errorf("failed to get server credential: %w", err)
	}

	return model.NewCredential(secret), nil
}

// LoadCounters retrieves the persisted counters of a worker
func (s *PostgresConfigSource) LoadCounters(ctx context.Context, platform, tenantID string) (map[string]int64, error) {
	query := `
		SELECT name, value
		FROM bot_worker_counters
		WHERE platform = $1 AND tenant_id = $2
	`

	rows, err := s.pool.Query(ctx, query, platform, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load counters: %w", err)
	}
	defer rows.Close()

	counters := make(map[string]int64)
	for rows.Next() {
		var name string
		var value int64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan counter: %w", err)
		}
		counters[name] = value
	}

	return counters, rows.Err()
}

// PersistCounters upserts the counters of a worker in one batch
func (s *PostgresConfigSource) PersistCounters(ctx context.Context, platform, tenantID string, counters map[string]int64) error {
	if len(counters) == 0 {
		return nil
	}

	query := `
		INSERT INTO bot_worker_counters (platform, tenant_id, name, value, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (platform, tenant_id, name)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`

	batch := &pgx.Batch{}
	for name, value := range counters {
		batch.Queue(query, platform, tenantID, name, value)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range counters {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to persist counters: %w", err)
		}
	}

	return nil
}

// Ping checks database connectivity
func (s *PostgresConfigSource) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresConfigSource) Close() {
	s.pool.Close()
}

func scanTenantConfig(row pgx.Row) (*model.TenantConfig, error) {
	var cfg model.TenantConfig
	var secret string
	var scope []byte

	err := row.Scan(
		&cfg.TenantID,
		&cfg.Platform,
		&cfg.Enabled,
		&secret,
		&scope,
		&cfg.AgentBinding,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(scope) > 0 {
		if err := json.Unmarshal(scope, &cfg.Scope); err != nil {
			return nil, fmt.Errorf("tenant %s: invalid scope: %w", cfg.TenantID, err)
		}
	}
	cfg.Credential = model.NewCredential(secret)

	return &cfg, nil
}
