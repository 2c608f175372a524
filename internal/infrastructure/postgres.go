package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type PostgresClient struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewPostgresClient(ctx context.Context, connString string, log zerolog.Logger) (*PostgresClient, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	// Pool configuration
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	client := &PostgresClient{Pool: pool, log: log.With().Str("component", "postgres").Logger()}

	// Auto-migrate schema
	if err := client.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return client, nil
}

var migrations = []struct {
	name string
	ddl  string
}{
	{"users", `
		CREATE TABLE IF NOT EXISTS users (
			id SERIAL PRIMARY KEY,
			username VARCHAR(50) UNIQUE NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			role VARCHAR(20) NOT NULL DEFAULT 'user',
			package_id VARCHAR(20) NOT NULL DEFAULT 'free',
			timezone VARCHAR(64) NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`},
	{"daily_quotas", `
		CREATE TABLE IF NOT EXISTS daily_quotas (
			user_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			day VARCHAR(10) NOT NULL,
			posts_count INT NOT NULL DEFAULT 0,
			success_count INT NOT NULL DEFAULT 0,
			failed_count INT NOT NULL DEFAULT 0,
			skipped_duplicate_count INT NOT NULL DEFAULT 0,
			automation_runs_count INT NOT NULL DEFAULT 0,
			pending INT NOT NULL DEFAULT 0,
			daily_limit INT NOT NULL,
			reset_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, day),
			CHECK (posts_count = success_count + failed_count + skipped_duplicate_count),
			CHECK (posts_count + pending <= daily_limit)
		);
	`},
	{"posting_attempts", `
		CREATE TABLE IF NOT EXISTS posting_attempts (
			seq BIGSERIAL,
			id UUID PRIMARY KEY,
			user_id INT NOT NULL,
			property_id VARCHAR(128) NOT NULL,
			group_id VARCHAR(128) NOT NULL,
			group_name VARCHAR(256) NOT NULL DEFAULT '',
			batch_id UUID NOT NULL,
			outcome VARCHAR(20) NOT NULL,
			error_detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);
	`},
	{"posting_attempts_triple_idx", `
		CREATE INDEX IF NOT EXISTS posting_attempts_triple_idx
		ON posting_attempts (user_id, property_id, group_id) WHERE outcome = 'success';
	`},
	{"posting_attempts_user_idx", `
		CREATE INDEX IF NOT EXISTS posting_attempts_user_idx ON posting_attempts (user_id, created_at DESC);
	`},
	{"batch_runs", `
		CREATE TABLE IF NOT EXISTS batch_runs (
			id UUID PRIMARY KEY,
			user_id INT NOT NULL,
			property_id VARCHAR(128) NOT NULL,
			group_ids TEXT[] NOT NULL,
			status VARCHAR(20) NOT NULL,
			outcomes JSONB NOT NULL DEFAULT '{}',
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ
		);
	`},
	{"batch_runs_user_idx", `
		CREATE INDEX IF NOT EXISTS batch_runs_user_idx ON batch_runs (user_id, created_at);
	`},
	{"user_groups", `
		CREATE TABLE IF NOT EXISTS user_groups (
			user_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			group_id VARCHAR(128) NOT NULL,
			name VARCHAR(256) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, group_id)
		);
	`},
	{"properties", `
		CREATE TABLE IF NOT EXISTS properties (
			id VARCHAR(128) PRIMARY KEY,
			user_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title VARCHAR(256) NOT NULL DEFAULT '',
			caption TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`},
}

func (p *PostgresClient) Migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := p.Pool.Exec(ctx, m.ddl); err != nil {
			return fmt.Errorf("create %s: %w", m.name, err)
		}
	}
	p.log.Info().Int("steps", len(migrations)).Msg("schema migrated")
	return nil
}

func (p *PostgresClient) Close() {
	p.Pool.Close()
}
