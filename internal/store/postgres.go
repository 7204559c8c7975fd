package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/cropdoc/internal/db"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. The caller keeps ownership.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS knowledge_records (
	crop          TEXT NOT NULL,
	name          TEXT NOT NULL,
	code          TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL,
	symptoms      TEXT[] NOT NULL DEFAULT '{}',
	triggers      JSONB NOT NULL DEFAULT '[]',
	growth_stages TEXT[] NOT NULL DEFAULT '{}',
	treatments    TEXT[] NOT NULL DEFAULT '{}',
	prevention    TEXT[] NOT NULL DEFAULT '{}',
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (crop, name)
);

CREATE INDEX IF NOT EXISTS idx_knowledge_crop_category ON knowledge_records(crop, category);

CREATE TABLE IF NOT EXISTS growth_stages (
	crop        TEXT NOT NULL,
	code        TEXT NOT NULL,
	description TEXT NOT NULL,
	PRIMARY KEY (crop, code)
);

CREATE TABLE IF NOT EXISTS diagnosis_cache (
	cache_key  TEXT PRIMARY KEY,
	payload    BYTEA NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_diagnosis_cache_expires_at ON diagnosis_cache(expires_at);

CREATE TABLE IF NOT EXISTS interventions (
	id                TEXT PRIMARY KEY,
	farm_id           TEXT NOT NULL,
	parcel_id         TEXT NOT NULL,
	type              TEXT NOT NULL,
	payload           JSONB NOT NULL,
	status            TEXT NOT NULL DEFAULT 'pending',
	validation_detail JSONB,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_interventions_status ON interventions(status);
CREATE INDEX IF NOT EXISTS idx_interventions_farm ON interventions(farm_id, parcel_id);

CREATE TABLE IF NOT EXISTS validation_tasks (
	id               TEXT PRIMARY KEY,
	intervention_id  TEXT NOT NULL UNIQUE REFERENCES interventions(id),
	attempts         INTEGER NOT NULL DEFAULT 0,
	next_retry_at    TIMESTAMPTZ NOT NULL,
	lease_owner      TEXT,
	lease_expires_at TIMESTAMPTZ,
	lease_epoch      BIGINT NOT NULL DEFAULT 0,
	last_error       TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_validation_tasks_due ON validation_tasks(next_retry_at) WHERE lease_owner IS NULL;
CREATE INDEX IF NOT EXISTS idx_validation_tasks_lease ON validation_tasks(lease_expires_at) WHERE lease_owner IS NOT NULL;

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id              TEXT PRIMARY KEY,
	intervention_id TEXT NOT NULL REFERENCES interventions(id),
	error           TEXT NOT NULL,
	error_type      TEXT NOT NULL DEFAULT 'transient',
	failed_check    TEXT,
	retry_count     INTEGER NOT NULL DEFAULT 0,
	max_retries     INTEGER NOT NULL DEFAULT 3,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
CREATE INDEX IF NOT EXISTS idx_dlq_intervention ON dead_letter_queue(intervention_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}
