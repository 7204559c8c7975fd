package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite. Timestamps are
// stored as Unix milliseconds so lease and expiry comparisons stay numeric.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS knowledge_records (
	crop          TEXT NOT NULL,
	name          TEXT NOT NULL,
	code          TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL,
	symptoms      TEXT NOT NULL DEFAULT '[]',
	triggers      TEXT NOT NULL DEFAULT '[]',
	growth_stages TEXT NOT NULL DEFAULT '[]',
	treatments    TEXT NOT NULL DEFAULT '[]',
	prevention    TEXT NOT NULL DEFAULT '[]',
	updated_at    INTEGER NOT NULL,
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
	payload    BLOB NOT NULL,
	cached_at  INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_diagnosis_cache_expires_at ON diagnosis_cache(expires_at);

CREATE TABLE IF NOT EXISTS interventions (
	id                TEXT PRIMARY KEY,
	farm_id           TEXT NOT NULL,
	parcel_id         TEXT NOT NULL,
	type              TEXT NOT NULL,
	payload           TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'pending',
	validation_detail TEXT,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_interventions_status ON interventions(status);

CREATE TABLE IF NOT EXISTS validation_tasks (
	id               TEXT PRIMARY KEY,
	intervention_id  TEXT NOT NULL UNIQUE REFERENCES interventions(id),
	attempts         INTEGER NOT NULL DEFAULT 0,
	next_retry_at    INTEGER NOT NULL,
	lease_owner      TEXT,
	lease_expires_at INTEGER,
	lease_epoch      INTEGER NOT NULL DEFAULT 0,
	last_error       TEXT NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_validation_tasks_next ON validation_tasks(next_retry_at);
CREATE INDEX IF NOT EXISTS idx_validation_tasks_lease ON validation_tasks(lease_expires_at);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id              TEXT PRIMARY KEY,
	intervention_id TEXT NOT NULL REFERENCES interventions(id),
	error           TEXT NOT NULL,
	error_type      TEXT NOT NULL DEFAULT 'transient',
	failed_check    TEXT,
	retry_count     INTEGER NOT NULL DEFAULT 0,
	max_retries     INTEGER NOT NULL DEFAULT 3,
	created_at      INTEGER NOT NULL,
	last_failed_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// helpers

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

type scannable interface {
	Scan(dest ...any) error
}
