package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

func (s *PostgresStore) GetCached(ctx context.Context, key string, now time.Time) ([]byte, time.Time, bool, error) {
	var payload []byte
	var expiresAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT payload, expires_at FROM diagnosis_cache WHERE cache_key = $1 AND expires_at > $2`,
		key, now,
	).Scan(&payload, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, eris.Wrap(err, "postgres: get cached diagnosis")
	}
	return payload, expiresAt, true, nil
}

func (s *PostgresStore) SetCached(ctx context.Context, key string, payload []byte, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO diagnosis_cache (cache_key, payload, cached_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (cache_key) DO UPDATE SET
		   payload = EXCLUDED.payload, cached_at = EXCLUDED.cached_at, expires_at = EXCLUDED.expires_at`,
		key, payload, time.Now().UTC(), expiresAt,
	)
	return eris.Wrap(err, "postgres: set cached diagnosis")
}

func (s *PostgresStore) DeleteExpiredCache(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM diagnosis_cache WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired cache")
	}
	return tag.RowsAffected(), nil
}
