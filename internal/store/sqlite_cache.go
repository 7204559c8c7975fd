package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
)

func (s *SQLiteStore) GetCached(ctx context.Context, key string, now time.Time) ([]byte, time.Time, bool, error) {
	var payload []byte
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM diagnosis_cache WHERE cache_key = ? AND expires_at > ?`,
		key, toMillis(now),
	).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, eris.Wrap(err, "sqlite: get cached diagnosis")
	}
	return payload, fromMillis(expiresAt), true, nil
}

func (s *SQLiteStore) SetCached(ctx context.Context, key string, payload []byte, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO diagnosis_cache (cache_key, payload, cached_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (cache_key) DO UPDATE SET
		   payload = excluded.payload, cached_at = excluded.cached_at, expires_at = excluded.expires_at`,
		key, payload, toMillis(time.Now()), toMillis(expiresAt),
	)
	return eris.Wrap(err, "sqlite: set cached diagnosis")
}

func (s *SQLiteStore) DeleteExpiredCache(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM diagnosis_cache WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired cache")
	}
	return rowsAffected(res)
}
