package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/cropdoc/internal/model"
	"github.com/sells-group/cropdoc/internal/resilience"
)

func (s *SQLiteStore) CreateIntervention(ctx context.Context, rec *model.InterventionRecord) error {
	prepareRecord(rec)

	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal intervention payload")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: create intervention: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	created := toMillis(rec.CreatedAt)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO interventions (id, farm_id, parcel_id, type, payload, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Payload.FarmID, rec.Payload.ParcelID, string(rec.Payload.Type),
		string(payloadJSON), string(rec.Status), created, created,
	); err != nil {
		return eris.Wrap(err, "sqlite: insert intervention")
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO validation_tasks (id, intervention_id, next_retry_at, created_at) VALUES (?, ?, ?, ?)`,
		uuid.New().String(), rec.ID, created, created,
	); err != nil {
		return eris.Wrap(err, "sqlite: insert validation task")
	}

	return eris.Wrap(tx.Commit(), "sqlite: create intervention: commit")
}

func (s *SQLiteStore) GetIntervention(ctx context.Context, id string) (*model.InterventionRecord, error) {
	var rec model.InterventionRecord
	var status, payloadJSON string
	var detailJSON sql.NullString
	var created, updated int64

	err := s.db.QueryRowContext(ctx,
		`SELECT id, payload, status, validation_detail, created_at, updated_at FROM interventions WHERE id = ?`,
		id,
	).Scan(&rec.ID, &payloadJSON, &status, &detailJSON, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "sqlite: intervention %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get intervention %s", id)
	}

	rec.Status = model.ValidationStatus(status)
	rec.CreatedAt = fromMillis(created)
	rec.UpdatedAt = fromMillis(updated)
	if err := decodeIntervention(&rec, []byte(payloadJSON), []byte(detailJSON.String)); err != nil {
		return nil, eris.Wrap(err, "sqlite: get intervention")
	}
	return &rec, nil
}

func (s *SQLiteStore) TransitionStatus(ctx context.Context, id string, from, to model.ValidationStatus, detail *model.ValidationDetail) (bool, error) {
	detailJSON, err := marshalDetail(detail)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: transition status")
	}
	var detailArg any
	if detailJSON != nil {
		detailArg = string(detailJSON)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE interventions SET status = ?, validation_detail = COALESCE(?, validation_detail), updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(to), detailArg, toMillis(time.Now()), id, string(from),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: transition %s %s->%s", id, from, to)
	}
	n, err := rowsAffected(res)
	return n == 1, err
}

func (s *SQLiteStore) ClaimTasks(ctx context.Context, owner string, lease time.Duration, now time.Time, limit int) ([]model.ValidationTask, error) {
	if limit <= 0 {
		limit = 1
	}
	nowMs := toMillis(now)
	rows, err := s.db.QueryContext(ctx,
		`UPDATE validation_tasks
		 SET lease_owner = ?, lease_expires_at = ?, lease_epoch = lease_epoch + 1, attempts = attempts + 1
		 WHERE id IN (
		   SELECT id FROM validation_tasks
		   WHERE (lease_owner IS NULL AND next_retry_at <= ?)
		      OR (lease_owner IS NOT NULL AND lease_expires_at < ?)
		   ORDER BY next_retry_at
		   LIMIT ?
		 )
		 RETURNING id, intervention_id, attempts, next_retry_at, lease_owner, lease_expires_at, lease_epoch, last_error, created_at`,
		owner, toMillis(now.Add(lease)), nowMs, nowMs, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: claim tasks")
	}
	defer rows.Close()

	var tasks []model.ValidationTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, eris.Wrap(rows.Err(), "sqlite: claim tasks iterate")
}

func scanTask(row scannable) (model.ValidationTask, error) {
	var t model.ValidationTask
	var nextRetry, created int64
	var owner sql.NullString
	var leaseExpires sql.NullInt64
	if err := row.Scan(&t.ID, &t.InterventionID, &t.Attempts, &nextRetry, &owner,
		&leaseExpires, &t.LeaseEpoch, &t.LastError, &created); err != nil {
		return t, eris.Wrap(err, "sqlite: scan task")
	}
	t.NextRetryAt = fromMillis(nextRetry)
	t.CreatedAt = fromMillis(created)
	t.LeaseOwner = owner.String
	if leaseExpires.Valid {
		exp := fromMillis(leaseExpires.Int64)
		t.LeaseExpiresAt = &exp
	}
	return t, nil
}

func (s *SQLiteStore) RescheduleTask(ctx context.Context, task model.ValidationTask, nextRetryAt time.Time, lastErr string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE validation_tasks SET lease_owner = NULL, lease_expires_at = NULL, next_retry_at = ?, last_error = ?
		 WHERE id = ? AND lease_owner = ? AND lease_epoch = ?`,
		toMillis(nextRetryAt), lastErr, task.ID, task.LeaseOwner, task.LeaseEpoch,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: reschedule task %s", task.ID)
	}
	n, err := rowsAffected(res)
	return n == 1, err
}

func (s *SQLiteStore) CompleteTask(ctx context.Context, task model.ValidationTask) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM validation_tasks WHERE id = ? AND lease_owner = ? AND lease_epoch = ?`,
		task.ID, task.LeaseOwner, task.LeaseEpoch,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: complete task %s", task.ID)
	}
	n, err := rowsAffected(res)
	return n == 1, err
}

func (s *SQLiteStore) FinishTask(ctx context.Context, task model.ValidationTask, to model.ValidationStatus, detail *model.ValidationDetail) (bool, error) {
	detailJSON, err := marshalDetail(detail)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: finish task")
	}
	var detailArg any
	if detailJSON != nil {
		detailArg = string(detailJSON)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: finish task: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`DELETE FROM validation_tasks WHERE id = ? AND lease_owner = ? AND lease_epoch = ?`,
		task.ID, task.LeaseOwner, task.LeaseEpoch,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: finish task %s", task.ID)
	}
	if n, err := rowsAffected(res); err != nil || n != 1 {
		return false, err
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE interventions SET status = ?, validation_detail = COALESCE(?, validation_detail), updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(to), detailArg, toMillis(time.Now()), task.InterventionID, string(model.StatusInProgress),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: finish %s ->%s", task.InterventionID, to)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "sqlite: finish task: commit")
	}
	return n == 1, nil
}

func (s *SQLiteStore) RecoverExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: recover leases: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	nowMs := toMillis(now)
	rows, err := tx.QueryContext(ctx,
		`UPDATE validation_tasks
		 SET lease_owner = NULL, lease_expires_at = NULL, lease_epoch = lease_epoch + 1, next_retry_at = ?
		 WHERE lease_owner IS NOT NULL AND lease_expires_at < ?
		 RETURNING intervention_id`,
		nowMs, nowMs,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: release expired leases")
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, eris.Wrap(err, "sqlite: scan released lease")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "sqlite: release expired leases iterate")
	}
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := []any{string(model.StatusPending), nowMs, string(model.StatusInProgress)}
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE interventions SET status = ?, updated_at = ? WHERE status = ? AND id IN (`+placeholders+`)`,
		args...,
	); err != nil {
		return 0, eris.Wrap(err, "sqlite: reset recovered interventions")
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: recover leases: commit")
	}
	return len(ids), nil
}

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue
		 (id, intervention_id, error, error_type, failed_check, retry_count, max_retries, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.InterventionID, entry.Error, entry.ErrorType, entry.FailedCheck,
		entry.RetryCount, entry.MaxRetries, toMillis(entry.CreatedAt), toMillis(entry.LastFailedAt),
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

func (s *SQLiteStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, intervention_id, error, error_type, failed_check, retry_count, max_retries, created_at, last_failed_at
	          FROM dead_letter_queue`
	var args []any
	if filter.ErrorType != "" {
		query += ` WHERE error_type = ?`
		args = append(args, filter.ErrorType)
	}
	query += ` ORDER BY last_failed_at DESC LIMIT ?`
	args = append(args, dlqLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var failedCheck sql.NullString
		var created, lastFailed int64
		if err := rows.Scan(&e.ID, &e.InterventionID, &e.Error, &e.ErrorType, &failedCheck,
			&e.RetryCount, &e.MaxRetries, &created, &lastFailed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		e.FailedCheck = failedCheck.String
		e.CreatedAt = fromMillis(created)
		e.LastFailedAt = fromMillis(lastFailed)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list dlq iterate")
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count dlq")
}

func (s *SQLiteStore) CountByStatus(ctx context.Context, since time.Time) (map[model.ValidationStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM interventions WHERE updated_at >= ? GROUP BY status`,
		toMillis(since),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by status")
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[model.ValidationStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status count")
		}
		counts[model.ValidationStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: iterate status counts")
}
