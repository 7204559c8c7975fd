package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/cropdoc/internal/model"
	"github.com/sells-group/cropdoc/internal/resilience"
)

func (s *PostgresStore) CreateIntervention(ctx context.Context, rec *model.InterventionRecord) error {
	prepareRecord(rec)

	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal intervention payload")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: create intervention: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO interventions (id, farm_id, parcel_id, type, payload, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.Payload.FarmID, rec.Payload.ParcelID, string(rec.Payload.Type),
		payloadJSON, string(rec.Status), rec.CreatedAt, rec.UpdatedAt,
	); err != nil {
		return eris.Wrap(err, "postgres: insert intervention")
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO validation_tasks (id, intervention_id, next_retry_at, created_at) VALUES ($1, $2, $3, $4)`,
		uuid.New().String(), rec.ID, rec.CreatedAt, rec.CreatedAt,
	); err != nil {
		return eris.Wrap(err, "postgres: insert validation task")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: create intervention: commit")
}

func (s *PostgresStore) GetIntervention(ctx context.Context, id string) (*model.InterventionRecord, error) {
	var rec model.InterventionRecord
	var status string
	var payloadJSON, detailJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, payload, status, validation_detail, created_at, updated_at FROM interventions WHERE id = $1`,
		id,
	).Scan(&rec.ID, &payloadJSON, &status, &detailJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: intervention %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get intervention %s", id)
	}

	rec.Status = model.ValidationStatus(status)
	if err := decodeIntervention(&rec, payloadJSON, detailJSON); err != nil {
		return nil, eris.Wrap(err, "postgres: get intervention")
	}
	return &rec, nil
}

func (s *PostgresStore) TransitionStatus(ctx context.Context, id string, from, to model.ValidationStatus, detail *model.ValidationDetail) (bool, error) {
	detailJSON, err := marshalDetail(detail)
	if err != nil {
		return false, eris.Wrap(err, "postgres: transition status")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE interventions SET status = $1, validation_detail = COALESCE($2, validation_detail), updated_at = $3
		 WHERE id = $4 AND status = $5`,
		string(to), detailJSON, time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: transition %s %s->%s", id, from, to)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ClaimTasks(ctx context.Context, owner string, lease time.Duration, now time.Time, limit int) ([]model.ValidationTask, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.pool.Query(ctx,
		`UPDATE validation_tasks t
		 SET lease_owner = $1, lease_expires_at = $2, lease_epoch = t.lease_epoch + 1, attempts = t.attempts + 1
		 WHERE t.id IN (
		   SELECT id FROM validation_tasks
		   WHERE (lease_owner IS NULL AND next_retry_at <= $3)
		      OR (lease_owner IS NOT NULL AND lease_expires_at < $3)
		   ORDER BY next_retry_at
		   LIMIT $4
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING t.id, t.intervention_id, t.attempts, t.next_retry_at, t.lease_owner, t.lease_expires_at, t.lease_epoch, t.last_error, t.created_at`,
		owner, now.Add(lease), now, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: claim tasks")
	}
	defer rows.Close()

	var tasks []model.ValidationTask
	for rows.Next() {
		var t model.ValidationTask
		var leaseOwner *string
		if err := rows.Scan(&t.ID, &t.InterventionID, &t.Attempts, &t.NextRetryAt,
			&leaseOwner, &t.LeaseExpiresAt, &t.LeaseEpoch, &t.LastError, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan claimed task")
		}
		if leaseOwner != nil {
			t.LeaseOwner = *leaseOwner
		}
		tasks = append(tasks, t)
	}
	return tasks, eris.Wrap(rows.Err(), "postgres: claim tasks iterate")
}

func (s *PostgresStore) RescheduleTask(ctx context.Context, task model.ValidationTask, nextRetryAt time.Time, lastErr string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE validation_tasks SET lease_owner = NULL, lease_expires_at = NULL, next_retry_at = $1, last_error = $2
		 WHERE id = $3 AND lease_owner = $4 AND lease_epoch = $5`,
		nextRetryAt, lastErr, task.ID, task.LeaseOwner, task.LeaseEpoch,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: reschedule task %s", task.ID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) CompleteTask(ctx context.Context, task model.ValidationTask) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM validation_tasks WHERE id = $1 AND lease_owner = $2 AND lease_epoch = $3`,
		task.ID, task.LeaseOwner, task.LeaseEpoch,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: complete task %s", task.ID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) FinishTask(ctx context.Context, task model.ValidationTask, to model.ValidationStatus, detail *model.ValidationDetail) (bool, error) {
	detailJSON, err := marshalDetail(detail)
	if err != nil {
		return false, eris.Wrap(err, "postgres: finish task")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, eris.Wrap(err, "postgres: finish task: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`DELETE FROM validation_tasks WHERE id = $1 AND lease_owner = $2 AND lease_epoch = $3`,
		task.ID, task.LeaseOwner, task.LeaseEpoch,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: finish task %s", task.ID)
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	tag, err = tx.Exec(ctx,
		`UPDATE interventions SET status = $1, validation_detail = COALESCE($2, validation_detail), updated_at = $3
		 WHERE id = $4 AND status = $5`,
		string(to), detailJSON, time.Now().UTC(), task.InterventionID, string(model.StatusInProgress),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: finish %s ->%s", task.InterventionID, to)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, eris.Wrap(err, "postgres: finish task: commit")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) RecoverExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: recover leases: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx,
		`UPDATE validation_tasks
		 SET lease_owner = NULL, lease_expires_at = NULL, lease_epoch = lease_epoch + 1, next_retry_at = $1
		 WHERE lease_owner IS NOT NULL AND lease_expires_at < $1
		 RETURNING intervention_id`,
		now,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: release expired leases")
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, eris.Wrap(err, "postgres: scan released lease")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "postgres: release expired leases iterate")
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if _, err := tx.Exec(ctx,
		`UPDATE interventions SET status = $1, updated_at = $2 WHERE id = ANY($3) AND status = $4`,
		string(model.StatusPending), now, ids, string(model.StatusInProgress),
	); err != nil {
		return 0, eris.Wrap(err, "postgres: reset recovered interventions")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: recover leases: commit")
	}
	return len(ids), nil
}

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue
		 (id, intervention_id, error, error_type, failed_check, retry_count, max_retries, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.InterventionID, entry.Error, entry.ErrorType, entry.FailedCheck,
		entry.RetryCount, entry.MaxRetries, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

func (s *PostgresStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, intervention_id, error, error_type, failed_check, retry_count, max_retries, created_at, last_failed_at
	          FROM dead_letter_queue`
	args := []any{}
	argIdx := 1

	if filter.ErrorType != "" {
		query += fmt.Sprintf(` WHERE error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}

	query += ` ORDER BY last_failed_at DESC`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, dlqLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var failedCheck *string
		if err := rows.Scan(&e.ID, &e.InterventionID, &e.Error, &e.ErrorType, &failedCheck,
			&e.RetryCount, &e.MaxRetries, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		if failedCheck != nil {
			e.FailedCheck = *failedCheck
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list dlq iterate")
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}

func (s *PostgresStore) CountByStatus(ctx context.Context, since time.Time) (map[model.ValidationStatus]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM interventions WHERE updated_at >= $1 GROUP BY status`,
		since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by status")
	}
	defer rows.Close()

	counts := make(map[model.ValidationStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status count")
		}
		counts[model.ValidationStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: iterate status counts")
}
