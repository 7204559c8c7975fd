// Package store persists knowledge records, the shared diagnosis cache tier,
// interventions with their validation tasks, and dead-letter entries.
package store

import (
	"context"
	"time"

	"github.com/sells-group/cropdoc/internal/model"
	"github.com/sells-group/cropdoc/internal/resilience"
)

// KnowledgeStore is the structured knowledge collection.
type KnowledgeStore interface {
	FindByCropAndCategory(ctx context.Context, crop string, category model.Category) ([]model.KnowledgeRecord, error)
	Describe(ctx context.Context, crop, stage string) (string, bool, error)
	ImportKnowledge(ctx context.Context, records []model.KnowledgeRecord) (int64, error)
	ImportStages(ctx context.Context, stages []model.GrowthStage) (int64, error)
}

// CacheStore is the shared diagnosis cache tier. Payloads are opaque bytes.
type CacheStore interface {
	GetCached(ctx context.Context, key string, now time.Time) (payload []byte, expiresAt time.Time, found bool, err error)
	SetCached(ctx context.Context, key string, payload []byte, expiresAt time.Time) error
	DeleteExpiredCache(ctx context.Context, now time.Time) (int64, error)
}

// ValidationStore is the durable intervention journal and validation queue.
type ValidationStore interface {
	// CreateIntervention writes the record and its validation task in one
	// transaction.
	CreateIntervention(ctx context.Context, rec *model.InterventionRecord) error
	GetIntervention(ctx context.Context, id string) (*model.InterventionRecord, error)
	// TransitionStatus moves a record from one status to another only if it
	// is still in from. It reports whether the swap happened.
	TransitionStatus(ctx context.Context, id string, from, to model.ValidationStatus, detail *model.ValidationDetail) (bool, error)

	// ClaimTasks leases up to limit due tasks to owner, including tasks
	// whose previous lease has expired. Each claim increments the task's
	// attempt counter and lease epoch.
	ClaimTasks(ctx context.Context, owner string, lease time.Duration, now time.Time, limit int) ([]model.ValidationTask, error)
	// RescheduleTask releases the lease and sets the next claim time. It is
	// a no-op returning false if the lease moved on.
	RescheduleTask(ctx context.Context, task model.ValidationTask, nextRetryAt time.Time, lastErr string) (bool, error)
	// CompleteTask deletes the task if the caller still holds its lease.
	CompleteTask(ctx context.Context, task model.ValidationTask) (bool, error)
	// FinishTask deletes the task and moves its record from in_progress to
	// the terminal status to, in one transaction, only while the caller
	// still holds the lease. It reports whether the record transitioned.
	// A lost lease changes nothing.
	FinishTask(ctx context.Context, task model.ValidationTask, to model.ValidationStatus, detail *model.ValidationDetail) (bool, error)
	// RecoverExpiredLeases releases every lease that expired before now and
	// moves the owning in-progress records back to pending.
	RecoverExpiredLeases(ctx context.Context, now time.Time) (int, error)

	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	CountDLQ(ctx context.Context) (int, error)

	// CountByStatus counts interventions updated at or after since, keyed by
	// status.
	CountByStatus(ctx context.Context, since time.Time) (map[model.ValidationStatus]int, error)
}

// Store is the full persistence interface.
type Store interface {
	KnowledgeStore
	CacheStore
	ValidationStore

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

