// Package monitoring watches validation outcomes and the dead-letter queue
// and raises webhook alerts when they cross configured thresholds.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cropdoc/internal/model"
)

// MetricsSnapshot holds a point-in-time view of validation health.
type MetricsSnapshot struct {
	// Interventions touched within the lookback window, by status.
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Validated  int `json:"validated"`
	Flagged    int `json:"flagged"`
	Failed     int `json:"failed"`

	// FailRate is failed / finished, where finished counts every terminal
	// status.
	FailRate float64 `json:"fail_rate"`
	Backlog  int     `json:"backlog"`

	DLQDepth int `json:"dlq_depth"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Finished returns the number of interventions in a terminal status.
func (s *MetricsSnapshot) Finished() int {
	return s.Validated + s.Flagged + s.Failed
}

// StatsQuerier is the slice of the store the collector reads.
type StatsQuerier interface {
	CountByStatus(ctx context.Context, since time.Time) (map[model.ValidationStatus]int, error)
	CountDLQ(ctx context.Context) (int, error)
}

// Collector gathers metrics from the validation store.
type Collector struct {
	store StatsQuerier
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st StatsQuerier) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot of validation metrics over the given lookback
// window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	counts, err := c.store.CountByStatus(ctx, now.Add(-time.Duration(lookbackHours)*time.Hour))
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count interventions")
	}
	snap.Pending = counts[model.StatusPending]
	snap.InProgress = counts[model.StatusInProgress]
	snap.Validated = counts[model.StatusValidated]
	snap.Flagged = counts[model.StatusFlagged]
	snap.Failed = counts[model.StatusValidationFailed]
	snap.Backlog = snap.Pending + snap.InProgress

	if finished := snap.Finished(); finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
	}

	dlqCount, err := c.store.CountDLQ(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count dlq")
	}
	snap.DLQDepth = dlqCount

	return snap, nil
}
