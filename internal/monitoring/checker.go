package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/cropdoc/internal/config"
)

// Checker evaluates the rules on a fixed interval. An alert is sent when a
// rule starts firing and again when it resolves; a rule that stays breached
// is not re-sent.
type Checker struct {
	collector *Collector
	notifier  Notifier
	rules     []Rule
	interval  time.Duration
	lookback  int
	now       func() time.Time
	log       *zap.Logger

	firing map[AlertType]Alert
}

// NewChecker creates a Checker. It is not safe for concurrent CheckOnce
// calls; Run serializes them.
func NewChecker(collector *Collector, notifier Notifier, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Checker{
		collector: collector,
		notifier:  notifier,
		rules:     Rules(cfg),
		interval:  interval,
		lookback:  cfg.LookbackWindowHours,
		now:       time.Now,
		log:       zap.L().With(zap.String("component", "monitoring")),
		firing:    make(map[AlertType]Alert),
	}
}

// Run checks every interval until ctx is done.
func (c *Checker) Run(ctx context.Context) error {
	c.log.Info("alert checker starting",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
		zap.Int("rules", len(c.rules)),
	)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("alert checker stopped")
			return nil
		case <-ticker.C:
			c.CheckOnce(ctx)
		}
	}
}

// CheckOnce collects a snapshot, applies the rules and notifies on state
// changes. It returns the number of alerts delivered.
func (c *Checker) CheckOnce(ctx context.Context) int {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		c.log.Error("collect validation metrics", zap.Error(err))
		return 0
	}

	now := c.now().UTC()
	var changes []Alert
	for _, r := range c.rules {
		msg, details, breached := r.Breached(snap)
		prev, wasFiring := c.firing[r.Type]
		switch {
		case breached && !wasFiring:
			changes = append(changes, Alert{
				Type: r.Type, Status: StatusFiring, Severity: r.Severity,
				Message: msg, Details: details, Timestamp: now,
			})
		case !breached && wasFiring:
			changes = append(changes, Alert{
				Type: r.Type, Status: StatusResolved, Severity: prev.Severity,
				Message: string(r.Type) + " back within threshold", Timestamp: now,
			})
		}
	}

	sent := 0
	for _, a := range changes {
		if err := c.notifier.Notify(ctx, a); err != nil {
			// State is left unchanged so the next check retries.
			c.log.Error("send alert", zap.String("type", string(a.Type)), zap.String("status", a.Status), zap.Error(err))
			continue
		}
		if a.Status == StatusFiring {
			c.firing[a.Type] = a
		} else {
			delete(c.firing, a.Type)
		}
		c.log.Info("alert sent",
			zap.String("type", string(a.Type)),
			zap.String("status", a.Status),
			zap.String("severity", a.Severity),
		)
		sent++
	}

	c.log.Debug("alert check complete",
		zap.Int("backlog", snap.Backlog),
		zap.Int("dlq_depth", snap.DLQDepth),
		zap.Float64("fail_rate", snap.FailRate),
		zap.Int("firing", len(c.firing)),
	)
	return sent
}
