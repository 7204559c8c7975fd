package monitoring

import (
	"fmt"
	"time"

	"github.com/sells-group/cropdoc/internal/config"
)

// AlertType identifies a rule.
type AlertType string

const (
	AlertValidationFailureRate AlertType = "validation_failure_rate"
	AlertDLQDepth              AlertType = "dlq_depth"
	AlertBacklog               AlertType = "validation_backlog"
)

// Alert states.
const (
	StatusFiring   = "firing"
	StatusResolved = "resolved"
)

// minFinished is the smallest sample the failure-rate rule judges.
const minFinished = 5

// Alert is the webhook payload.
type Alert struct {
	Type      AlertType      `json:"type"`
	Status    string         `json:"status"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Rule fires when Breached reports true for a snapshot.
type Rule struct {
	Type     AlertType
	Severity string
	Breached func(s *MetricsSnapshot) (msg string, details map[string]any, ok bool)
}

// Rules builds the enabled rules. A zero threshold disables its rule.
func Rules(cfg config.MonitoringConfig) []Rule {
	var rules []Rule

	if t := cfg.FailureRateThreshold; t > 0 {
		rules = append(rules, Rule{
			Type:     AlertValidationFailureRate,
			Severity: "high",
			Breached: func(s *MetricsSnapshot) (string, map[string]any, bool) {
				finished := s.Finished()
				if finished < minFinished || s.FailRate <= t {
					return "", nil, false
				}
				msg := fmt.Sprintf("validation failure rate %.1f%% over %.1f%% (%d failed of %d finished, last %dh)",
					s.FailRate*100, t*100, s.Failed, finished, s.LookbackHours)
				return msg, map[string]any{"failure_rate": s.FailRate, "threshold": t, "failed": s.Failed, "finished": finished}, true
			},
		})
	}

	if t := cfg.DLQThreshold; t > 0 {
		rules = append(rules, Rule{
			Type:     AlertDLQDepth,
			Severity: "high",
			Breached: func(s *MetricsSnapshot) (string, map[string]any, bool) {
				if s.DLQDepth <= t {
					return "", nil, false
				}
				msg := fmt.Sprintf("%d interventions dead-lettered (threshold %d)", s.DLQDepth, t)
				return msg, map[string]any{"dlq_depth": s.DLQDepth, "threshold": t}, true
			},
		})
	}

	if t := cfg.BacklogThreshold; t > 0 {
		rules = append(rules, Rule{
			Type:     AlertBacklog,
			Severity: "medium",
			Breached: func(s *MetricsSnapshot) (string, map[string]any, bool) {
				if s.Backlog <= t {
					return "", nil, false
				}
				msg := fmt.Sprintf("%d interventions awaiting validation (threshold %d)", s.Backlog, t)
				return msg, map[string]any{"pending": s.Pending, "in_progress": s.InProgress, "threshold": t}, true
			},
		})
	}

	return rules
}
