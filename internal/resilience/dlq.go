package resilience

import (
	"time"
)

// Error types recorded on dead-letter entries.
const (
	ErrorTypeTransient = "transient"
	ErrorTypePermanent = "permanent"
)

// DLQEntry records a validation that gave up. Entries are kept for operators;
// nothing retries them automatically.
type DLQEntry struct {
	ID             string    `json:"id"`
	InterventionID string    `json:"intervention_id"`
	Error          string    `json:"error"`
	ErrorType      string    `json:"error_type"`
	FailedCheck    string    `json:"failed_check,omitempty"`
	RetryCount     int       `json:"retry_count"`
	MaxRetries     int       `json:"max_retries"`
	CreatedAt      time.Time `json:"created_at"`
	LastFailedAt   time.Time `json:"last_failed_at"`
}

// DLQFilter specifies criteria for listing dead-letter entries.
type DLQFilter struct {
	ErrorType string `json:"error_type,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// Exhausted reports whether the entry used up its retry budget.
func (e *DLQEntry) Exhausted() bool {
	return e.RetryCount >= e.MaxRetries
}

// ClassifyError categorizes an error as transient or permanent.
func ClassifyError(err error) string {
	if IsTransient(err) {
		return ErrorTypeTransient
	}
	return ErrorTypePermanent
}
