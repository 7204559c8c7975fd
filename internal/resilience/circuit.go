// Package resilience holds the retry, circuit breaking and dead-letter
// primitives shared by the diagnosis cache tier and the validation
// collaborators.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState is the position of a breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	// CircuitHalfOpen admits a single probe call.
	CircuitHalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s CircuitState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ErrCircuitOpen is returned without calling through while a breaker is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls when a breaker opens and how long it stays
// open.
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int
	ResetTimeout     time.Duration
	// ShouldTrip reports whether an error counts against the breaker. Nil
	// counts every error.
	ShouldTrip func(error) bool
}

// DefaultCircuitBreakerConfig opens after 5 consecutive failures and probes
// again after 30s.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{FailureThreshold: 5, ResetTimeout: 30 * time.Second}
}

// BreakerConfig returns the defaults for name with any positive override
// applied.
func BreakerConfig(name string, failureThreshold int, reset time.Duration) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	cfg.Name = name
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if reset > 0 {
		cfg.ResetTimeout = reset
	}
	return cfg
}

// CircuitBreaker stops calling a collaborator after repeated failures and
// lets one probe through once ResetTimeout has passed.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker creates a closed breaker. Zero config fields take the
// defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Execute runs fn through the breaker.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteVal(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteVal runs fn through cb and returns its value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	probe, err := cb.admit()
	if err != nil {
		var zero T
		return zero, err
	}
	v, err := fn(ctx)
	cb.record(probe, err)
	return v, err
}

// State returns the breaker position as a caller would see it now.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.cooled() {
		return CircuitHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) cooled() bool {
	return cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout
}

// admit decides whether a call may go through and whether it is the
// half-open probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return false, nil
	case CircuitOpen:
		if !cb.cooled() {
			return false, ErrCircuitOpen
		}
		cb.moveTo(CircuitHalfOpen)
	}
	if cb.probing {
		return false, ErrCircuitOpen
	}
	cb.probing = true
	return true, nil
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing = false
	}
	// The caller gave up; that says nothing about the collaborator.
	if errors.Is(err, context.Canceled) {
		return
	}

	tripped := err != nil && (cb.cfg.ShouldTrip == nil || cb.cfg.ShouldTrip(err))
	switch {
	case probe && tripped:
		cb.open()
	case probe:
		cb.failures = 0
		cb.moveTo(CircuitClosed)
	case cb.state != CircuitClosed:
		// A call admitted before the circuit opened.
	case tripped:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.open()
		}
	default:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) open() {
	cb.failures = 0
	cb.openedAt = cb.now()
	cb.moveTo(CircuitOpen)
}

func (cb *CircuitBreaker) moveTo(to CircuitState) {
	if cb.state == to {
		return
	}
	zap.L().Warn("circuit breaker state change",
		zap.String("breaker", cb.cfg.Name),
		zap.Stringer("from", cb.state),
		zap.Stringer("to", to),
	)
	cb.state = to
}

// ServiceBreakers hands out one breaker per collaborator, all built from the
// same config.
type ServiceBreakers struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewServiceBreakers creates an empty breaker set.
func NewServiceBreakers(cfg CircuitBreakerConfig) *ServiceBreakers {
	return &ServiceBreakers{cfg: cfg, breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the breaker for service, creating it on first use.
func (sb *ServiceBreakers) Get(service string) *CircuitBreaker {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	cb, ok := sb.breakers[service]
	if !ok {
		cfg := sb.cfg
		cfg.Name = service
		cb = NewCircuitBreaker(cfg)
		sb.breakers[service] = cb
	}
	return cb
}
