package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("collaborator down")

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testBreaker(threshold int, reset time.Duration) (*CircuitBreaker, *clock) {
	clk := &clock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "weather", FailureThreshold: threshold, ResetTimeout: reset})
	cb.now = clk.now
	return cb, clk
}

func fail(cb *CircuitBreaker, n int) {
	for range n {
		_ = cb.Execute(context.Background(), func(context.Context) error { return errDown })
	}
}

func succeed(cb *CircuitBreaker) error {
	return cb.Execute(context.Background(), func(context.Context) error { return nil })
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	cb, _ := testBreaker(3, time.Minute)

	fail(cb, 2)
	assert.Equal(t, CircuitClosed, cb.State())
	fail(cb, 1)
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessClearsFailures(t *testing.T) {
	cb, _ := testBreaker(2, time.Minute)

	fail(cb, 1)
	require.NoError(t, succeed(cb))
	fail(cb, 1)
	assert.Equal(t, CircuitClosed, cb.State())
	fail(cb, 1)
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_ProbeCloses(t *testing.T) {
	cb, clk := testBreaker(1, 10*time.Second)
	fail(cb, 1)

	clk.advance(9 * time.Second)
	assert.ErrorIs(t, succeed(cb), ErrCircuitOpen)

	clk.advance(time.Second)
	assert.Equal(t, CircuitHalfOpen, cb.State())
	require.NoError(t, succeed(cb))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb, clk := testBreaker(1, 10*time.Second)
	fail(cb, 1)

	clk.advance(10 * time.Second)
	fail(cb, 1)
	assert.Equal(t, CircuitOpen, cb.State())

	clk.advance(5 * time.Second)
	assert.ErrorIs(t, succeed(cb), ErrCircuitOpen, "reset timer restarts from the failed probe")
}

func TestCircuitBreaker_SingleProbe(t *testing.T) {
	cb, clk := testBreaker(1, time.Second)
	fail(cb, 1)
	clk.advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = cb.Execute(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.ErrorIs(t, succeed(cb), ErrCircuitOpen, "second caller is rejected while the probe runs")

	close(release)
	wg.Wait()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_CancellationIsNeutral(t *testing.T) {
	cb, _ := testBreaker(1, time.Minute)

	err := cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_ShouldTrip(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute, ShouldTrip: IsTransient})

	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("unknown product code") })
	assert.Equal(t, CircuitClosed, cb.State(), "permanent errors do not count")

	_ = cb.Execute(context.Background(), func(context.Context) error {
		return NewTransientError(errDown, 503)
	})
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestExecuteVal(t *testing.T) {
	cb, _ := testBreaker(1, time.Minute)

	v, err := ExecuteVal(context.Background(), cb, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	fail(cb, 1)
	v, err = ExecuteVal(context.Background(), cb, func(context.Context) (int, error) { return 7, nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, v)
}

func TestBreakerConfig(t *testing.T) {
	cfg := BreakerConfig("shared-cache", 3, 15*time.Second)
	assert.Equal(t, CircuitBreakerConfig{Name: "shared-cache", FailureThreshold: 3, ResetTimeout: 15 * time.Second}, cfg)

	cfg = BreakerConfig("registry", 0, 0)
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.ResetTimeout)
}

func TestServiceBreakers_Independent(t *testing.T) {
	sb := NewServiceBreakers(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})

	fail(sb.Get("registry"), 1)
	assert.Same(t, sb.Get("registry"), sb.Get("registry"))
	assert.Equal(t, CircuitOpen, sb.Get("registry").State())
	assert.Equal(t, CircuitClosed, sb.Get("safety").State())
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
