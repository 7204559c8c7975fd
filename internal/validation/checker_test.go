package validation

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cropdoc/internal/model"
	"github.com/sells-group/cropdoc/internal/resilience"
)

func TestLocate(t *testing.T) {
	p := sprayPayload()
	assert.Equal(t, p.Location, locate(p))

	p.Location = nil
	assert.Nil(t, locate(p))

	p.Boundary = json.RawMessage(`{"type":"Polygon","coordinates":[[[4,52],[6,52],[6,54],[4,54],[4,52]]]}`)
	loc := locate(p)
	require.NotNil(t, loc)
	assert.InDelta(t, 53, loc.Latitude, 1e-9)
	assert.InDelta(t, 5, loc.Longitude, 1e-9)

	p.Boundary = json.RawMessage(`{"type":"Polygon"`)
	assert.Nil(t, locate(p))
}

func TestChecker_Window(t *testing.T) {
	c := NewChecker(compliant(), calmWeather(), windLimit(), WithWeatherWindow(3*time.Hour))
	p := sprayPayload()

	w := c.window(p)
	assert.Equal(t, p.StartedAt.Add(-3*time.Hour), w.From)
	assert.Equal(t, p.StartedAt, w.To)

	p.EndedAt = p.StartedAt.Add(2 * time.Hour)
	w = c.window(p)
	assert.Equal(t, p.StartedAt, w.From)
	assert.Equal(t, p.EndedAt, w.To)
}

func TestChecker_NoLocationSkipsWeather(t *testing.T) {
	wx := calmWeather()
	sf := windLimit()
	c := NewChecker(compliant(), wx, sf)

	p := sprayPayload()
	p.Location = nil
	verdicts, err := c.Run(context.Background(), &model.InterventionRecord{ID: "iv", Payload: p})
	require.NoError(t, err)

	assert.Zero(t, wx.calls.Load())
	assert.Equal(t, int32(1), sf.calls.Load())
	require.Len(t, verdicts, 3)
	assert.Equal(t, "no location recorded", verdicts[1].Detail)
	assert.True(t, verdicts[2].Compliant)
}

func TestChecker_SubjectsWithoutProducts(t *testing.T) {
	sf := windLimit()
	c := NewChecker(compliant(), calmWeather(), sf)

	p := sprayPayload()
	p.Type = model.InterventionTillage
	p.Products = nil
	verdicts, err := c.Run(context.Background(), &model.InterventionRecord{ID: "iv", Payload: p})
	require.NoError(t, err)
	assert.Equal(t, "tillage", verdicts[len(verdicts)-1].Detail)
}

func TestChecker_CallTimeoutIsTransient(t *testing.T) {
	reg := compliant()
	reg.delay = time.Second
	c := NewChecker(reg, calmWeather(), windLimit(), WithCallTimeout(20*time.Millisecond))

	_, err := c.Run(context.Background(), &model.InterventionRecord{ID: "iv", Payload: sprayPayload()})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))

	var ce *CheckError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CheckRegistry, ce.Check)
}

func TestChecker_OpenCircuitIsTransient(t *testing.T) {
	reg := compliant()
	reg.failures = []error{transient(), transient()}
	breakers := resilience.NewServiceBreakers(resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	c := NewChecker(reg, calmWeather(), windLimit(), WithBreakers(breakers))
	rec := &model.InterventionRecord{ID: "iv", Payload: sprayPayload()}

	_, err := c.Run(context.Background(), rec)
	require.Error(t, err)

	_, err = c.Run(context.Background(), rec)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, int32(1), reg.calls.Load())
}
