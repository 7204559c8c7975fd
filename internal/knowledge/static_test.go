package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cropdoc/internal/model"
)

func TestNewStaticSource_CoversSeedCrops(t *testing.T) {
	src, err := NewStaticSource()
	require.NoError(t, err)
	assert.Equal(t, []string{"maize", "potato", "rice", "tomato", "wheat"}, src.Crops())
	assert.Equal(t, model.ProvenanceStaticFallback, src.Provenance())
}

func TestStaticSource_WheatNitrogenDeficiency(t *testing.T) {
	src, err := NewStaticSource()
	require.NoError(t, err)

	recs, err := src.Search(context.Background(), evidence("wheat", "yellow-leaves", "stunted-growth", "pale-color"))
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	assert.Equal(t, "Nitrogen deficiency", recs[0].Name)
	assert.Equal(t, model.ProvenanceStaticFallback, recs[0].Provenance)
	require.Len(t, recs[0].Triggers, 1)
	assert.Equal(t, model.EnvTemperatureC, recs[0].Triggers[0].Field)
	assert.Equal(t, 10.0, *recs[0].Triggers[0].Min)
	assert.Equal(t, 25.0, *recs[0].Triggers[0].Max)
}

func TestStaticSource_UnknownCrop(t *testing.T) {
	src, err := NewStaticSource()
	require.NoError(t, err)

	recs, err := src.Search(context.Background(), evidence("dragonfruit", "yellow-leaves"))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStaticSource_Describe(t *testing.T) {
	src, err := NewStaticSource()
	require.NoError(t, err)

	desc, ok, err := src.Describe(context.Background(), "Wheat", "31")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "First node detectable", desc)

	_, ok, err = src.Describe(context.Background(), "wheat", "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseStatic_RejectsBadCategory(t *testing.T) {
	_, err := ParseStatic([]byte(`
records:
  - crop: wheat
    name: Mystery
    category: weather
    symptoms: [yellow-leaves]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown category")
}

type stubDescriber struct {
	text string
	ok   bool
	err  error
}

func (s stubDescriber) Describe(context.Context, string, string) (string, bool, error) {
	return s.text, s.ok, s.err
}

func TestDescribers_FirstHitWins(t *testing.T) {
	d := Describers{
		stubDescriber{err: errors.New("store down")},
		stubDescriber{},
		stubDescriber{text: "Tasselling", ok: true},
	}
	text, ok, err := d.Describe(context.Background(), "maize", "vt")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Tasselling", text)
}

func TestDescribers_ReportsErrorWhenNothingFound(t *testing.T) {
	d := Describers{stubDescriber{err: errors.New("store down")}, stubDescriber{}}
	_, ok, err := d.Describe(context.Background(), "maize", "vt")
	assert.False(t, ok)
	assert.EqualError(t, err, "store down")
}
