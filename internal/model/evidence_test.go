package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestEvidenceSet_Validate(t *testing.T) {
	ok := EvidenceSet{Crop: "wheat", Symptoms: []string{"yellow-leaves"}}
	require.NoError(t, ok.Validate())

	err := EvidenceSet{Symptoms: []string{"yellow-leaves"}}.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)

	err = EvidenceSet{Crop: "wheat", Symptoms: []string{"  "}}.Validate()
	require.Error(t, err)
	assert.True(t, IsInputError(err))

	err = EvidenceSet{Crop: "wheat", Symptoms: []string{"x"}, AffectedArea: ptr(1.5)}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "affected_area")

	err = EvidenceSet{Crop: "wheat", Symptoms: []string{"x"}, Location: &Location{Latitude: 91}}.Validate()
	require.Error(t, err)
}

func TestNormalizeToken(t *testing.T) {
	assert.Equal(t, "yellow-leaves", NormalizeToken("  Yellow Leaves "))
	assert.Equal(t, "yellow-leaves", NormalizeToken("yellow_leaves"))
	assert.Equal(t, "yellow-leaves", NormalizeToken("yellow--leaves"))
	assert.Equal(t, "", NormalizeToken("   "))
}

func TestEnvironment_MergeKeepsObserved(t *testing.T) {
	observed := Environment{TemperatureC: ptr(18)}
	enriched := observed.Merge(Environment{TemperatureC: ptr(30), HumidityPct: ptr(80)})

	assert.Equal(t, 18.0, *enriched.TemperatureC)
	assert.Equal(t, 80.0, *enriched.HumidityPct)
	assert.Nil(t, observed.HumidityPct, "receiver must not be mutated")
	assert.True(t, enriched.Any())
	assert.False(t, Environment{}.Any())
}

func TestPredicate_Satisfied(t *testing.T) {
	p := Predicate{Field: EnvTemperatureC, Min: ptr(10), Max: ptr(25)}

	assert.True(t, p.Satisfied(Environment{TemperatureC: ptr(18)}))
	assert.True(t, p.Satisfied(Environment{TemperatureC: ptr(10)}))
	assert.True(t, p.Satisfied(Environment{TemperatureC: ptr(25)}))
	assert.False(t, p.Satisfied(Environment{TemperatureC: ptr(26)}))
	assert.False(t, p.Satisfied(Environment{}), "missing reading is unsatisfied")

	open := Predicate{Field: EnvHumidityPct, Min: ptr(80)}
	assert.True(t, open.Satisfied(Environment{HumidityPct: ptr(95)}))
}

func TestKnowledgeRecord_SymptomOverlap(t *testing.T) {
	rec := KnowledgeRecord{Symptoms: []string{"Yellow Leaves", "yellow-leaves", "pale-color"}}
	ev := EvidenceSet{Symptoms: []string{"yellow-leaves", "wilting"}}
	assert.Equal(t, 1, rec.SymptomOverlap(ev.SymptomSet()))
}
