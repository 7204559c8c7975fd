package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cropdoc/internal/config"
	"github.com/sells-group/cropdoc/internal/model"
)

func ptrFloat64(v float64) *float64 { return &v }

func nitrogenDeficiency() model.KnowledgeRecord {
	return model.KnowledgeRecord{
		Name:     "Nitrogen deficiency",
		Crop:     "wheat",
		Category: model.CategoryDeficiency,
		Symptoms: []string{"yellow-leaves", "stunted-growth", "pale-color"},
		Triggers: []model.Predicate{
			{Field: model.EnvTemperatureC, Min: ptrFloat64(10), Max: ptrFloat64(25)},
		},
	}
}

func TestScoreWheatNitrogen(t *testing.T) {
	ev := model.EvidenceSet{
		Crop:        "wheat",
		Symptoms:    []string{"yellow-leaves", "stunted-growth"},
		Environment: model.Environment{TemperatureC: ptrFloat64(18)},
	}

	got, ok := Default().Score(ev, nitrogenDeficiency())
	require.True(t, ok)
	assert.InDelta(t, 0.666667, got.SymptomScore, 1e-9)
	assert.InDelta(t, 1.0, got.ConditionScore, 1e-9)
	assert.InDelta(t, 0.766667, got.Confidence, 1e-9)
	assert.Equal(t, model.TierHigh, got.Tier)
	assert.Equal(t, []string{"stunted-growth", "yellow-leaves"}, got.MatchedSymptoms)
}

func TestScoreComponents(t *testing.T) {
	tests := []struct {
		name      string
		scorer    *Scorer
		ev        model.EvidenceSet
		rec       model.KnowledgeRecord
		wantConf  float64
		wantTier  model.ConfidenceTier
		wantSympt float64
		wantCond  float64
	}{
		{
			name:      "missing reading leaves predicate unsatisfied",
			scorer:    Default(),
			ev:        model.EvidenceSet{Crop: "wheat", Symptoms: []string{"yellow-leaves", "stunted-growth"}},
			rec:       nitrogenDeficiency(),
			wantConf:  0.466667,
			wantTier:  model.TierModerate,
			wantSympt: 0.666667,
			wantCond:  0,
		},
		{
			name:      "reading outside bounds",
			scorer:    Default(),
			ev:        model.EvidenceSet{Crop: "wheat", Symptoms: []string{"pale-color"}, Environment: model.Environment{TemperatureC: ptrFloat64(31)}},
			rec:       nitrogenDeficiency(),
			wantConf:  0.233333,
			wantTier:  model.TierLow,
			wantSympt: 0.333333,
			wantCond:  0,
		},
		{
			name:   "no triggers gives zero condition",
			scorer: Default(),
			ev:     model.EvidenceSet{Crop: "maize", Symptoms: []string{"leaf-spots"}},
			rec: model.KnowledgeRecord{
				Name:     "Grey leaf spot",
				Crop:     "maize",
				Symptoms: []string{"leaf-spots"},
			},
			wantConf:  0.7,
			wantTier:  model.TierHigh,
			wantSympt: 1,
			wantCond:  0,
		},
		{
			name:   "moderate lower bound is inclusive",
			scorer: New(1, 0),
			ev:     model.EvidenceSet{Crop: "rice", Symptoms: []string{"a", "b"}},
			rec: model.KnowledgeRecord{
				Name:     "Blast",
				Crop:     "rice",
				Symptoms: []string{"a", "b", "c", "d", "e"},
			},
			wantConf:  0.4,
			wantTier:  model.TierModerate,
			wantSympt: 0.4,
			wantCond:  0,
		},
		{
			name:   "duplicate record symptoms count once",
			scorer: Default(),
			ev:     model.EvidenceSet{Crop: "tomato", Symptoms: []string{"wilting"}},
			rec: model.KnowledgeRecord{
				Name:     "Fusarium wilt",
				Crop:     "tomato",
				Symptoms: []string{"wilting", "Wilting ", "yellow leaves", "yellow_leaves"},
			},
			wantConf:  0.35,
			wantTier:  model.TierLow,
			wantSympt: 0.5,
			wantCond:  0,
		},
		{
			name:   "composite clamps to one",
			scorer: New(2, 2),
			ev: model.EvidenceSet{
				Crop:        "wheat",
				Symptoms:    []string{"yellow-leaves", "stunted-growth", "pale-color"},
				Environment: model.Environment{TemperatureC: ptrFloat64(12)},
			},
			rec:       nitrogenDeficiency(),
			wantConf:  1,
			wantTier:  model.TierVeryHigh,
			wantSympt: 1,
			wantCond:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.scorer.Score(tt.ev, tt.rec)
			require.True(t, ok)
			assert.InDelta(t, tt.wantConf, got.Confidence, 1e-9)
			assert.Equal(t, tt.wantTier, got.Tier)
			assert.InDelta(t, tt.wantSympt, got.SymptomScore, 1e-9)
			assert.InDelta(t, tt.wantCond, got.ConditionScore, 1e-9)
		})
	}
}

func TestScoreGrowthStageGate(t *testing.T) {
	rec := nitrogenDeficiency()
	rec.GrowthStages = []string{"21", "31"}

	tests := []struct {
		name   string
		stage  string
		stages []string
		want   bool
	}{
		{"observed stage listed", "31", rec.GrowthStages, true},
		{"observed stage listed after normalization", " 31 ", rec.GrowthStages, true},
		{"observed stage excluded", "65", rec.GrowthStages, false},
		{"no observed stage", "", rec.GrowthStages, true},
		{"record lists no stages", "65", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := rec
			r.GrowthStages = tt.stages
			ev := model.EvidenceSet{Crop: "wheat", Symptoms: []string{"yellow-leaves"}, GrowthStage: tt.stage}

			got, ok := Default().Score(ev, r)
			assert.Equal(t, tt.want, ok)
			if !ok {
				assert.Zero(t, got.Confidence)
			}
		})
	}
}

func TestScoreDeterministic(t *testing.T) {
	ev := model.EvidenceSet{
		Crop:        "wheat",
		Symptoms:    []string{"stunted-growth", "yellow-leaves", "Yellow Leaves"},
		Environment: model.Environment{TemperatureC: ptrFloat64(18)},
	}
	rec := nitrogenDeficiency()

	first, _ := Default().Score(ev, rec)
	for range 20 {
		got, _ := Default().Score(ev, rec)
		assert.Equal(t, first, got)
	}
	assert.Equal(t, []string{"stunted-growth", "yellow-leaves", "Yellow Leaves"}, ev.Symptoms)
}

func TestFromConfig(t *testing.T) {
	s, err := FromConfig(config.DiagnosisConfig{SymptomWeight: 0.6, ConditionWeight: 0.4})
	require.NoError(t, err)
	assert.Equal(t, 0.6, s.SymptomWeight)
	assert.Equal(t, 0.4, s.ConditionWeight)

	_, err = FromConfig(config.DiagnosisConfig{SymptomWeight: 0.9, ConditionWeight: 0.3})
	assert.Error(t, err)

	_, err = FromConfig(config.DiagnosisConfig{SymptomWeight: -0.2, ConditionWeight: 1.2})
	assert.Error(t, err)
}
