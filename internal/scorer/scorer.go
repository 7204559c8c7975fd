// Package scorer computes the confidence that a knowledge record explains a
// field observation.
package scorer

import (
	"math"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cropdoc/internal/config"
	"github.com/sells-group/cropdoc/internal/model"
)

// Default component weights. They sum to 1.
const (
	DefaultSymptomWeight   = 0.7
	DefaultConditionWeight = 0.3
)

// Scorer combines symptom overlap and environmental fit into a composite
// confidence. The zero value is not usable; construct with New or Default.
type Scorer struct {
	SymptomWeight   float64
	ConditionWeight float64
}

// New returns a Scorer with the given component weights.
func New(symptomWeight, conditionWeight float64) *Scorer {
	return &Scorer{SymptomWeight: symptomWeight, ConditionWeight: conditionWeight}
}

// Default returns a Scorer with the default weights.
func Default() *Scorer {
	return New(DefaultSymptomWeight, DefaultConditionWeight)
}

// FromConfig builds a Scorer from diagnosis settings.
func FromConfig(cfg config.DiagnosisConfig) (*Scorer, error) {
	if err := ValidateWeights(cfg.SymptomWeight, cfg.ConditionWeight); err != nil {
		return nil, err
	}
	return New(cfg.SymptomWeight, cfg.ConditionWeight), nil
}

// ValidateWeights checks that weights are non-negative and sum to 1.
func ValidateWeights(symptomWeight, conditionWeight float64) error {
	if symptomWeight < 0 || conditionWeight < 0 {
		return eris.New("scorer: weights must be >= 0")
	}
	if sum := symptomWeight + conditionWeight; math.Abs(sum-1) > 1e-9 {
		return eris.Errorf("scorer: weights should sum to 1, got %.3f", sum)
	}
	return nil
}

// Score rates rec against ev. It returns ok=false when the record is not
// eligible: both sides name a growth stage and the record's stages exclude
// the observed one. Score is pure.
func (s *Scorer) Score(ev model.EvidenceSet, rec model.KnowledgeRecord) (model.ScoredMatch, bool) {
	if !stageEligible(ev.GrowthStage, rec.GrowthStages) {
		return model.ScoredMatch{}, false
	}

	matched := matchedSymptoms(ev.SymptomSet(), rec.Symptoms)
	symptom := float64(len(matched)) / float64(max(1, distinct(rec.Symptoms)))
	condition := conditionScore(ev.Environment, rec.Triggers)

	composite := round6(clamp01(symptom*s.SymptomWeight + condition*s.ConditionWeight))

	return model.ScoredMatch{
		Record:          rec,
		SymptomScore:    round6(symptom),
		ConditionScore:  round6(condition),
		Confidence:      composite,
		Tier:            model.TierFor(composite),
		MatchedSymptoms: matched,
	}, true
}

// stageEligible is false only when both sides carry a stage and the
// record's list does not contain the observed one.
func stageEligible(observed string, stages []string) bool {
	obs := model.NormalizeToken(observed)
	if obs == "" || len(stages) == 0 {
		return true
	}
	for _, st := range stages {
		if model.NormalizeToken(st) == obs {
			return true
		}
	}
	return false
}

func matchedSymptoms(set map[string]struct{}, symptoms []string) []string {
	seen := make(map[string]struct{}, len(symptoms))
	out := make([]string, 0, len(symptoms))
	for _, s := range symptoms {
		tok := model.NormalizeToken(s)
		if tok == "" {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		if _, ok := set[tok]; ok {
			out = append(out, tok)
		}
	}
	slices.Sort(out)
	return out
}

func distinct(symptoms []string) int {
	seen := make(map[string]struct{}, len(symptoms))
	for _, s := range symptoms {
		if tok := model.NormalizeToken(s); tok != "" {
			seen[tok] = struct{}{}
		}
	}
	return len(seen)
}

// conditionScore is the fraction of triggers the environment satisfies.
// A record without triggers scores 0.
func conditionScore(env model.Environment, triggers []model.Predicate) float64 {
	if len(triggers) == 0 {
		return 0
	}
	n := 0
	for _, p := range triggers {
		if p.Satisfied(env) {
			n++
		}
	}
	return float64(n) / float64(len(triggers))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
