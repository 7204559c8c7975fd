package model

import "time"

// ConfidenceTier is a discrete bucket over composite confidence.
type ConfidenceTier string

const (
	TierLow      ConfidenceTier = "low"
	TierModerate ConfidenceTier = "moderate"
	TierHigh     ConfidenceTier = "high"
	TierVeryHigh ConfidenceTier = "very-high"
)

// Tier boundaries. Each is the inclusive lower bound of its tier.
const (
	ModerateThreshold = 0.4
	HighThreshold     = 0.6
	VeryHighThreshold = 0.8
)

// TierFor maps a composite confidence onto its tier.
func TierFor(composite float64) ConfidenceTier {
	switch {
	case composite >= VeryHighThreshold:
		return TierVeryHigh
	case composite >= HighThreshold:
		return TierHigh
	case composite >= ModerateThreshold:
		return TierModerate
	default:
		return TierLow
	}
}

// Rank orders tiers from low (0) to very-high (3).
func (t ConfidenceTier) Rank() int {
	switch t {
	case TierVeryHigh:
		return 3
	case TierHigh:
		return 2
	case TierModerate:
		return 1
	default:
		return 0
	}
}

// ScoredMatch pairs evidence with one knowledge record.
type ScoredMatch struct {
	Record          KnowledgeRecord `json:"record"`
	SymptomScore    float64         `json:"symptom_score"`
	ConditionScore  float64         `json:"condition_score"`
	Confidence      float64         `json:"confidence"`
	Tier            ConfidenceTier  `json:"tier"`
	MatchedSymptoms []string        `json:"matched_symptoms"`
}

// ProvenanceSummary reports which knowledge sources answered.
type ProvenanceSummary struct {
	Sources      []Provenance `json:"sources"`
	UsedFallback bool         `json:"used_fallback"`
	Note         string       `json:"note,omitempty"`
}

// FallbackNote is shown to users when static knowledge answered.
const FallbackNote = "using fallback knowledge"

// DiagnosisResult is the ranked answer to one EvidenceSet.
type DiagnosisResult struct {
	Matches          []ScoredMatch     `json:"matches"`
	Tier             ConfidenceTier    `json:"tier"`
	Treatments       []string          `json:"treatments"`
	Prevention       []string          `json:"prevention,omitempty"`
	Provenance       ProvenanceSummary `json:"provenance"`
	StageDescription string            `json:"stage_description,omitempty"`
	EnvironmentBased bool              `json:"environment_based"`
	GeneratedAt      time.Time         `json:"generated_at"`
}

// OverallTier returns the highest tier among matches, or low when empty.
func OverallTier(matches []ScoredMatch) ConfidenceTier {
	best := TierLow
	for _, m := range matches {
		if m.Tier.Rank() > best.Rank() {
			best = m.Tier
		}
	}
	return best
}
