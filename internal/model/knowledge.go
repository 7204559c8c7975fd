package model

// Category classifies a candidate cause.
type Category string

const (
	CategoryDisease    Category = "disease"
	CategoryPest       Category = "pest"
	CategoryDeficiency Category = "deficiency"
)

// Categories lists every category the knowledge store is queried for.
var Categories = []Category{CategoryDisease, CategoryPest, CategoryDeficiency}

// Provenance tags which knowledge source produced a record.
type Provenance string

const (
	ProvenanceDatabase       Provenance = "database"
	ProvenanceStaticFallback Provenance = "static-fallback"
)

// Predicate is an environmental trigger. It is satisfied when the evidence
// carries a reading for Field that lies within the inclusive [Min, Max]
// bounds; a nil bound is open. A missing reading never satisfies it.
type Predicate struct {
	Field EnvField `json:"field" yaml:"field"`
	Min   *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max   *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

// Satisfied evaluates the predicate against a set of readings.
func (p Predicate) Satisfied(env Environment) bool {
	v, ok := env.Value(p.Field)
	if !ok {
		return false
	}
	if p.Min != nil && v < *p.Min {
		return false
	}
	if p.Max != nil && v > *p.Max {
		return false
	}
	return true
}

// KnowledgeRecord is a candidate disease, pest or nutrient deficiency.
// Records are read-only once produced by a knowledge source.
type KnowledgeRecord struct {
	Name         string      `json:"name" yaml:"name"`
	Code         string      `json:"code,omitempty" yaml:"code,omitempty"`
	Crop         string      `json:"crop" yaml:"crop"`
	Category     Category    `json:"category" yaml:"category"`
	Symptoms     []string    `json:"symptoms" yaml:"symptoms"`
	Triggers     []Predicate `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	GrowthStages []string    `json:"growth_stages,omitempty" yaml:"growth_stages,omitempty"`
	Treatments   []string    `json:"treatments,omitempty" yaml:"treatments,omitempty"`
	Prevention   []string    `json:"prevention,omitempty" yaml:"prevention,omitempty"`
	Provenance   Provenance  `json:"provenance" yaml:"-"`
}

// SymptomOverlap counts the record's distinct symptoms present in set.
func (r KnowledgeRecord) SymptomOverlap(set map[string]struct{}) int {
	seen := make(map[string]struct{}, len(r.Symptoms))
	n := 0
	for _, s := range r.Symptoms {
		tok := NormalizeToken(s)
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		if _, ok := set[tok]; ok {
			n++
		}
	}
	return n
}

// GrowthStage describes a crop development stage code such as BBCH 31.
type GrowthStage struct {
	Crop        string `json:"crop" yaml:"crop"`
	Code        string `json:"code" yaml:"code"`
	Description string `json:"description" yaml:"description"`
}
