// Package knowledge provides the two knowledge sources consulted by the
// diagnostic resolver: the structured store and the built-in static table.
package knowledge

import (
	"context"
	"sort"
	"strings"

	"github.com/sells-group/cropdoc/internal/model"
)

// Source returns candidate records for a piece of evidence, ordered by the
// number of matching symptom tokens (descending). An unknown crop yields an
// empty slice and a nil error.
type Source interface {
	Search(ctx context.Context, ev model.EvidenceSet) ([]model.KnowledgeRecord, error)
	Provenance() model.Provenance
}

// Query is the knowledge store lookup the StoreSource depends on.
type Query interface {
	FindByCropAndCategory(ctx context.Context, crop string, category model.Category) ([]model.KnowledgeRecord, error)
}

// StageDescriber resolves a growth-stage code into a human description.
type StageDescriber interface {
	Describe(ctx context.Context, crop, stage string) (string, bool, error)
}

// rank drops records without any overlapping symptom, tags provenance and
// orders the rest by overlap count then name.
func rank(records []model.KnowledgeRecord, symptoms map[string]struct{}, prov model.Provenance) []model.KnowledgeRecord {
	type scored struct {
		rec     model.KnowledgeRecord
		overlap int
	}
	kept := make([]scored, 0, len(records))
	for _, rec := range records {
		n := rec.SymptomOverlap(symptoms)
		if n == 0 {
			continue
		}
		rec.Provenance = prov
		kept = append(kept, scored{rec: rec, overlap: n})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].overlap != kept[j].overlap {
			return kept[i].overlap > kept[j].overlap
		}
		return strings.ToLower(kept[i].rec.Name) < strings.ToLower(kept[j].rec.Name)
	})

	out := make([]model.KnowledgeRecord, len(kept))
	for i, k := range kept {
		out[i] = k.rec
	}
	return out
}
