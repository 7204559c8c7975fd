package knowledge

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/cropdoc/internal/model"
)

// StoreSource searches the structured knowledge store. It queries every
// category concurrently and merges the results.
type StoreSource struct {
	q Query
}

// NewStoreSource wraps a knowledge store query.
func NewStoreSource(q Query) *StoreSource {
	return &StoreSource{q: q}
}

// Provenance implements Source.
func (s *StoreSource) Provenance() model.Provenance { return model.ProvenanceDatabase }

// Search implements Source. Any store failure is reported as
// model.ErrSourceUnavailable.
func (s *StoreSource) Search(ctx context.Context, ev model.EvidenceSet) ([]model.KnowledgeRecord, error) {
	crop := model.NormalizeToken(ev.Crop)
	results := make([][]model.KnowledgeRecord, len(model.Categories))

	g, gctx := errgroup.WithContext(ctx)
	for i, cat := range model.Categories {
		g.Go(func() error {
			recs, err := s.q.FindByCropAndCategory(gctx, crop, cat)
			if err != nil {
				return eris.Wrapf(err, "category %s", cat)
			}
			results[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrapf(model.ErrSourceUnavailable, "knowledge: store search %s: %v", crop, err)
	}

	var all []model.KnowledgeRecord
	for _, recs := range results {
		all = append(all, recs...)
	}
	return rank(all, ev.SymptomSet(), model.ProvenanceDatabase), nil
}
