// Package diagnosis turns field evidence into a ranked, cached diagnosis.
package diagnosis

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cropdoc/internal/knowledge"
	"github.com/sells-group/cropdoc/internal/model"
	"github.com/sells-group/cropdoc/internal/scorer"
)

// Defaults for the resolver thresholds.
const (
	DefaultMinConfidence = 0.3
	DefaultMaxMatches    = 10
)

// Resolver consults knowledge sources in order, scores their records and
// assembles a DiagnosisResult.
type Resolver struct {
	sources       []knowledge.Source
	scorer        *scorer.Scorer
	stages        knowledge.StageDescriber
	minConfidence float64
	maxMatches    int

	now func() time.Time
	log *zap.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithStageDescriber sets the growth-stage description lookup.
func WithStageDescriber(d knowledge.StageDescriber) ResolverOption {
	return func(r *Resolver) { r.stages = d }
}

// WithMinConfidence sets the floor below which matches are dropped.
func WithMinConfidence(v float64) ResolverOption {
	return func(r *Resolver) { r.minConfidence = v }
}

// WithMaxMatches caps the number of returned matches. Zero or less keeps
// the default.
func WithMaxMatches(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.maxMatches = n
		}
	}
}

// NewResolver creates a Resolver over sources, consulted in the given order.
func NewResolver(sources []knowledge.Source, sc *scorer.Scorer, opts ...ResolverOption) *Resolver {
	if sc == nil {
		sc = scorer.Default()
	}
	r := &Resolver{
		sources:       sources,
		scorer:        sc,
		minConfidence: DefaultMinConfidence,
		maxMatches:    DefaultMaxMatches,
		now:           time.Now,
		log:           zap.L().With(zap.String("component", "resolver")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve builds the diagnosis for ev. Evidence must already be valid.
// The first source that returns records answers; a failing source is
// skipped. If no source answered and at least one failed, Resolve returns
// model.ErrKnowledgeUnavailable. An unknown crop is an empty result.
func (r *Resolver) Resolve(ctx context.Context, ev model.EvidenceSet) (*model.DiagnosisResult, error) {
	records, prov, err := r.search(ctx, ev)
	if err != nil {
		return nil, err
	}

	matches := r.rank(ev, records)

	result := &model.DiagnosisResult{
		Matches:          matches,
		Tier:             model.OverallTier(matches),
		Treatments:       union(matches, func(rec model.KnowledgeRecord) []string { return rec.Treatments }),
		Prevention:       union(matches, func(rec model.KnowledgeRecord) []string { return rec.Prevention }),
		Provenance:       prov,
		StageDescription: r.describeStage(ctx, ev),
		EnvironmentBased: ev.Environment.Any(),
		GeneratedAt:      r.now().UTC(),
	}
	return result, nil
}

func (r *Resolver) search(ctx context.Context, ev model.EvidenceSet) ([]model.KnowledgeRecord, model.ProvenanceSummary, error) {
	prov := model.ProvenanceSummary{Sources: []model.Provenance{}}
	failed := 0

	for _, src := range r.sources {
		recs, err := src.Search(ctx, ev)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, prov, ctxErr
			}
			failed++
			r.log.Warn("knowledge source failed, trying next",
				zap.String("source", string(src.Provenance())),
				zap.String("crop", ev.Crop),
				zap.Error(err),
			)
			continue
		}

		prov.Sources = append(prov.Sources, src.Provenance())
		if len(recs) == 0 {
			continue
		}
		if src.Provenance() == model.ProvenanceStaticFallback {
			prov.UsedFallback = true
			prov.Note = model.FallbackNote
		}
		return recs, prov, nil
	}

	// A source that answered "no match" is an answer; fail only when none did.
	if failed > 0 && len(prov.Sources) == 0 {
		return nil, prov, eris.Wrapf(model.ErrKnowledgeUnavailable, "diagnosis: %d of %d knowledge sources failed for crop %q", failed, len(r.sources), ev.Crop)
	}
	return nil, prov, nil
}

// rank scores, filters, orders, de-duplicates and caps the matches.
func (r *Resolver) rank(ev model.EvidenceSet, records []model.KnowledgeRecord) []model.ScoredMatch {
	scored := make([]model.ScoredMatch, 0, len(records))
	for _, rec := range records {
		m, ok := r.scorer.Score(ev, rec)
		if !ok || m.Confidence < r.minConfidence {
			continue
		}
		scored = append(scored, m)
	}

	slices.SortStableFunc(scored, func(a, b model.ScoredMatch) int {
		if a.Confidence != b.Confidence {
			if a.Confidence > b.Confidence {
				return -1
			}
			return 1
		}
		return strings.Compare(canonical(a.Record.Name), canonical(b.Record.Name))
	})

	out := make([]model.ScoredMatch, 0, len(scored))
	seen := make(map[string]struct{}, len(scored))
	for _, m := range scored {
		name := canonical(m.Record.Name)
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, m)
		if len(out) == r.maxMatches {
			break
		}
	}
	return out
}

func (r *Resolver) describeStage(ctx context.Context, ev model.EvidenceSet) string {
	if r.stages == nil || strings.TrimSpace(ev.GrowthStage) == "" {
		return ""
	}
	desc, ok, err := r.stages.Describe(ctx, ev.Crop, ev.GrowthStage)
	if err != nil {
		r.log.Warn("growth stage lookup failed, omitting description",
			zap.String("crop", ev.Crop),
			zap.String("stage", ev.GrowthStage),
			zap.Error(err),
		)
		return ""
	}
	if !ok {
		return ""
	}
	return desc
}

func canonical(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// union concatenates the per-match lists in rank order, dropping exact
// duplicates and keeping the first occurrence.
func union(matches []model.ScoredMatch, list func(model.KnowledgeRecord) []string) []string {
	out := []string{}
	seen := make(map[string]struct{})
	for _, m := range matches {
		for _, item := range list(m.Record) {
			if _, dup := seen[item]; dup {
				continue
			}
			seen[item] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}
