package knowledge

import (
	"context"
	_ "embed"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/cropdoc/internal/model"
)

//go:embed seed.yaml
var seedYAML []byte

type seedFile struct {
	Records []model.KnowledgeRecord `yaml:"records"`
	Stages  []model.GrowthStage     `yaml:"stages"`
}

// StaticSource is the in-process fallback table. It is built once at startup
// and never changes afterwards.
type StaticSource struct {
	byCrop map[string][]model.KnowledgeRecord
	stages map[string]string
}

// NewStaticSource loads the embedded seed table.
func NewStaticSource() (*StaticSource, error) {
	return ParseStatic(seedYAML)
}

// ParseStatic builds a StaticSource from a YAML document with records and
// stages lists.
func ParseStatic(data []byte) (*StaticSource, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, eris.Wrap(err, "knowledge: parse static seed")
	}

	s := &StaticSource{
		byCrop: make(map[string][]model.KnowledgeRecord),
		stages: make(map[string]string, len(seed.Stages)),
	}
	for _, rec := range seed.Records {
		if err := validateRecord(rec); err != nil {
			return nil, eris.Wrap(err, "knowledge: static seed")
		}
		crop := model.NormalizeToken(rec.Crop)
		rec.Crop = crop
		rec.Provenance = model.ProvenanceStaticFallback
		s.byCrop[crop] = append(s.byCrop[crop], rec)
	}
	for _, st := range seed.Stages {
		s.stages[stageKey(st.Crop, st.Code)] = st.Description
	}
	return s, nil
}

// Provenance implements Source.
func (s *StaticSource) Provenance() model.Provenance { return model.ProvenanceStaticFallback }

// Search implements Source. It never fails.
func (s *StaticSource) Search(_ context.Context, ev model.EvidenceSet) ([]model.KnowledgeRecord, error) {
	recs := s.byCrop[model.NormalizeToken(ev.Crop)]
	return rank(recs, ev.SymptomSet(), model.ProvenanceStaticFallback), nil
}

// Records returns every seeded record, used to prime an empty store.
func (s *StaticSource) Records() []model.KnowledgeRecord {
	var out []model.KnowledgeRecord
	for _, recs := range s.byCrop {
		out = append(out, recs...)
	}
	return out
}

// Crops lists the crops the table covers.
func (s *StaticSource) Crops() []string {
	out := make([]string, 0, len(s.byCrop))
	for crop := range s.byCrop {
		out = append(out, crop)
	}
	sort.Strings(out)
	return out
}

// Describe implements StageDescriber from the seeded stage list.
func (s *StaticSource) Describe(_ context.Context, crop, stage string) (string, bool, error) {
	desc, ok := s.stages[stageKey(crop, stage)]
	return desc, ok, nil
}

func stageKey(crop, stage string) string {
	return model.NormalizeToken(crop) + "/" + model.NormalizeToken(stage)
}

// Describers tries each describer in order and returns the first hit.
// Errors are skipped while a later describer can still answer.
type Describers []StageDescriber

// Describe implements StageDescriber.
func (d Describers) Describe(ctx context.Context, crop, stage string) (string, bool, error) {
	var firstErr error
	for _, desc := range d {
		text, ok, err := desc.Describe(ctx, crop, stage)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			return text, true, nil
		}
	}
	return "", false, firstErr
}
