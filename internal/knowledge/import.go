package knowledge

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cropdoc/internal/fetcher"
	"github.com/sells-group/cropdoc/internal/model"
)

// Importer is the bulk write side of the knowledge store.
type Importer interface {
	ImportKnowledge(ctx context.Context, records []model.KnowledgeRecord) (int64, error)
	ImportStages(ctx context.Context, stages []model.GrowthStage) (int64, error)
}

// ImportFile loads a CSV or XLSX knowledge sheet into dst.
func ImportFile(ctx context.Context, dst Importer, path, sheet string) (int64, error) {
	s, err := fetcher.Open(ctx, path, sheet)
	if err != nil {
		return 0, err
	}
	recs, err := parseRecords(s)
	if err != nil {
		return 0, err
	}
	n, err := dst.ImportKnowledge(ctx, recs)
	if err != nil {
		return 0, eris.Wrapf(err, "knowledge: import %s", path)
	}
	zap.L().Info("imported knowledge records", zap.String("path", path), zap.Int64("records", n))
	return n, nil
}

// ImportStagesFile loads a CSV or XLSX growth-stage sheet into dst.
func ImportStagesFile(ctx context.Context, dst Importer, path, sheet string) (int64, error) {
	s, err := fetcher.Open(ctx, path, sheet)
	if err != nil {
		return 0, err
	}
	stages, err := parseStages(s)
	if err != nil {
		return 0, err
	}
	n, err := dst.ImportStages(ctx, stages)
	if err != nil {
		return 0, eris.Wrapf(err, "knowledge: import stages %s", path)
	}
	zap.L().Info("imported growth stages", zap.String("path", path), zap.Int64("stages", n))
	return n, nil
}

// Seed copies the static table into dst so a fresh store starts with the
// same coverage as the fallback.
func Seed(ctx context.Context, dst Importer, src *StaticSource) error {
	if _, err := dst.ImportKnowledge(ctx, src.Records()); err != nil {
		return eris.Wrap(err, "knowledge: seed records")
	}
	stages := make([]model.GrowthStage, 0, len(src.stages))
	for key, desc := range src.stages {
		crop, code, _ := strings.Cut(key, "/")
		stages = append(stages, model.GrowthStage{Crop: crop, Code: code, Description: desc})
	}
	_, err := dst.ImportStages(ctx, stages)
	return eris.Wrap(err, "knowledge: seed stages")
}

// listSep separates list items inside one spreadsheet cell.
const listSep = "|"

// ParseRows converts a knowledge sheet into records. The first non-blank
// row is the header; column order is free and unknown columns are ignored.
// List cells use "|" as separator and triggers are written "field:min..max"
// with either bound optional, e.g. "temperature_c:10..25|humidity_pct:85..".
func ParseRows(rows [][]string) ([]model.KnowledgeRecord, error) {
	return parseRecords(fetcher.NewSheet("records", rows))
}

func parseRecords(s *fetcher.Sheet) ([]model.KnowledgeRecord, error) {
	if s.Columns == nil {
		return nil, nil
	}
	if err := s.Require("crop", "name", "category", "symptoms"); err != nil {
		return nil, err
	}

	out := make([]model.KnowledgeRecord, 0, len(s.Rows))
	for _, row := range s.Rows {
		rec := model.KnowledgeRecord{
			Crop:         model.NormalizeToken(row.Get("crop")),
			Name:         row.Get("name"),
			Code:         row.Get("code"),
			Category:     model.Category(strings.ToLower(row.Get("category"))),
			Symptoms:     splitTokens(row.Get("symptoms")),
			GrowthStages: splitTokens(row.Get("growth_stages")),
			Treatments:   splitList(row.Get("treatments")),
			Prevention:   splitList(row.Get("prevention")),
		}
		triggers, err := ParsePredicates(row.Get("triggers"))
		if err != nil {
			return nil, eris.Wrapf(err, "knowledge: %s row %d", s.Name, row.Line)
		}
		rec.Triggers = triggers

		if err := validateRecord(rec); err != nil {
			return nil, eris.Wrapf(err, "knowledge: %s row %d", s.Name, row.Line)
		}
		out = append(out, rec)
	}
	return out, nil
}

// ParseStageRows converts a growth-stage sheet with crop, code and
// description columns.
func ParseStageRows(rows [][]string) ([]model.GrowthStage, error) {
	return parseStages(fetcher.NewSheet("stages", rows))
}

func parseStages(s *fetcher.Sheet) ([]model.GrowthStage, error) {
	if s.Columns == nil {
		return nil, nil
	}
	if err := s.Require("crop", "code", "description"); err != nil {
		return nil, err
	}

	out := make([]model.GrowthStage, 0, len(s.Rows))
	for _, row := range s.Rows {
		st := model.GrowthStage{
			Crop:        model.NormalizeToken(row.Get("crop")),
			Code:        model.NormalizeToken(row.Get("code")),
			Description: row.Get("description"),
		}
		if st.Crop == "" || st.Code == "" {
			return nil, eris.Errorf("knowledge: %s row %d: crop and code are required", s.Name, row.Line)
		}
		out = append(out, st)
	}
	return out, nil
}

// ParsePredicates parses "field:min..max" items separated by "|".
func ParsePredicates(s string) ([]model.Predicate, error) {
	var out []model.Predicate
	for _, item := range splitList(s) {
		field, bounds, ok := strings.Cut(item, ":")
		if !ok {
			return nil, eris.Errorf("trigger %q: expected field:min..max", item)
		}
		f := model.EnvField(strings.TrimSpace(strings.ToLower(field)))
		if !knownField(f) {
			return nil, eris.Errorf("trigger %q: unknown field %q", item, f)
		}
		lo, hi, ok := strings.Cut(bounds, "..")
		if !ok {
			return nil, eris.Errorf("trigger %q: expected min..max bounds", item)
		}
		p := model.Predicate{Field: f}
		var err error
		if p.Min, err = parseBound(lo); err != nil {
			return nil, eris.Wrapf(err, "trigger %q", item)
		}
		if p.Max, err = parseBound(hi); err != nil {
			return nil, eris.Wrapf(err, "trigger %q", item)
		}
		if p.Min == nil && p.Max == nil {
			return nil, eris.Errorf("trigger %q: at least one bound is required", item)
		}
		if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
			return nil, eris.Errorf("trigger %q: min exceeds max", item)
		}
		out = append(out, p)
	}
	return out, nil
}

func parseBound(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "bound %q", s)
	}
	return &v, nil
}

func knownField(f model.EnvField) bool {
	for _, k := range model.EnvFields {
		if k == f {
			return true
		}
	}
	return false
}

func validateRecord(rec model.KnowledgeRecord) error {
	if strings.TrimSpace(rec.Crop) == "" {
		return eris.New("crop is required")
	}
	if strings.TrimSpace(rec.Name) == "" {
		return eris.New("name is required")
	}
	switch rec.Category {
	case model.CategoryDisease, model.CategoryPest, model.CategoryDeficiency:
	default:
		return eris.Errorf("%s: unknown category %q", rec.Name, rec.Category)
	}
	if len(rec.Symptoms) == 0 {
		return eris.Errorf("%s: at least one symptom is required", rec.Name)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, listSep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func splitTokens(s string) []string {
	var out []string
	for _, part := range splitList(s) {
		if tok := model.NormalizeToken(part); tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
