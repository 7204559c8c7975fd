package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/cropdoc/internal/db"
	"github.com/sells-group/cropdoc/internal/model"
)

var knowledgeColumns = []string{
	"crop", "name", "code", "category", "symptoms", "triggers",
	"growth_stages", "treatments", "prevention", "updated_at",
}

func (s *PostgresStore) FindByCropAndCategory(ctx context.Context, crop string, category model.Category) ([]model.KnowledgeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, code, crop, category, symptoms, triggers, growth_stages, treatments, prevention
		 FROM knowledge_records WHERE crop = $1 AND category = $2 ORDER BY name`,
		model.NormalizeToken(crop), string(category),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find knowledge %s/%s", crop, category)
	}
	defer rows.Close()

	var out []model.KnowledgeRecord
	for rows.Next() {
		var rec model.KnowledgeRecord
		var cat string
		var triggersJSON []byte
		if err := rows.Scan(&rec.Name, &rec.Code, &rec.Crop, &cat, &rec.Symptoms,
			&triggersJSON, &rec.GrowthStages, &rec.Treatments, &rec.Prevention); err != nil {
			return nil, eris.Wrap(err, "postgres: scan knowledge record")
		}
		rec.Category = model.Category(cat)
		if len(triggersJSON) > 0 {
			if err := json.Unmarshal(triggersJSON, &rec.Triggers); err != nil {
				return nil, eris.Wrapf(err, "postgres: unmarshal triggers for %s", rec.Name)
			}
		}
		rec.Provenance = model.ProvenanceDatabase
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: find knowledge iterate")
}

func (s *PostgresStore) Describe(ctx context.Context, crop, stage string) (string, bool, error) {
	var desc string
	err := s.pool.QueryRow(ctx,
		`SELECT description FROM growth_stages WHERE crop = $1 AND code = $2`,
		model.NormalizeToken(crop), model.NormalizeToken(stage),
	).Scan(&desc)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "postgres: describe stage %s/%s", crop, stage)
	}
	return desc, true, nil
}

// ImportKnowledge upserts records keyed by crop and canonical name.
func (s *PostgresStore) ImportKnowledge(ctx context.Context, records []model.KnowledgeRecord) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		triggers := rec.Triggers
		if triggers == nil {
			triggers = []model.Predicate{}
		}
		triggersJSON, err := json.Marshal(triggers)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal triggers for %s", rec.Name)
		}
		rows = append(rows, []any{
			model.NormalizeToken(rec.Crop), rec.Name, rec.Code, string(rec.Category),
			nonNil(rec.Symptoms), triggersJSON, nonNil(rec.GrowthStages),
			nonNil(rec.Treatments), nonNil(rec.Prevention), now,
		})
	}

	n, err := db.Merge{
		Table:   "knowledge_records",
		Columns: knowledgeColumns,
		Key:     []string{"crop", "name"},
	}.Apply(ctx, s.pool, rows)
	return n, eris.Wrap(err, "postgres: import knowledge")
}

func (s *PostgresStore) ImportStages(ctx context.Context, stages []model.GrowthStage) (int64, error) {
	rows := make([][]any, 0, len(stages))
	for _, st := range stages {
		rows = append(rows, []any{model.NormalizeToken(st.Crop), model.NormalizeToken(st.Code), st.Description})
	}
	n, err := db.Merge{
		Table:   "growth_stages",
		Columns: []string{"crop", "code", "description"},
		Key:     []string{"crop", "code"},
	}.Apply(ctx, s.pool, rows)
	return n, eris.Wrap(err, "postgres: import stages")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
