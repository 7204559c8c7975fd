package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cropdoc/internal/model"
)

func (s *SQLiteStore) FindByCropAndCategory(ctx context.Context, crop string, category model.Category) ([]model.KnowledgeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, code, crop, category, symptoms, triggers, growth_stages, treatments, prevention
		 FROM knowledge_records WHERE crop = ? AND category = ? ORDER BY name`,
		model.NormalizeToken(crop), string(category),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find knowledge %s/%s", crop, category)
	}
	defer rows.Close()

	var out []model.KnowledgeRecord
	for rows.Next() {
		rec, err := scanKnowledge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: find knowledge iterate")
}

func scanKnowledge(row scannable) (model.KnowledgeRecord, error) {
	var rec model.KnowledgeRecord
	var cat, symptoms, triggers, stages, treatments, prevention string
	if err := row.Scan(&rec.Name, &rec.Code, &rec.Crop, &cat, &symptoms, &triggers,
		&stages, &treatments, &prevention); err != nil {
		return rec, eris.Wrap(err, "sqlite: scan knowledge record")
	}
	rec.Category = model.Category(cat)
	rec.Provenance = model.ProvenanceDatabase

	for _, f := range []struct {
		raw  string
		dest any
	}{
		{symptoms, &rec.Symptoms},
		{triggers, &rec.Triggers},
		{stages, &rec.GrowthStages},
		{treatments, &rec.Treatments},
		{prevention, &rec.Prevention},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dest); err != nil {
			return rec, eris.Wrapf(err, "sqlite: unmarshal knowledge record %s", rec.Name)
		}
	}
	return rec, nil
}

func (s *SQLiteStore) Describe(ctx context.Context, crop, stage string) (string, bool, error) {
	var desc string
	err := s.db.QueryRowContext(ctx,
		`SELECT description FROM growth_stages WHERE crop = ? AND code = ?`,
		model.NormalizeToken(crop), model.NormalizeToken(stage),
	).Scan(&desc)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "sqlite: describe stage %s/%s", crop, stage)
	}
	return desc, true, nil
}

func (s *SQLiteStore) ImportKnowledge(ctx context.Context, records []model.KnowledgeRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import knowledge: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO knowledge_records
		 (crop, name, code, category, symptoms, triggers, growth_stages, treatments, prevention, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (crop, name) DO UPDATE SET
		   code = excluded.code, category = excluded.category, symptoms = excluded.symptoms,
		   triggers = excluded.triggers, growth_stages = excluded.growth_stages,
		   treatments = excluded.treatments, prevention = excluded.prevention,
		   updated_at = excluded.updated_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare knowledge upsert")
	}
	defer stmt.Close()

	now := toMillis(time.Now())
	var n int64
	for _, rec := range records {
		lists := make([]string, 0, 5)
		for _, v := range []any{nonNil(rec.Symptoms), rec.Triggers, nonNil(rec.GrowthStages), nonNil(rec.Treatments), nonNil(rec.Prevention)} {
			b, err := json.Marshal(v)
			if err != nil {
				return 0, eris.Wrapf(err, "sqlite: marshal knowledge record %s", rec.Name)
			}
			lists = append(lists, string(b))
		}
		if rec.Triggers == nil {
			lists[1] = "[]"
		}
		if _, err := stmt.ExecContext(ctx,
			model.NormalizeToken(rec.Crop), rec.Name, rec.Code, string(rec.Category),
			lists[0], lists[1], lists[2], lists[3], lists[4], now,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert knowledge record %s", rec.Name)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: import knowledge: commit")
	}
	return n, nil
}

func (s *SQLiteStore) ImportStages(ctx context.Context, stages []model.GrowthStage) (int64, error) {
	if len(stages) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import stages: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var n int64
	for _, st := range stages {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO growth_stages (crop, code, description) VALUES (?, ?, ?)
			 ON CONFLICT (crop, code) DO UPDATE SET description = excluded.description`,
			model.NormalizeToken(st.Crop), model.NormalizeToken(st.Code), st.Description,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert stage %s/%s", st.Crop, st.Code)
		}
		n++
	}
	return n, eris.Wrap(tx.Commit(), "sqlite: import stages: commit")
}
