package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Merge describes how a batch of rows lands in a keyed table. Rows are
// staged with COPY and folded into Table in a single statement; rows whose
// Key already exists have every other column overwritten.
type Merge struct {
	Table   string
	Columns []string
	Key     []string
}

// stage is the temp table rows are copied into before the merge.
func (m Merge) stage() string { return "_stage_" + m.Table }

func (m Merge) validate() error {
	if m.Table == "" || strings.Contains(m.Table, ".") {
		return eris.Errorf("db: merge: invalid table %q", m.Table)
	}
	if len(m.Columns) == 0 {
		return eris.Errorf("db: merge %s: no columns", m.Table)
	}
	if len(m.Key) == 0 {
		return eris.Errorf("db: merge %s: no key columns", m.Table)
	}
	for _, k := range m.Key {
		if !contains(m.Columns, k) {
			return eris.Errorf("db: merge %s: key column %q not in column list", m.Table, k)
		}
	}
	return nil
}

func (m Merge) createStageSQL() string {
	return "CREATE TEMP TABLE " + ident(m.stage()) +
		" (LIKE " + ident(m.Table) + " INCLUDING DEFAULTS) ON COMMIT DROP"
}

func (m Merge) mergeSQL() string {
	cols := idents(m.Columns)

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(ident(m.Table))
	b.WriteString(" (" + cols + ") SELECT " + cols + " FROM " + ident(m.stage()))
	b.WriteString(" ON CONFLICT (" + idents(m.Key) + ")")

	var set []string
	for _, c := range m.Columns {
		if contains(m.Key, c) {
			continue
		}
		set = append(set, ident(c)+" = EXCLUDED."+ident(c))
	}
	if len(set) == 0 {
		b.WriteString(" DO NOTHING")
	} else {
		b.WriteString(" DO UPDATE SET " + strings.Join(set, ", "))
	}
	return b.String()
}

// Apply merges rows into the table and returns the number of rows written.
// The whole batch commits or none of it does.
func (m Merge) Apply(ctx context.Context, pool Pool, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := m.validate(); err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: begin", m.Table)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, m.createStageSQL()); err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: create stage", m.Table)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{m.stage()}, m.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: copy", m.Table)
	}
	tag, err := tx.Exec(ctx, m.mergeSQL())
	if err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: insert", m.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrapf(err, "db: merge %s: commit", m.Table)
	}
	return tag.RowsAffected(), nil
}

func ident(name string) string { return pgx.Identifier{name}.Sanitize() }

func idents(names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = ident(n)
	}
	return strings.Join(out, ", ")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
