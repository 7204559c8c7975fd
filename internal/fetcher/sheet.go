// Package fetcher reads the spreadsheets agronomists maintain (CSV exports
// or XLSX workbooks) into rows addressed by header name.
package fetcher

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Sheet is a header row and the non-blank rows under it.
type Sheet struct {
	Name    string
	Columns []string
	Rows    []Row

	index map[string]int
}

// Row is one data row. Line is its 1-based position in the source file.
type Row struct {
	Line  int
	Cells []string

	sheet *Sheet
}

// Get returns the trimmed cell under col, or "" when the column or cell is
// absent.
func (r Row) Get(col string) string {
	i, ok := r.sheet.index[col]
	if !ok || i >= len(r.Cells) {
		return ""
	}
	return strings.TrimSpace(r.Cells[i])
}

type line struct {
	n     int
	cells []string
}

// NewSheet builds a Sheet from in-memory records, numbering lines from 1.
func NewSheet(name string, records [][]string) *Sheet {
	lines := make([]line, len(records))
	for i, rec := range records {
		lines[i] = line{n: i + 1, cells: rec}
	}
	return build(name, lines)
}

// build takes the first non-blank line as the header. Header names are
// matched case-insensitively.
func build(name string, lines []line) *Sheet {
	s := &Sheet{Name: name, index: make(map[string]int)}
	for _, l := range lines {
		if blank(l.cells) {
			continue
		}
		if s.Columns == nil {
			s.Columns = make([]string, len(l.cells))
			for i, h := range l.cells {
				col := strings.ToLower(strings.TrimSpace(h))
				s.Columns[i] = col
				if _, dup := s.index[col]; !dup {
					s.index[col] = i
				}
			}
			continue
		}
		s.Rows = append(s.Rows, Row{Line: l.n, Cells: l.cells, sheet: s})
	}
	return s
}

// Require fails on the first column in cols the header lacks.
func (s *Sheet) Require(cols ...string) error {
	for _, col := range cols {
		if _, ok := s.index[col]; !ok {
			return eris.Errorf("fetcher: %s: missing required column %q", s.Name, col)
		}
	}
	return nil
}

// Open reads a .csv or .xlsx file. For workbooks, sheet picks a tab by name;
// empty means the first tab.
func Open(ctx context.Context, path, sheet string) (*Sheet, error) {
	name := filepath.Base(path)
	var (
		lines []line
		err   error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		lines, err = readCSV(ctx, path)
	case ".xlsx":
		lines, sheet, err = readXLSX(path, sheet)
		name += ":" + sheet
	default:
		return nil, eris.Errorf("fetcher: unsupported sheet format %q", ext)
	}
	if err != nil {
		return nil, err
	}
	return build(name, lines), nil
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
