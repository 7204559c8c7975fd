package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeWorkbook(t *testing.T, tabs ...struct {
	name string
	rows [][]string
}) string {
	t.Helper()
	wb := xlsx.NewFile()
	for _, tab := range tabs {
		sheet, err := wb.AddSheet(tab.name)
		require.NoError(t, err)
		for _, cells := range tab.rows {
			row := sheet.AddRow()
			for _, c := range cells {
				row.AddCell().SetString(c)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "knowledge.xlsx")
	require.NoError(t, wb.Save(path))
	return path
}

func TestNewSheet(t *testing.T) {
	s := NewSheet("records", [][]string{
		{},
		{" Crop ", "NAME", "crop"},
		{"wheat", " leaf rust "},
		{"", " "},
		{"maize", "fall armyworm", "ignored duplicate"},
	})

	assert.Equal(t, []string{"crop", "name", "crop"}, s.Columns)
	require.Len(t, s.Rows, 2)
	assert.Equal(t, 3, s.Rows[0].Line)
	assert.Equal(t, "leaf rust", s.Rows[0].Get("name"))
	assert.Equal(t, "maize", s.Rows[1].Get("crop"), "first header occurrence wins")
	assert.Equal(t, 5, s.Rows[1].Line)
	assert.Empty(t, s.Rows[0].Get("category"))

	require.NoError(t, s.Require("crop", "name"))
	err := s.Require("crop", "category")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `records: missing required column "category"`)
}

func TestOpen_CSV(t *testing.T) {
	path := writeFile(t, "records.csv", "\ufeff# exported 2026-04-02\ncrop,name\n wheat , leaf rust \n\nmaize,\"fall armyworm, late\"\n")

	s, err := Open(context.Background(), path, "")
	require.NoError(t, err)
	assert.Equal(t, "records.csv", s.Name)
	assert.Equal(t, []string{"crop", "name"}, s.Columns, "BOM is stripped from the first header")
	require.Len(t, s.Rows, 2)
	assert.Equal(t, "wheat", s.Rows[0].Get("crop"))
	assert.Equal(t, 3, s.Rows[0].Line)
	assert.Equal(t, "fall armyworm, late", s.Rows[1].Get("name"))
	assert.Equal(t, 5, s.Rows[1].Line)
}

func TestOpen_CSVSemicolon(t *testing.T) {
	path := writeFile(t, "stages.csv", "crop;code;description\nwheat;31;First node, detectable\n")

	s, err := Open(context.Background(), path, "")
	require.NoError(t, err)
	require.Len(t, s.Rows, 1)
	assert.Equal(t, "First node, detectable", s.Rows[0].Get("description"))
}

func TestOpen_CSVMalformed(t *testing.T) {
	path := writeFile(t, "bad.csv", "crop,name\n\"wheat,rust\n")

	_, err := Open(context.Background(), path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetcher: read")
}

func TestOpen_CSVCanceled(t *testing.T) {
	path := writeFile(t, "records.csv", "crop,name\nwheat,rust\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Open(ctx, path, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpen_XLSX(t *testing.T) {
	type tab = struct {
		name string
		rows [][]string
	}
	path := writeWorkbook(t,
		tab{"records", [][]string{{"crop", "name"}, {"potato", "Late blight"}}},
		tab{"stages", [][]string{{"crop", "code", "description"}, {"wheat", "31", "First node"}}},
	)

	first, err := Open(context.Background(), path, "")
	require.NoError(t, err)
	assert.Equal(t, "knowledge.xlsx:records", first.Name)
	require.Len(t, first.Rows, 1)
	assert.Equal(t, "Late blight", first.Rows[0].Get("name"))

	stages, err := Open(context.Background(), path, "stages")
	require.NoError(t, err)
	require.Len(t, stages.Rows, 1)
	assert.Equal(t, "First node", stages.Rows[0].Get("description"))
	assert.Equal(t, 2, stages.Rows[0].Line)

	_, err = Open(context.Background(), path, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no sheet "missing"`)
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(context.Background(), "knowledge.json", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported sheet format")

	_, err = Open(context.Background(), filepath.Join(t.TempDir(), "missing.csv"), "")
	assert.Error(t, err)
}
