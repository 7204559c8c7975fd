package fetcher

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// readXLSX reads one tab of a workbook and returns its rows with the tab's
// name. Cells are rendered with their display format.
func readXLSX(path, name string) ([]line, string, error) {
	wb, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, "", eris.Wrapf(err, "fetcher: open workbook %s", path)
	}
	if len(wb.Sheets) == 0 {
		return nil, "", eris.Errorf("fetcher: workbook %s has no sheets", path)
	}

	tab := wb.Sheets[0]
	if name != "" {
		var ok bool
		if tab, ok = wb.Sheet[name]; !ok {
			return nil, "", eris.Errorf("fetcher: workbook %s has no sheet %q", path, name)
		}
	}

	lines := make([]line, 0, len(tab.Rows))
	for i, row := range tab.Rows {
		if row == nil {
			continue
		}
		cells := make([]string, len(row.Cells))
		for j, c := range row.Cells {
			cells[j] = c.String()
		}
		lines = append(lines, line{n: i + 1, cells: cells})
	}
	return lines, tab.Name, nil
}
