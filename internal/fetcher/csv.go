package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"

	"github.com/rotisserie/eris"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// readCSV reads a CSV export with ',' or ';' delimiters. A leading BOM is
// dropped and lines starting with '#' are skipped.
func readCSV(ctx context.Context, path string) ([]line, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	br := bufio.NewReader(f)
	if head, _ := br.Peek(len(utf8BOM)); bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	first, _ := br.Peek(1024)

	r := csv.NewReader(br)
	r.Comma = sniffDelimiter(first)
	r.Comment = '#'
	r.FieldsPerRecord = -1

	var lines []line
	for {
		if len(lines)%256 == 0 && ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "fetcher: read csv")
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return lines, nil
		}
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: read %s", path)
		}
		n, _ := r.FieldPos(0)
		lines = append(lines, line{n: n, cells: rec})
	}
}

// sniffDelimiter picks ';' when the first data line has more semicolons
// than commas.
func sniffDelimiter(b []byte) rune {
	for _, l := range bytes.Split(b, []byte{'\n'}) {
		l = bytes.TrimSpace(l)
		if len(l) == 0 || l[0] == '#' {
			continue
		}
		if bytes.Count(l, []byte{';'}) > bytes.Count(l, []byte{','}) {
			return ';'
		}
		break
	}
	return ','
}
