package report

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/adammck/biped/search"
	"github.com/pkg/errors"
)

// ReadGrid reads a list of combinations from a CSV file. The header names the
// field of each column, either as a wire name ("knee1_min") or a label ("Knee1
// Min"). Columns which aren't in fields are ignored, as are empty cells. The
// first offset rows are skipped, so an interrupted sweep can be resumed.
func ReadGrid(path string, fields []string, offset int) ([]search.Combination, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "while opening grid")
	}
	defer f.Close()

	return parseGrid(f, fields, offset)
}

func parseGrid(r io.Reader, fields []string, offset int) ([]search.Combination, error) {
	known := map[string]bool{}
	for _, f := range fields {
		known[f] = true
	}

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("grid is empty")
	}
	if err != nil {
		return nil, errors.Wrap(err, "while reading grid header")
	}

	cols := make([]string, len(header))
	n := 0
	for i, h := range header {
		name := fieldName(h)
		if known[name] {
			cols[i] = name
			n++
		}
	}

	if n == 0 {
		return nil, errors.Errorf("grid has no known columns: %v", header)
	}

	combos := []search.Combination{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "while reading grid line %d", line)
		}

		c := search.Combination{}
		for i, v := range rec {
			if i >= len(cols) || cols[i] == "" || strings.TrimSpace(v) == "" {
				continue
			}

			fv, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, errors.Wrapf(err, "grid line %d, column %s", line, cols[i])
			}

			c[cols[i]] = fv
		}

		combos = append(combos, c)
	}

	if offset >= len(combos) {
		return []search.Combination{}, nil
	}

	return combos[offset:], nil
}

// fieldName turns "Knee1 Min" into "knee1_min". Wire names are unchanged.
func fieldName(h string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(h)), " ", "_")
}
