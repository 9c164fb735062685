package cli

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// readTable loads a CSV file as table rows. Records may have different
// lengths; the planner pads short rows. "-" reads standard input.
func readTable(path string, stdin io.Reader) ([][]any, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open table: %w", err)
		}
		defer f.Close()
		r = f
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}

	rows := make([][]any, len(records))
	for i, rec := range records {
		row := make([]any, len(rec))
		for j, v := range rec {
			row[j] = v
		}
		rows[i] = row
	}
	return rows, nil
}
