package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/solverops/simtriage/pkg/record"
)

// requiredColumns must appear in the CSV header. Mesh count and timestamp
// are optional metadata.
var requiredColumns = []string{
	"run_id",
	"solver_type",
	"max_stress_MPa",
	"displacement_mm",
	"convergence_iters",
	"status_text",
}

// readCSV decodes a headered CSV stream into raw rows. Header names match
// the solver export format; unknown columns are ignored and blank cells
// stay blank.
func readCSV(r io.Reader) ([]record.Raw, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}

	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("missing required column %q", col)
		}
	}

	cell := func(row []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return ""
		}

		return row[i]
	}

	var raws []record.Raw

	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}

		raws = append(raws, record.Raw{
			RunID:        cell(row, "run_id"),
			SolverKind:   cell(row, "solver_type"),
			MeshCount:    cell(row, "mesh_count"),
			MaxStress:    cell(row, "max_stress_MPa"),
			Displacement: cell(row, "displacement_mm"),
			Iterations:   cell(row, "convergence_iters"),
			StatusText:   cell(row, "status_text"),
			Timestamp:    cell(row, "timestamp"),
		})
	}

	return raws, nil
}
