package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/solverops/simtriage/pkg/record"
)

// looseRow mirrors record.Raw with untyped fields so numeric cells may
// arrive as numbers, strings or null in document formats.
type looseRow struct {
	RunID        any `json:"run_id" yaml:"run_id"`
	SolverKind   any `json:"solver_type" yaml:"solver_type"`
	MeshCount    any `json:"mesh_count" yaml:"mesh_count"`
	MaxStress    any `json:"max_stress_MPa" yaml:"max_stress_MPa"`
	Displacement any `json:"displacement_mm" yaml:"displacement_mm"`
	Iterations   any `json:"convergence_iters" yaml:"convergence_iters"`
	StatusText   any `json:"status_text" yaml:"status_text"`
	Timestamp    any `json:"timestamp" yaml:"timestamp"`
}

// readJSON decodes a JSON array of row objects. Numbers keep their literal
// form via json.Number so no precision is lost before normalization.
func readJSON(r io.Reader) ([]record.Raw, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var rows []looseRow
	if err := dec.Decode(&rows); err != nil {
		return nil, err
	}

	return looseToRaw(rows)
}

// readYAML decodes a YAML sequence of row mappings.
func readYAML(r io.Reader) ([]record.Raw, error) {
	var rows []looseRow
	if err := yaml.NewDecoder(r).Decode(&rows); err != nil {
		return nil, err
	}

	return looseToRaw(rows)
}

func looseToRaw(rows []looseRow) ([]record.Raw, error) {
	raws := make([]record.Raw, len(rows))

	for i, row := range rows {
		raw, err := row.toRaw()
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}

		raws[i] = raw
	}

	return raws, nil
}

func (l looseRow) toRaw() (record.Raw, error) {
	var raw record.Raw

	fields := []struct {
		name  string
		value any
		dst   *string
	}{
		{"run_id", l.RunID, &raw.RunID},
		{"solver_type", l.SolverKind, &raw.SolverKind},
		{"mesh_count", l.MeshCount, &raw.MeshCount},
		{"max_stress_MPa", l.MaxStress, &raw.MaxStress},
		{"displacement_mm", l.Displacement, &raw.Displacement},
		{"convergence_iters", l.Iterations, &raw.Iterations},
		{"status_text", l.StatusText, &raw.StatusText},
		{"timestamp", l.Timestamp, &raw.Timestamp},
	}

	for _, field := range fields {
		s, err := scalarString(field.value)
		if err != nil {
			return record.Raw{}, fmt.Errorf("field %s: %w", field.name, err)
		}

		*field.dst = s
	}

	return raw, nil
}

// scalarString renders one loose scalar as the string the normalizer will
// parse. Null becomes the empty string, matching a blank CSV cell.
func scalarString(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case uint64:
		return strconv.FormatUint(val, 10), nil
	case bool:
		return strconv.FormatBool(val), nil
	default:
		return "", fmt.Errorf("unsupported scalar type %T", v)
	}
}
