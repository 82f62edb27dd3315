// Package ingest reads raw run records from tabular input files. CSV, JSON
// and YAML inputs all produce the same string-typed raw rows; numeric
// coercion stays with the record normalizer.
package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/solverops/simtriage/pkg/record"
)

// Format identifies a supported input encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// DetectFormat infers the input format from the file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("cannot detect input format from %q", filepath.Base(path))
	}
}

// ParseFormat validates an explicit format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown input format %q", s)
	}
}

// Ingester loads raw run records from input files.
type Ingester interface {
	// Load reads one input file. An empty format means detect from the
	// file extension.
	Load(path string, format Format) ([]record.Raw, error)
}

type ingester struct {
	log         logrus.FieldLogger
	maxFileSize int64
}

// Ensure interface compliance.
var _ Ingester = (*ingester)(nil)

// NewIngester creates an ingester. maxFileSize caps input files in bytes;
// zero or negative means no cap.
func NewIngester(log logrus.FieldLogger, maxFileSize int64) Ingester {
	return &ingester{
		log:         log.WithField("component", "ingest"),
		maxFileSize: maxFileSize,
	}
}

// Load reads, decodes and validates one input file. Row validation covers
// identity only: every row needs a non-empty run id unique within the
// file. Malformed numeric cells are not errors here; they flow through to
// the normalizer as missing values.
func (in *ingester) Load(path string, format Format) ([]record.Raw, error) {
	if format == "" {
		detected, err := DetectFormat(path)
		if err != nil {
			return nil, err
		}

		format = detected
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading input file: %w", err)
	}

	if in.maxFileSize > 0 && info.Size() > in.maxFileSize {
		return nil, fmt.Errorf("input file %s is %s, exceeds the %s limit",
			filepath.Base(path),
			units.HumanSize(float64(info.Size())),
			units.HumanSize(float64(in.maxFileSize)))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening input file: %w", err)
	}
	defer f.Close()

	var raws []record.Raw

	switch format {
	case FormatCSV:
		raws, err = readCSV(f)
	case FormatJSON:
		raws, err = readJSON(f)
	case FormatYAML:
		raws, err = readYAML(f)
	default:
		err = fmt.Errorf("unknown input format %q", format)
	}

	if err != nil {
		return nil, fmt.Errorf("decoding %s input: %w", format, err)
	}

	if err := validateIdentity(raws); err != nil {
		return nil, err
	}

	in.log.WithFields(logrus.Fields{
		"path":    path,
		"format":  format,
		"records": len(raws),
	}).Info("Loaded input file")

	return raws, nil
}

// validateIdentity enforces non-empty run ids unique within the file.
func validateIdentity(raws []record.Raw) error {
	seen := make(map[string]struct{}, len(raws))

	for i, raw := range raws {
		id := strings.TrimSpace(raw.RunID)
		if id == "" {
			return fmt.Errorf("row %d: run_id is required", i+1)
		}

		if _, exists := seen[id]; exists {
			return fmt.Errorf("row %d: duplicate run_id %q", i+1, id)
		}

		seen[id] = struct{}{}
	}

	return nil
}
