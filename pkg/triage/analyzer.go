package triage

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/solverops/simtriage/pkg/features"
	"github.com/solverops/simtriage/pkg/isoforest"
	"github.com/solverops/simtriage/pkg/record"
	"github.com/solverops/simtriage/pkg/rules"
)

// Analyzer runs the triage pipeline over record batches. A batch is
// analyzed synchronously on the calling goroutine; separate batches are
// independent and may run concurrently.
type Analyzer interface {
	Analyze(records []record.Record) (*BatchResult, error)
}

// Config holds the pipeline settings for one analyzer. Both sections are
// immutable for the analyzer's lifetime.
type Config struct {
	Thresholds rules.Thresholds
	Detector   isoforest.Config
}

type analyzer struct {
	log logrus.FieldLogger
	cfg Config
}

// Ensure interface compliance.
var _ Analyzer = (*analyzer)(nil)

// NewAnalyzer creates an analyzer with the given thresholds and detector
// settings.
func NewAnalyzer(log logrus.FieldLogger, cfg Config) Analyzer {
	return &analyzer{
		log: log.WithField("component", "triage"),
		cfg: cfg,
	}
}

// Analyze runs the full pipeline over one batch: outlier assessment on the
// complete subset, rule evaluation per record, reason aggregation,
// severity classification, then the batch tally and feature statistics.
// Verdicts come back in input order. Re-running an unchanged batch yields
// an identical result.
func (a *analyzer) Analyze(records []record.Record) (*BatchResult, error) {
	assessments, meta, err := a.assess(records)
	if err != nil {
		return nil, err
	}

	verdicts := make([]Verdict, len(records))
	tally := Tally{Total: len(records)}

	for i := range records {
		rec := &records[i]
		res := rules.Evaluate(rec, a.cfg.Thresholds)
		reasons := buildReasons(rec, res, a.cfg.Thresholds, assessments[i])
		severity := classify(rec, res, reasons)

		verdicts[i] = Verdict{
			RunID:      rec.RunID,
			SolverKind: rec.SolverKind,
			Severity:   severity,
			Flagged:    len(reasons) > 0,
			Reasons:    reasons,
			Assessment: assessments[i],
			Record:     *rec,
		}

		switch severity {
		case SeverityPass:
			tally.Pass++
		case SeverityWarning:
			tally.Warning++
		case SeverityFail:
			tally.Fail++
		}

		if verdicts[i].Flagged {
			tally.Flagged++
		}
	}

	a.log.WithFields(logrus.Fields{
		"total":   tally.Total,
		"pass":    tally.Pass,
		"warning": tally.Warning,
		"fail":    tally.Fail,
		"flagged": tally.Flagged,
	}).Info("Batch triage complete")

	return &BatchResult{
		Verdicts: verdicts,
		Tally:    tally,
		Features: describeFeatures(records),
		Detector: meta,
	}, nil
}

// assess fits the scaler and the forest on the complete subset and maps
// assessments back to input positions. Batches with fewer than two
// complete records skip detection entirely: every assessment stays nil and
// the skip is recorded in the metadata.
func (a *analyzer) assess(records []record.Record) ([]*Assessment, DetectorMeta, error) {
	meta := DetectorMeta{
		Trees:         a.cfg.Detector.Trees,
		Contamination: a.cfg.Detector.Contamination,
		Seed:          a.cfg.Detector.Seed,
	}

	assessments := make([]*Assessment, len(records))

	var (
		matrix   [][]float64
		position []int
	)

	for i := range records {
		if vec, ok := records[i].FeatureVector(); ok {
			matrix = append(matrix, vec)
			position = append(position, i)
		}
	}

	if len(matrix) < 2 {
		meta.Skipped = true
		meta.SkipReason = fmt.Sprintf("%d complete records, need at least 2", len(matrix))

		a.log.WithField("complete_records", len(matrix)).
			Warn("Skipping outlier detection")

		return assessments, meta, nil
	}

	scaler, err := features.Fit(matrix)
	if err != nil {
		return nil, meta, fmt.Errorf("fitting scaler: %w", err)
	}

	scaled, err := scaler.Transform(matrix)
	if err != nil {
		return nil, meta, fmt.Errorf("scaling features: %w", err)
	}

	forest, err := isoforest.Fit(scaled, a.cfg.Detector)
	if err != nil {
		return nil, meta, fmt.Errorf("fitting isolation forest: %w", err)
	}

	scores, err := forest.ScoreAll(scaled)
	if err != nil {
		return nil, meta, fmt.Errorf("scoring records: %w", err)
	}

	for j, i := range position {
		assessments[i] = &Assessment{
			Anomalous: forest.Anomalous(scores[j]),
			Score:     scores[j],
		}

		if assessments[i].Anomalous {
			meta.AnomaliesFound++
		}
	}

	meta.SampleSize = forest.SampleSize()
	meta.Offset = forest.Offset()
	meta.RecordsScored = len(matrix)

	a.log.WithFields(logrus.Fields{
		"records_scored": meta.RecordsScored,
		"anomalies":      meta.AnomaliesFound,
	}).Debug("Outlier detection complete")

	return assessments, meta, nil
}
