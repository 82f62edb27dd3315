package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/solverops/simtriage/pkg/api/verdictstore"
	"github.com/solverops/simtriage/pkg/results"
	"github.com/solverops/simtriage/pkg/triage"
)

// batchEntry is one indexed batch in API responses. The embedded shape
// matches the entries of a locally generated index.json with an
// additional "discovery_path" field.
type batchEntry struct {
	DiscoveryPath string `json:"discovery_path"`
	*results.IndexEntry
}

// verdictEntry is one indexed verdict in API responses. The field names
// match the verdicts.json layout written by the analyze command.
type verdictEntry struct {
	RunID        string   `json:"run_id"`
	SolverKind   string   `json:"solver_type"`
	Severity     string   `json:"severity"`
	Flagged      bool     `json:"flagged"`
	Reasons      []string `json:"reasons"`
	Score        *float64 `json:"score,omitempty"`
	Anomalous    bool     `json:"anomalous,omitempty"`
	MaxStress    *float64 `json:"max_stress_mpa"`
	Displacement *float64 `json:"displacement_mm"`
	Iterations   *float64 `json:"convergence_iters"`
	Converged    bool     `json:"converged"`
	HasMissing   bool     `json:"has_missing"`
}

// batchIndexEntry projects a stored batch onto the index entry shape.
func batchIndexEntry(b *verdictstore.Batch) *results.IndexEntry {
	entry := &results.IndexEntry{
		RunID:      b.RunID,
		BatchID:    b.BatchID,
		Timestamp:  b.Timestamp,
		SourceFile: b.SourceFile,
		Records:    b.Records,
	}

	if b.HasSummary {
		entry.Tally = &triage.Tally{
			Total:   b.Records,
			Pass:    b.PassCount,
			Warning: b.WarningCount,
			Fail:    b.FailCount,
			Flagged: b.FlaggedCount,
		}
		entry.DetectorSkipped = b.DetectorSkipped
	}

	return entry
}

// toVerdictEntry rebuilds the API shape from a stored verdict row.
func toVerdictEntry(v *verdictstore.Verdict) verdictEntry {
	reasons := []string{}
	if v.ReasonsJSON != "" {
		_ = json.Unmarshal([]byte(v.ReasonsJSON), &reasons)
	}

	return verdictEntry{
		RunID:        v.RunID,
		SolverKind:   v.SolverKind,
		Severity:     v.Severity,
		Flagged:      v.Flagged,
		Reasons:      reasons,
		Score:        v.Score,
		Anomalous:    v.Anomalous,
		MaxStress:    v.MaxStress,
		Displacement: v.Displacement,
		Iterations:   v.Iterations,
		Converged:    v.Converged,
		HasMissing:   v.HasMissing,
	}
}

// handleListBatches returns all indexed batches from all discovery
// paths, newest first.
func (s *server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.store.ListBatches(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing batches: " + err.Error()})

		return
	}

	// The store returns batches newest first already.
	entries := make([]batchEntry, 0, len(batches))

	for i := range batches {
		entries = append(entries, batchEntry{
			DiscoveryPath: batches[i].DiscoveryPath,
			IndexEntry:    batchIndexEntry(&batches[i]),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"generated": time.Now().Unix(),
		"entries":   entries,
	})
}

// handleGetBatch returns one indexed batch plus its full run
// configuration as captured at analysis time.
func (s *server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	batch, err := s.store.GetBatch(r.Context(), runID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"getting batch: " + err.Error()})

		return
	}

	if batch == nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"batch not found"})

		return
	}

	type batchDetail struct {
		DiscoveryPath string `json:"discovery_path"`
		*results.IndexEntry
		Config json.RawMessage `json:"config,omitempty"`
	}

	detail := batchDetail{
		DiscoveryPath: batch.DiscoveryPath,
		IndexEntry:    batchIndexEntry(batch),
	}

	if batch.ConfigJSON != "" {
		detail.Config = json.RawMessage(batch.ConfigJSON)
	}

	writeJSON(w, http.StatusOK, detail)
}

// handleListVerdicts returns the verdicts of one batch, optionally
// filtered by ?severity= and ?flagged=true.
func (s *server) handleListVerdicts(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	batch, err := s.store.GetBatch(r.Context(), runID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"getting batch: " + err.Error()})

		return
	}

	if batch == nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"batch not found"})

		return
	}

	filter := verdictstore.VerdictFilter{}

	if sev := r.URL.Query().Get("severity"); sev != "" {
		if !triage.Severity(sev).Valid() {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"invalid severity: " + sev})

			return
		}

		filter.Severity = sev
	}

	if r.URL.Query().Get("flagged") == "true" {
		filter.FlaggedOnly = true
	}

	verdicts, err := s.store.ListVerdicts(r.Context(), runID, filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing verdicts: " + err.Error()})

		return
	}

	entries := make([]verdictEntry, 0, len(verdicts))
	for i := range verdicts {
		entries = append(entries, toVerdictEntry(&verdicts[i]))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":   runID,
		"verdicts": entries,
	})
}

// handleSummary returns the severity tally aggregated across all
// indexed batches.
func (s *server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.store.Summary(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"aggregating summary: " + err.Error()})

		return
	}

	writeJSON(w, http.StatusOK, summary)
}
