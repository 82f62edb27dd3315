package verdictstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solverops/simtriage/pkg/api/verdictstore"
	"github.com/solverops/simtriage/pkg/config"
)

func setupTestStore(t *testing.T) verdictstore.Store {
	t.Helper()

	cfg := &config.APIDatabaseConfig{
		Driver: config.DatabaseDriverSQLite,
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := verdictstore.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func f64(v float64) *float64 { return &v }

func TestStore_UpsertAndListBatches(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()

	older := &verdictstore.Batch{
		DiscoveryPath: "main",
		RunID:         "1700000000_aaaa1111_overnight",
		BatchID:       "aaaa1111",
		Timestamp:     1700000000,
		SourceFile:    "overnight.csv",
		Records:       15,
		PassCount:     4,
		WarningCount:  2,
		FailCount:     9,
		FlaggedCount:  4,
		HasSummary:    true,
		IndexedAt:     now,
	}
	newer := &verdictstore.Batch{
		DiscoveryPath: "archive",
		RunID:         "1700009999_bbbb2222_smoke",
		BatchID:       "bbbb2222",
		Timestamp:     1700009999,
		SourceFile:    "smoke.json",
		Records:       3,
		PassCount:     3,
		HasSummary:    true,
		IndexedAt:     now,
	}

	require.NoError(t, s.UpsertBatch(ctx, older))
	require.NoError(t, s.UpsertBatch(ctx, newer))

	// ListBatches returns all batches, newest first.
	batches, err := s.ListBatches(ctx)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "bbbb2222", batches[0].BatchID)
	assert.Equal(t, "aaaa1111", batches[1].BatchID)

	// ListBatchRunIDs filters by discovery path.
	ids, err := s.ListBatchRunIDs(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, []string{"1700000000_aaaa1111_overnight"}, ids)

	// GetBatch finds by run ID.
	got, err := s.GetBatch(ctx, "1700000000_aaaa1111_overnight")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 9, got.FailCount)

	// Missing batches return nil without an error.
	missing, err := s.GetBatch(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_UpsertBatchUpdatesInPlace(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first := &verdictstore.Batch{
		DiscoveryPath: "main",
		RunID:         "1700000000_aaaa1111_overnight",
		Records:       15,
		HasSummary:    false,
		IndexedAt:     time.Now().UTC(),
	}
	require.NoError(t, s.UpsertBatch(ctx, first))

	// Re-upserting the same composite key must not create a duplicate and
	// must replace the stored values, so re-indexing can fill in a summary
	// that appeared after the first pass.
	now := time.Now().UTC()
	second := &verdictstore.Batch{
		DiscoveryPath: "main",
		RunID:         "1700000000_aaaa1111_overnight",
		Records:       15,
		PassCount:     10,
		FailCount:     5,
		HasSummary:    true,
		IndexedAt:     now,
		ReindexedAt:   &now,
	}
	require.NoError(t, s.UpsertBatch(ctx, second))

	batches, err := s.ListBatches(ctx)
	require.NoError(t, err)
	require.Len(t, batches, 1, "upsert must not duplicate the row")

	assert.True(t, batches[0].HasSummary)
	assert.Equal(t, 10, batches[0].PassCount)
	assert.NotNil(t, batches[0].ReindexedAt)
}

func TestStore_ListIncompleteBatchRunIDs(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	batches := []verdictstore.Batch{
		{DiscoveryPath: "main", RunID: "run-complete", HasSummary: true},
		{DiscoveryPath: "main", RunID: "run-pending", HasSummary: false},
		{DiscoveryPath: "other", RunID: "run-elsewhere", HasSummary: false},
	}
	for i := range batches {
		require.NoError(t, s.UpsertBatch(ctx, &batches[i]))
	}

	ids, err := s.ListIncompleteBatchRunIDs(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, []string{"run-pending"}, ids)
}

func TestStore_ReplaceAndListVerdicts(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	const (
		dp    = "main"
		runID = "1700000000_aaaa1111_overnight"
	)

	verdicts := []*verdictstore.Verdict{
		{
			DiscoveryPath: dp,
			BatchRunID:    runID,
			RunID:         "R001",
			SolverKind:    "FEA",
			Severity:      "PASS",
			ReasonsJSON:   "[]",
			MaxStress:     f64(320),
			Converged:     true,
		},
		{
			DiscoveryPath: dp,
			BatchRunID:    runID,
			RunID:         "R002",
			SolverKind:    "FEA",
			Severity:      "FAIL",
			Flagged:       true,
			ReasonsJSON:   `["Stress 890 > 450 MPa (exceeds yield)"]`,
			Score:         f64(-0.61),
			Anomalous:     true,
			MaxStress:     f64(890),
			Converged:     true,
		},
		{
			DiscoveryPath: dp,
			BatchRunID:    runID,
			RunID:         "R003",
			SolverKind:    "CFD",
			Severity:      "WARNING",
			ReasonsJSON:   `["Iterations 25 > 20 (poor convergence)"]`,
			Iterations:    f64(25),
			Converged:     true,
		},
	}

	require.NoError(t, s.ReplaceVerdicts(ctx, dp, runID, verdicts))

	// Unfiltered listing preserves insertion order.
	all, err := s.ListVerdicts(ctx, runID, verdictstore.VerdictFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "R001", all[0].RunID)
	assert.Equal(t, "R003", all[2].RunID)

	// Severity filter.
	fails, err := s.ListVerdicts(ctx, runID, verdictstore.VerdictFilter{Severity: "FAIL"})
	require.NoError(t, err)
	require.Len(t, fails, 1)
	assert.Equal(t, "R002", fails[0].RunID)
	require.NotNil(t, fails[0].Score)
	assert.InDelta(t, -0.61, *fails[0].Score, 1e-9)

	// Flagged filter.
	flagged, err := s.ListVerdicts(ctx, runID, verdictstore.VerdictFilter{FlaggedOnly: true})
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, "R002", flagged[0].RunID)

	// Replacing drops stale rows instead of accumulating.
	replacement := []*verdictstore.Verdict{
		{
			DiscoveryPath: dp,
			BatchRunID:    runID,
			RunID:         "R001",
			SolverKind:    "FEA",
			Severity:      "PASS",
			ReasonsJSON:   "[]",
		},
	}
	require.NoError(t, s.ReplaceVerdicts(ctx, dp, runID, replacement))

	remaining, err := s.ListVerdicts(ctx, runID, verdictstore.VerdictFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "R001", remaining[0].RunID)
}

func TestStore_Summary(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// Empty store aggregates to zeros.
	empty, err := s.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.Batches)
	assert.Equal(t, int64(0), empty.Records)

	batches := []verdictstore.Batch{
		{
			DiscoveryPath: "main",
			RunID:         "run-a",
			Records:       15,
			PassCount:     4,
			WarningCount:  2,
			FailCount:     9,
			FlaggedCount:  4,
			HasSummary:    true,
		},
		{
			DiscoveryPath: "main",
			RunID:         "run-b",
			Records:       5,
			PassCount:     5,
			HasSummary:    true,
		},
	}
	for i := range batches {
		require.NoError(t, s.UpsertBatch(ctx, &batches[i]))
	}

	summary, err := s.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.Batches)
	assert.Equal(t, int64(20), summary.Records)
	assert.Equal(t, int64(9), summary.Pass)
	assert.Equal(t, int64(2), summary.Warning)
	assert.Equal(t, int64(9), summary.Fail)
	assert.Equal(t, int64(4), summary.Flagged)
}
