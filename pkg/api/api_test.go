package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/solverops/simtriage/pkg/api/verdictstore"
	"github.com/solverops/simtriage/pkg/config"
)

func testAPIConfig() *config.APIConfig {
	return &config.APIConfig{
		Database: config.APIDatabaseConfig{
			Driver: config.DatabaseDriverSQLite,
			SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
		},
	}
}

func newTestServer(t *testing.T, cfg *config.APIConfig) *server {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	store := verdictstore.NewStore(log, &cfg.Database)
	require.NoError(t, store.Start(context.Background()))
	t.Cleanup(func() { _ = store.Stop() })

	return &server{
		log:   log.WithField("component", "api"),
		cfg:   cfg,
		store: store,
	}
}

func f64(v float64) *float64 { return &v }

func seedBatches(t *testing.T, store verdictstore.Store) {
	t.Helper()

	ctx := context.Background()

	require.NoError(t, store.UpsertBatch(ctx, &verdictstore.Batch{
		DiscoveryPath: "main",
		RunID:         "1700000000_aaaa1111_overnight",
		BatchID:       "aaaa1111",
		Timestamp:     1700000000,
		SourceFile:    "overnight.csv",
		Records:       3,
		PassCount:     1,
		WarningCount:  1,
		FailCount:     1,
		FlaggedCount:  1,
		HasSummary:    true,
		ConfigJSON:    `{"batch_id":"aaaa1111","records":3}`,
	}))

	require.NoError(t, store.ReplaceVerdicts(
		ctx, "main", "1700000000_aaaa1111_overnight",
		[]*verdictstore.Verdict{
			{
				DiscoveryPath: "main",
				BatchRunID:    "1700000000_aaaa1111_overnight",
				RunID:         "R001",
				SolverKind:    "FEA",
				Severity:      "PASS",
				ReasonsJSON:   "[]",
				MaxStress:     f64(320),
				Converged:     true,
			},
			{
				DiscoveryPath: "main",
				BatchRunID:    "1700000000_aaaa1111_overnight",
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
				DiscoveryPath: "main",
				BatchRunID:    "1700000000_aaaa1111_overnight",
				RunID:         "R003",
				SolverKind:    "CFD",
				Severity:      "WARNING",
				ReasonsJSON:   `["Iterations 25 > 20 (poor convergence)"]`,
				Iterations:    f64(25),
				Converged:     true,
			},
		},
	))

	require.NoError(t, store.UpsertBatch(ctx, &verdictstore.Batch{
		DiscoveryPath: "main",
		RunID:         "1700009999_bbbb2222_smoke",
		BatchID:       "bbbb2222",
		Timestamp:     1700009999,
		SourceFile:    "smoke.csv",
		Records:       2,
	}))
}

func doRequest(
	router http.Handler, method, target, token string,
) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	return rec
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, testAPIConfig())
	router := s.buildRouter()

	rec := doRequest(router, http.MethodGet, "/api/v1/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleConfig(t *testing.T) {
	cfg := testAPIConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.AnonymousRead = true
	cfg.Storage.Local = &config.APILocalStorageConfig{
		Enabled: true,
		DiscoveryPaths: map[string]string{
			"main":    "/data/results",
			"archive": "/data/archive",
		},
	}

	s := newTestServer(t, cfg)
	router := s.buildRouter()

	rec := doRequest(router, http.MethodGet, "/api/v1/config", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Auth struct {
			Enabled       bool `json:"enabled"`
			AnonymousRead bool `json:"anonymous_read"`
		} `json:"auth"`
		Indexing struct {
			Enabled bool `json:"enabled"`
		} `json:"indexing"`
		Storage struct {
			Local struct {
				Enabled        bool     `json:"enabled"`
				DiscoveryPaths []string `json:"discovery_paths"`
			} `json:"local"`
		} `json:"storage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.True(t, resp.Auth.Enabled)
	assert.True(t, resp.Auth.AnonymousRead)
	assert.False(t, resp.Indexing.Enabled)
	assert.True(t, resp.Storage.Local.Enabled)
	assert.Equal(t, []string{"archive", "main"}, resp.Storage.Local.DiscoveryPaths)
}

func TestHandleListBatches(t *testing.T) {
	s := newTestServer(t, testAPIConfig())
	seedBatches(t, s.store)

	router := s.buildRouter()

	rec := doRequest(router, http.MethodGet, "/api/v1/batches", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Generated int64 `json:"generated"`
		Entries   []struct {
			DiscoveryPath string `json:"discovery_path"`
			RunID         string `json:"run_id"`
			BatchID       string `json:"batch_id"`
			Records       int    `json:"records"`
			Tally         *struct {
				Fail int `json:"fail"`
			} `json:"tally"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Len(t, resp.Entries, 2)
	assert.NotZero(t, resp.Generated)

	// Newest first.
	assert.Equal(t, "1700009999_bbbb2222_smoke", resp.Entries[0].RunID)
	assert.Nil(t, resp.Entries[0].Tally, "incomplete batch has no tally")

	assert.Equal(t, "1700000000_aaaa1111_overnight", resp.Entries[1].RunID)
	assert.Equal(t, "main", resp.Entries[1].DiscoveryPath)
	require.NotNil(t, resp.Entries[1].Tally)
	assert.Equal(t, 1, resp.Entries[1].Tally.Fail)
}

func TestHandleGetBatch(t *testing.T) {
	s := newTestServer(t, testAPIConfig())
	seedBatches(t, s.store)

	router := s.buildRouter()

	t.Run("found", func(t *testing.T) {
		rec := doRequest(router, http.MethodGet,
			"/api/v1/batches/1700000000_aaaa1111_overnight", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			DiscoveryPath string `json:"discovery_path"`
			BatchID       string `json:"batch_id"`
			Config        struct {
				Records int `json:"records"`
			} `json:"config"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

		assert.Equal(t, "main", resp.DiscoveryPath)
		assert.Equal(t, "aaaa1111", resp.BatchID)
		assert.Equal(t, 3, resp.Config.Records)
	})

	t.Run("not found", func(t *testing.T) {
		rec := doRequest(router, http.MethodGet, "/api/v1/batches/nope", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "batch not found")
	})
}

func TestHandleListVerdicts(t *testing.T) {
	s := newTestServer(t, testAPIConfig())
	seedBatches(t, s.store)

	router := s.buildRouter()
	base := "/api/v1/batches/1700000000_aaaa1111_overnight/verdicts"

	type verdictsResponse struct {
		RunID    string `json:"run_id"`
		Verdicts []struct {
			RunID    string   `json:"run_id"`
			Severity string   `json:"severity"`
			Flagged  bool     `json:"flagged"`
			Reasons  []string `json:"reasons"`
			Score    *float64 `json:"score"`
		} `json:"verdicts"`
	}

	t.Run("all verdicts", func(t *testing.T) {
		rec := doRequest(router, http.MethodGet, base, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp verdictsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

		require.Len(t, resp.Verdicts, 3)
		assert.Equal(t, "R001", resp.Verdicts[0].RunID)
		assert.Empty(t, resp.Verdicts[0].Reasons)
	})

	t.Run("severity filter", func(t *testing.T) {
		rec := doRequest(router, http.MethodGet, base+"?severity=FAIL", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp verdictsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

		require.Len(t, resp.Verdicts, 1)
		assert.Equal(t, "R002", resp.Verdicts[0].RunID)
		require.NotNil(t, resp.Verdicts[0].Score)
		assert.InDelta(t, -0.61, *resp.Verdicts[0].Score, 1e-9)
		assert.Equal(t,
			[]string{"Stress 890 > 450 MPa (exceeds yield)"},
			resp.Verdicts[0].Reasons,
		)
	})

	t.Run("flagged filter", func(t *testing.T) {
		rec := doRequest(router, http.MethodGet, base+"?flagged=true", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp verdictsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

		require.Len(t, resp.Verdicts, 1)
		assert.True(t, resp.Verdicts[0].Flagged)
	})

	t.Run("invalid severity", func(t *testing.T) {
		rec := doRequest(router, http.MethodGet, base+"?severity=BOGUS", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid severity")
	})

	t.Run("unknown batch", func(t *testing.T) {
		rec := doRequest(router, http.MethodGet,
			"/api/v1/batches/nope/verdicts", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleSummary(t *testing.T) {
	s := newTestServer(t, testAPIConfig())
	seedBatches(t, s.store)

	router := s.buildRouter()

	rec := doRequest(router, http.MethodGet, "/api/v1/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var summary verdictstore.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))

	assert.Equal(t, int64(2), summary.Batches)
	assert.Equal(t, int64(5), summary.Records)
	assert.Equal(t, int64(1), summary.Pass)
	assert.Equal(t, int64(1), summary.Fail)
	assert.Equal(t, int64(1), summary.Flagged)
}

func TestRequireAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := testAPIConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.AnonymousRead = false
	cfg.Auth.Tokens = []config.APITokenConfig{
		{Name: "ci", Hash: string(hash)},
	}

	s := newTestServer(t, cfg)
	router := s.buildRouter()

	t.Run("missing token", func(t *testing.T) {
		rec := doRequest(router, http.MethodGet, "/api/v1/batches", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "authentication required")
	})

	t.Run("wrong token", func(t *testing.T) {
		rec := doRequest(router, http.MethodGet, "/api/v1/batches", "nope")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid token")
	})

	t.Run("valid token", func(t *testing.T) {
		rec := doRequest(router, http.MethodGet, "/api/v1/batches", "s3cret")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("health stays public", func(t *testing.T) {
		rec := doRequest(router, http.MethodGet, "/api/v1/health", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
