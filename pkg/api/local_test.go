package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solverops/simtriage/pkg/config"
)

func TestLocalFileServer_IsAllowedPath(t *testing.T) {
	srv := &localFileServer{
		log:   logrus.New(),
		paths: map[string]string{"main": "/data/results"},
	}

	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{name: "valid simple path", path: "main/runs/abc/verdicts.json", expected: true},
		{name: "valid short path", path: "main/index.json", expected: true},
		{name: "empty path", path: "", expected: false},
		{name: "path traversal", path: "main/../../etc/passwd", expected: false},
		{name: "dot dot only", path: "..", expected: false},
		{name: "absolute path", path: "/etc/passwd", expected: false},
		{name: "trailing slash", path: "main/runs/abc/", expected: false},
		{name: "double slash", path: "main//abc", expected: false},
		{name: "dot segment", path: "main/./abc", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, srv.isAllowedPath(tt.path))
		})
	}
}

func TestLocalFileServer_ServeFile(t *testing.T) {
	// Create temp directory structure.
	root := t.TempDir()
	runDir := filepath.Join(root, "runs", "1700000000_aaaa1111_overnight")
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	require.NoError(
		t, os.WriteFile(
			filepath.Join(runDir, "verdicts.json"),
			[]byte(`[{"run_id":"R001"}]`), 0o644,
		),
	)

	srv := newLocalFileServer(logrus.New(), &config.APILocalStorageConfig{
		Enabled:        true,
		DiscoveryPaths: map[string]string{"main": root},
	})

	t.Run("serves existing file", func(t *testing.T) {
		target := "main/runs/1700000000_aaaa1111_overnight/verdicts.json"
		req := httptest.NewRequest(http.MethodGet, "/"+target, nil)
		rec := httptest.NewRecorder()

		err := srv.ServeFile(rec, req, target)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"run_id":"R001"`)
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/main/runs/nope.json", nil)
		rec := httptest.NewRecorder()

		err := srv.ServeFile(rec, req, "main/runs/nope.json")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
		_ = rec // response not written
	})

	t.Run("rejects path traversal", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/main/x", nil)
		rec := httptest.NewRecorder()

		err := srv.ServeFile(rec, req, "main/../../etc/passwd")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not allowed")
		_ = rec
	})

	t.Run("rejects unknown discovery path", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/other/index.json", nil)
		rec := httptest.NewRecorder()

		err := srv.ServeFile(rec, req, "other/index.json")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown discovery path")
		_ = rec
	})

	t.Run("resolves per-prefix roots", func(t *testing.T) {
		root2 := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(root2, "runs"), 0o755))
		require.NoError(
			t, os.WriteFile(
				filepath.Join(root2, "index.json"),
				[]byte(`{"entries":[]}`), 0o644,
			),
		)

		multi := newLocalFileServer(logrus.New(), &config.APILocalStorageConfig{
			Enabled: true,
			DiscoveryPaths: map[string]string{
				"main":    root,
				"archive": root2,
			},
		})

		req := httptest.NewRequest(http.MethodGet, "/archive/index.json", nil)
		rec := httptest.NewRecorder()

		err := multi.ServeFile(rec, req, "archive/index.json")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"entries"`)

		// The same file name under the other prefix does not exist.
		req = httptest.NewRequest(http.MethodGet, "/main/index.json", nil)
		rec = httptest.NewRecorder()

		err = multi.ServeFile(rec, req, "main/index.json")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})
}
