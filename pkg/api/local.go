package api

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/solverops/simtriage/pkg/config"
)

// localFileServer serves triage result files directly from the local
// filesystem. The first segment of a request path names a discovery
// path; the remainder is resolved inside that root, so a request for
// "main/runs/<id>/verdicts.json" reads from the directory registered
// under "main".
type localFileServer struct {
	log logrus.FieldLogger
	// paths maps discovery path names to absolute directory roots.
	paths map[string]string
}

// newLocalFileServer creates a new local file server from the given config.
func newLocalFileServer(
	log logrus.FieldLogger,
	cfg *config.APILocalStorageConfig,
) *localFileServer {
	paths := make(map[string]string, len(cfg.DiscoveryPaths))
	for name, dir := range cfg.DiscoveryPaths {
		paths[name] = filepath.Clean(dir)
	}

	return &localFileServer{
		log:   log.WithField("component", "local-file-server"),
		paths: paths,
	}
}

// ServeFile resolves filePath against its discovery root and serves it
// via http.ServeFile. Returns an error when the path is disallowed or
// does not resolve to a file.
func (l *localFileServer) ServeFile(
	w http.ResponseWriter,
	r *http.Request,
	filePath string,
) error {
	if !l.isAllowedPath(filePath) {
		return fmt.Errorf("path %q is not allowed", filePath)
	}

	dpName, rest, found := strings.Cut(filePath, "/")
	if !found || rest == "" {
		return fmt.Errorf("path %q is not allowed", filePath)
	}

	root, ok := l.paths[dpName]
	if !ok {
		return fmt.Errorf("unknown discovery path: %q", dpName)
	}

	full := filepath.Join(root, rest)

	// Defense-in-depth: ensure the resolved path stays under root.
	if !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return fmt.Errorf("path %q is not allowed", filePath)
	}

	if _, err := os.Stat(full); err != nil {
		return fmt.Errorf(
			"file %q not found in discovery path %q", rest, dpName,
		)
	}

	http.ServeFile(w, r, full)

	return nil
}

// isAllowedPath rejects empty, absolute, unclean, or traversal request paths.
func (l *localFileServer) isAllowedPath(filePath string) bool {
	if filePath == "" {
		return false
	}

	if strings.Contains(filePath, "..") {
		return false
	}

	// Reject paths that start with a slash (absolute paths).
	if filepath.IsAbs(filePath) {
		return false
	}

	// Ensure the path is clean (no double slashes, trailing slashes, etc.).
	return path.Clean(filePath) == filePath
}
