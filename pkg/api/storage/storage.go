package storage

import "context"

// Reader provides read access to triage batch results stored in a backend.
// It is used by the indexer to discover and read batch result files without
// knowing the underlying storage details.
type Reader interface {
	// ListRunIDs returns the batch run IDs (directory names) under the
	// runs directory for the given discovery path.
	ListRunIDs(ctx context.Context, discoveryPath string) ([]string, error)

	// GetRunFile reads a file from a specific batch result directory.
	// Returns (nil, nil) when the file does not exist.
	GetRunFile(
		ctx context.Context, discoveryPath, runID, filename string,
	) ([]byte, error)

	// DiscoveryPaths returns all configured discovery paths.
	DiscoveryPaths() []string
}
