// Package upload copies characterization results to remote storage.
package upload

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/ethpandaops/chronbench/pkg/characterize"
)

// Uploader uploads a characterization projects directory to remote storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// Upload uploads the result artifacts under root. The directory
	// basename is used as a sub-prefix under the configured remote prefix.
	// Objects already present with the same size are not uploaded again.
	Upload(ctx context.Context, root string) (*Summary, error)
}

// Summary counts the files handled by an upload.
type Summary struct {
	Uploaded int   `json:"uploaded"`
	Skipped  int   `json:"skipped"`
	Bytes    int64 `json:"bytes"`
}

// skipPath reports whether a path relative to the projects root is left
// out of uploads. Exported sources are reproducible from the benchmark
// history, so only tool artifacts are kept.
func skipPath(rel string, isDir bool) bool {
	parts := strings.Split(filepath.ToSlash(rel), "/")

	if isDir && len(parts) == 2 && parts[1] == characterize.SrcDir {
		return true
	}

	for _, p := range parts {
		if strings.HasPrefix(p, ".") && p != "." {
			return true
		}
	}

	return false
}
