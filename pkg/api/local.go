package api

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// localFileServer serves characterization artifacts (tool logs, reports,
// result files) from the projects directory. Request paths are resolved
// relative to the roots.
type localFileServer struct {
	log   logrus.FieldLogger
	roots []string
}

func newLocalFileServer(log logrus.FieldLogger, roots []string) *localFileServer {
	cleaned := make([]string, 0, len(roots))
	for _, p := range roots {
		cleaned = append(cleaned, filepath.Clean(p))
	}

	return &localFileServer{
		log:   log.WithField("component", "local-file-server"),
		roots: cleaned,
	}
}

// ServeFile locates filePath under one of the roots and serves it via
// http.ServeFile. Returns an error when the path is disallowed or not found
// under any root.
func (l *localFileServer) ServeFile(
	w http.ResponseWriter,
	r *http.Request,
	filePath string,
) error {
	if !l.isAllowedPath(filePath) {
		return fmt.Errorf("path %q is not allowed", filePath)
	}

	for _, root := range l.roots {
		full := filepath.Join(root, filePath)

		if !strings.HasPrefix(full, root+string(filepath.Separator)) {
			continue
		}

		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			continue
		}

		http.ServeFile(w, r, full)

		return nil
	}

	return fmt.Errorf("file %q not found", filePath)
}

// isAllowedPath rejects empty, absolute, unclean, hidden or traversal
// request paths.
func (l *localFileServer) isAllowedPath(filePath string) bool {
	if filePath == "" || strings.Contains(filePath, "..") {
		return false
	}

	if filepath.IsAbs(filePath) || strings.HasPrefix(filePath, "/") {
		return false
	}

	for _, seg := range strings.Split(filePath, "/") {
		if strings.HasPrefix(seg, ".") {
			return false
		}
	}

	// Ensure the path is clean (no double slashes, trailing slashes, etc.).
	return path.Clean(filePath) == filePath
}
