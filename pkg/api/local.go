package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/logoforge/logoforge/pkg/config"
)

// localStorage stores uploaded logos under a single directory root and
// serves them back. Request paths are resolved relative to the root.
type localStorage struct {
	log  logrus.FieldLogger
	root string
}

// newLocalStorage creates the storage root if needed.
func newLocalStorage(
	log logrus.FieldLogger,
	cfg *config.LocalStorageConfig,
) (*localStorage, error) {
	root := filepath.Clean(cfg.Root)

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root: %w", err)
	}

	return &localStorage{
		log:  log.WithField("component", "local-storage"),
		root: root,
	}, nil
}

// Save writes the upload under the root and returns its storage key.
func (l *localStorage) Save(key string, src io.Reader) error {
	if !isAllowedPath(key) {
		return fmt.Errorf("key %q is not allowed", key)
	}

	full := filepath.Join(l.root, key)

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("creating upload directory: %w", err)
	}

	f, err := os.Create(full)
	if err != nil {
		return fmt.Errorf("creating upload file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, src); err != nil {
		return fmt.Errorf("writing upload: %w", err)
	}

	return nil
}

// ServeFile resolves filePath under the root and serves it via
// http.ServeFile. Returns an error when the path is disallowed or
// missing.
func (l *localStorage) ServeFile(
	w http.ResponseWriter,
	r *http.Request,
	filePath string,
) error {
	if !isAllowedPath(filePath) {
		return fmt.Errorf("path %q is not allowed", filePath)
	}

	full := filepath.Join(l.root, filePath)

	// Defense-in-depth: ensure the resolved path stays under root.
	if !strings.HasPrefix(full, l.root+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes the storage root", filePath)
	}

	if _, err := os.Stat(full); err != nil {
		return fmt.Errorf("file %q not found", filePath)
	}

	http.ServeFile(w, r, full)

	return nil
}

// isAllowedPath rejects empty, absolute, unclean, or traversal paths.
func isAllowedPath(filePath string) bool {
	if filePath == "" {
		return false
	}

	if strings.Contains(filePath, "..") {
		return false
	}

	if filepath.IsAbs(filePath) {
		return false
	}

	return path.Clean(filePath) == filePath
}
