package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DiskStore keeps objects under a local directory and serves them through
// the /api/files static route. It backs development and tests; production
// uses S3Store.
type DiskStore struct {
	root      string
	urlPrefix string
}

func NewDiskStore(root string) *DiskStore {
	return &DiskStore{root: root, urlPrefix: "/api/files/"}
}

func (s *DiskStore) Upload(ctx context.Context, path string, body io.Reader, contentType string) error {
	full := filepath.Join(s.root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("failed to create upload dir: %w", err)
	}

	f, err := os.Create(full)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, body); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (s *DiskStore) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(path)))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, nil
}

func (s *DiskStore) PublicURL(ctx context.Context, path string) (string, error) {
	return s.urlPrefix + strings.TrimPrefix(path, "/"), nil
}
