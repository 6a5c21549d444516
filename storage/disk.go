package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// DiskBlobStore keeps blobs under a root directory.
// URLs are baseURL joined with the escaped blob path; the gateway serves root at that prefix.
type DiskBlobStore struct {
	root    string
	baseURL string
	log     *slog.Logger
}

func NewDiskBlobStore(root, baseURL string, log *slog.Logger) (*DiskBlobStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob root %s: %w", root, err)
	}
	return &DiskBlobStore{root: root, baseURL: strings.TrimSuffix(baseURL, "/"), log: log}, nil
}

func (d DiskBlobStore) Root() string {
	return d.root
}

func (d DiskBlobStore) Put(ctx context.Context, path string, data []byte) (string, error) {
	if !filepath.IsLocal(path) {
		return "", fmt.Errorf("blob path %q escapes the store", path)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	target := filepath.Join(d.root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", err
	}
	// Write then rename so readers never see a partial file
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	d.log.Debug("Blob stored", "path", path, "size", len(data))

	segments := strings.Split(filepath.ToSlash(path), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return d.baseURL + "/" + strings.Join(segments, "/"), nil
}
