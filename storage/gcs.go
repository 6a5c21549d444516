package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"cloud.google.com/go/storage"
)

// GCSBlobStore writes blobs to a Cloud Storage bucket, the hosted counterpart of DiskBlobStore.
type GCSBlobStore struct {
	client *storage.Client
	bucket string
	log    *slog.Logger
}

func NewGCSBlobStore(ctx context.Context, bucket string, log *slog.Logger) (*GCSBlobStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required for Cloud Storage blob store")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &GCSBlobStore{client: client, bucket: bucket, log: log}, nil
}

func (g *GCSBlobStore) Put(ctx context.Context, path string, data []byte) (string, error) {
	w := g.client.Bucket(g.bucket).Object(path).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("writing object %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing object %s: %w", path, err)
	}
	g.log.Debug("Object stored", "bucket", g.bucket, "path", path, "size", len(data))
	return publicURL(g.bucket, path), nil
}

func (g *GCSBlobStore) Close() error {
	return g.client.Close()
}

func publicURL(bucket, path string) string {
	u := url.URL{Scheme: "https", Host: "storage.googleapis.com", Path: "/" + bucket + "/" + path}
	return u.String()
}
