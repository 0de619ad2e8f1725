package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/writerrose28/ReDerma/pkg/config"
)

// GCSStore implements BlobStore on a Google Cloud Storage bucket
type GCSStore struct {
	client        *storage.Client
	bucket        string
	publicBaseURL string
}

// NewGCSStore creates a GCS-backed blob store. Credentials come from the
// environment (application default credentials).
func NewGCSStore(ctx context.Context, cfg *config.StorageConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not create storage client: %w", err)
	}
	return &GCSStore{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimSuffix(cfg.PublicBaseURL, "/"),
	}, nil
}

// Put writes data to the bucket object named key
func (s *GCSStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	obj := s.client.Bucket(s.bucket).Object(key)
	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("could not write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("could not finalize object %s: %w", key, err)
	}
	return s.publicBaseURL + "/" + key, nil
}

// Delete removes the bucket object named key
func (s *GCSStore) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ErrNotFound
	}
	return err
}

// DeletePrefix removes every object under prefix. Individual delete failures
// do not stop the pass; the first error is reported after all objects have
// been attempted.
func (s *GCSStore) DeletePrefix(ctx context.Context, prefix string) error {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var firstErr error
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("could not list objects under %s: %w", prefix, err)
		}
		if err := s.client.Bucket(s.bucket).Object(attrs.Name).Delete(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("could not delete object %s: %w", attrs.Name, err)
		}
	}
	return firstErr
}

// Close releases the underlying client
func (s *GCSStore) Close() error {
	return s.client.Close()
}
