// Package upload moves completed packages to remote storage with
// end-to-end digest verification and at-most-one local deletion.
package upload

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// BlobStore is the destination object store. Put streams the object body
// and returns the digest the store computed for the bytes it kept, which
// the verifier compares against the locally computed one.
type BlobStore interface {
	Put(ctx context.Context, name string, r io.Reader) ([]byte, error)
	Close() error
}

// GCSStore implements BlobStore on a Google Cloud Storage bucket.
type GCSStore struct {
	Client     *storage.Client
	BucketName string
}

// NewGCSStore initializes a GCS client and verifies the bucket is
// reachable. Authentication comes from Application Default Credentials.
func NewGCSStore(ctx context.Context, bucketName string, logger *zap.Logger) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}

	// Fail fast on startup if the bucket is missing or unreadable.
	if _, err := client.Bucket(bucketName).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("Failed to close GCS client after bucket check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("get gcs bucket %q attributes: %w", bucketName, err)
	}

	return &GCSStore{Client: client, BucketName: bucketName}, nil
}

// Put writes the object, overwriting any existing one, and returns the
// store-computed MD5 of the finalized object.
func (s *GCSStore) Put(ctx context.Context, name string, r io.Reader) ([]byte, error) {
	wc := s.Client.Bucket(s.BucketName).Object(name).NewWriter(ctx)
	if _, err := io.Copy(wc, r); err != nil {
		// Close anyway to release the session; the copy error is primary.
		_ = wc.Close()
		return nil, fmt.Errorf("write gcs object %s: %w", name, err)
	}
	// Close finalizes the upload; Attrs are only valid afterwards.
	if err := wc.Close(); err != nil {
		return nil, fmt.Errorf("finalize gcs object %s: %w", name, err)
	}
	return wc.Attrs().MD5, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error { return s.Client.Close() }

// NoOpStore discards uploads while still reporting an honest digest, so
// verification always succeeds. Used for dry runs and local development.
type NoOpStore struct {
	Logger *zap.Logger
}

func (s *NoOpStore) Put(_ context.Context, name string, r io.Reader) ([]byte, error) {
	h := md5.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return nil, fmt.Errorf("drain object %s: %w", name, err)
	}
	if s.Logger != nil {
		s.Logger.Info("NoOp store discarded object",
			zap.String("name", name),
			zap.Int64("bytes", n),
		)
	}
	return h.Sum(nil), nil
}

func (s *NoOpStore) Close() error { return nil }
