package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/compozy/animagen/engine/core"
	"github.com/compozy/animagen/engine/executor"
	"github.com/compozy/animagen/engine/imaging"
	"github.com/compozy/animagen/pkg/logger"
	"github.com/minio/minio-go/v7"
)

// Store delivers final images to an S3-compatible bucket.
type Store struct {
	client *minio.Client
	cfg    Config
}

var _ executor.Deliverer = (*Store)(nil)

func NewStore(cfg Config) (*Store, error) {
	client, err := NewMinIOClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{client: client, cfg: cfg}, nil
}

// ObjectKey is where the final image of runID is stored.
func ObjectKey(runID core.ID, mime string) string {
	return path.Join("runs", runID.String(), "final"+imaging.Extension(mime))
}

// Deliver uploads image and returns a presigned GET URL valid for the
// configured expiry.
func (s *Store) Deliver(ctx context.Context, runID core.ID, image []byte, mime string) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("minio store not initialized")
	}
	if mime == "" {
		mime = "image/png"
	}
	key := ObjectKey(runID, mime)
	opts := minio.PutObjectOptions{
		ContentType:  mime,
		UserMetadata: map[string]string{"run-id": runID.String()},
	}
	if _, err := s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(image), int64(len(image)), opts); err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}
	u, err := s.client.PresignedGetObject(ctx, s.cfg.Bucket, key, s.cfg.expiry(), nil)
	if err != nil {
		return "", fmt.Errorf("presigning %s: %w", key, err)
	}
	logger.FromContext(ctx).Info("Final image delivered", "bucket", s.cfg.Bucket, "key", key, "bytes", len(image))
	return u.String(), nil
}

// EnsureBucket creates the configured bucket when it is missing.
func (s *Store) EnsureBucket(ctx context.Context) error {
	if err := EnsureBucket(ctx, s.client, s.cfg.Bucket, s.cfg.Region); err != nil {
		return fmt.Errorf("ensuring bucket %s: %w", s.cfg.Bucket, err)
	}
	return nil
}
