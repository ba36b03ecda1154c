package screenshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// NewStorageClient creates a Cloud Storage client. Empty credentials use
// application default credentials.
func NewStorageClient(ctx context.Context, credentialsJSON string) (*storage.Client, error) {
	var opts []option.ClientOption
	if credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return client, nil
}

// Bucket is a Sink writing objects into a Cloud Storage bucket.
type Bucket struct {
	client *storage.Client
	logger *slog.Logger
	bucket string
	prefix string
}

// NewBucket creates a bucket sink. Objects are named prefix/<file>.
func NewBucket(client *storage.Client, bucket, prefix string, logger *slog.Logger) *Bucket {
	return &Bucket{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

func (b *Bucket) object(name string) string {
	if b.prefix == "" {
		return name
	}
	return path.Join(b.prefix, name)
}

func (b *Bucket) Put(ctx context.Context, name string, data []byte) (string, error) {
	key := b.object(name)
	err := retry.Do(
		func() error {
			w := b.client.Bucket(b.bucket).Object(key).NewWriter(ctx)
			w.ContentType = "image/png"
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					b.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(2*time.Second),
		retry.MaxJitter(250*time.Millisecond),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			b.logger.Info("Retrying screenshot upload after error", "attempt", n, "key", key, "error", err)
		}),
	)
	if err != nil {
		return "", fmt.Errorf("upload after retries: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", b.bucket, key), nil
}

func (b *Bucket) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	query := &storage.Query{Prefix: b.object(filePrefix)}
	it := b.client.Bucket(b.bucket).Objects(ctx, query)

	removed := 0
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return removed, fmt.Errorf("iterate storage: %w", err)
		}
		if !isScreenshot(path.Base(attrs.Name)) || !attrs.Created.Before(cutoff) {
			continue
		}
		if err := b.client.Bucket(b.bucket).Object(attrs.Name).Delete(ctx); err != nil {
			if errors.Is(err, storage.ErrObjectNotExist) {
				continue
			}
			b.logger.Warn("Failed to delete screenshot", "key", attrs.Name, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
