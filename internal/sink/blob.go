package sink

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// Blob writes into a single object of a gocloud bucket (file://, mem://,
// s3://, gs:// URLs).
type Blob struct {
	Key string

	bucket *blob.Bucket
	owned  bool
	w      *blob.Writer
	cancel context.CancelFunc
}

// OpenBlob opens bucketURL and starts writing key. The bucket is closed
// along with the sink.
func OpenBlob(ctx context.Context, bucketURL, key string) (*Blob, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("error opening bucket %s: %v", bucketURL, err)
	}
	b, err := NewBlob(ctx, bucket, key)
	if err != nil {
		bucket.Close()
		return nil, err
	}
	b.owned = true
	return b, nil
}

// NewBlob writes key in an already open bucket, which stays open after Close.
func NewBlob(ctx context.Context, bucket *blob.Bucket, key string) (*Blob, error) {
	ctx, cancel := context.WithCancel(ctx)
	w, err := bucket.NewWriter(ctx, key, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("error creating blob writer for %s: %v", key, err)
	}
	return &Blob{Key: key, bucket: bucket, w: w, cancel: cancel}, nil
}

func (b *Blob) Accept(p []byte) error {
	if _, err := b.w.Write(p); err != nil {
		return fmt.Errorf("error writing blob: %v", err)
	}
	return nil
}

// Close commits the object.
func (b *Blob) Close() error {
	err := b.w.Close()
	b.cancel()
	if b.owned {
		b.bucket.Close()
	}
	if err != nil {
		return fmt.Errorf("error committing blob %s (%s): %w", b.Key, gcerrors.Code(err), err)
	}
	log.Debug().Str("op", "sink/blob").Msgf("Committed blob %s", b.Key)
	return nil
}

// Abort discards the partially written object.
func (b *Blob) Abort() {
	b.cancel()
	b.w.Close()
	if b.owned {
		b.bucket.Close()
	}
}
