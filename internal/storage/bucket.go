package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	// Register the URL schemes the bucket backend accepts.
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// Bucket stores blobs through a portable gocloud.dev bucket.
type Bucket struct {
	bucket *blob.Bucket
}

// OpenBucket opens a bucket from a URL such as "mem://", "file:///srv/releases",
// "s3://name?region=us-east-1" or "gs://name".
func OpenBucket(ctx context.Context, bucketURL string) (*Bucket, error) {
	b, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}

	return NewBucket(b), nil
}

// NewBucket wraps an already opened bucket.
func NewBucket(b *blob.Bucket) *Bucket {
	return &Bucket{bucket: b}
}

// Put uploads data, recording metadata and its content type.
func (b *Bucket) Put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	metadata = normalizeMetadata(metadata)

	//nolint:exhaustruct // Only metadata and content type are relevant.
	opts := &blob.WriterOptions{
		Metadata:    metadata,
		ContentType: metadata[MetadataContentType],
	}

	if err := b.bucket.WriteAll(ctx, key, data, opts); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}

	return nil
}

// Get downloads the object. NotFound is reported as absence.
func (b *Bucket) Get(ctx context.Context, key string) (*Object, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	attrs, err := b.bucket.Attributes(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, nil //nolint:nilnil // Absence is not an error.
		}

		return nil, fmt.Errorf("stat %s: %w", key, err)
	}

	data, err := b.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, nil //nolint:nilnil // Deleted between the two calls.
		}

		return nil, fmt.Errorf("get %s: %w", key, err)
	}

	return &Object{
		Data:     data,
		Metadata: normalizeMetadata(attrs.Metadata),
		Size:     int64(len(data)),
	}, nil
}

// Delete removes key, ignoring missing objects.
func (b *Bucket) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	if err := b.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("delete %s: %w", key, err)
	}

	return nil
}

// List iterates over every object whose key starts with prefix.
func (b *Bucket) List(ctx context.Context, prefix string) ([]string, error) {
	//nolint:exhaustruct // A flat prefix listing is all that is needed.
	iter := b.bucket.List(&blob.ListOptions{Prefix: prefix})
	keys := make([]string, 0)

	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("list %q: %w", prefix, err)
		}

		if obj.IsDir {
			continue
		}

		keys = append(keys, obj.Key)
	}

	slices.Sort(keys)

	return keys, nil
}

// Exists reports whether key is stored.
func (b *Bucket) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	ok, err := b.bucket.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}

	return ok, nil
}

// Close releases the bucket.
func (b *Bucket) Close() error {
	return b.bucket.Close()
}
