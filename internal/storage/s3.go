package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// defaultS3Endpoint is used when no custom endpoint is configured.
const defaultS3Endpoint = "s3.amazonaws.com"

var errBucketMissing = errors.New("bucket does not exist")

// S3Options configures the S3-compatible backend.
type S3Options struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
	// Endpoint is an optional URL; the scheme decides whether TLS is used.
	Endpoint string
}

// S3 stores blobs through the S3 API.
type S3 struct {
	client *minio.Client
	bucket string
}

// NewS3 connects to the endpoint and checks that the bucket exists.
func NewS3(ctx context.Context, opts *S3Options) (*S3, error) {
	endpoint, secure, err := parseS3Endpoint(opts.Endpoint)
	if err != nil {
		return nil, err
	}

	creds := credentials.NewIAM("")
	if opts.AccessKeyID != "" {
		creds = credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, "")
	}

	//nolint:exhaustruct // Defaults are fine for the remaining options.
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}

	if !exists {
		return nil, fmt.Errorf("%w: %s", errBucketMissing, opts.Bucket)
	}

	return &S3{client: client, bucket: opts.Bucket}, nil
}

// parseS3Endpoint turns an endpoint URL into the host form minio expects.
func parseS3Endpoint(raw string) (string, bool, error) {
	if raw == "" {
		return defaultS3Endpoint, true, nil
	}

	if !strings.Contains(raw, "://") {
		return strings.TrimRight(raw, "/"), true, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse s3 endpoint: %w", err)
	}

	if u.Host == "" {
		return "", false, fmt.Errorf("parse s3 endpoint %q: missing host", raw)
	}

	return u.Host, u.Scheme != "http", nil
}

// Put uploads data with its metadata.
func (s *S3) Put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	metadata = normalizeMetadata(metadata)

	//nolint:exhaustruct // Only content type and user metadata are set.
	opts := minio.PutObjectOptions{
		ContentType:  metadata[MetadataContentType],
		UserMetadata: metadata,
	}

	if _, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}

	return nil
}

// Get downloads the object. NoSuchKey is reported as absence.
func (s *S3) Get(ctx context.Context, key string) (*Object, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	//nolint:exhaustruct // Whole-object read.
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		if isS3NotFound(err) {
			return nil, nil //nolint:nilnil // Absence is not an error.
		}

		return nil, fmt.Errorf("get %s: %w", key, err)
	}

	defer func() {
		_ = obj.Close()
	}()

	info, err := obj.Stat()
	if err != nil {
		if isS3NotFound(err) {
			return nil, nil //nolint:nilnil // Absence is not an error.
		}

		return nil, fmt.Errorf("stat %s: %w", key, err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	return &Object{
		Data:     data,
		Metadata: normalizeMetadata(info.UserMetadata),
		Size:     int64(len(data)),
	}, nil
}

// Delete removes key. S3 treats missing keys as success.
func (s *S3) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	//nolint:exhaustruct // Plain delete.
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}

	return nil
}

// List pages through every object under prefix.
func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)

	//nolint:exhaustruct // Recursive prefix listing.
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %q: %w", prefix, obj.Err)
		}

		keys = append(keys, obj.Key)
	}

	slices.Sort(keys)

	return keys, nil
}

// Exists issues a HEAD request for key.
func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	//nolint:exhaustruct // Plain HEAD.
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isS3NotFound(err) {
			return false, nil
		}

		return false, fmt.Errorf("exists %s: %w", key, err)
	}

	return true, nil
}

// Close is a no-op; the HTTP client is shared.
func (s *S3) Close() error {
	return nil
}

func isS3NotFound(err error) bool {
	resp := minio.ToErrorResponse(err)

	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
