package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/oshokin/release-server/internal/config"
)

// MetadataContentType is the metadata key holding an object's media type.
const MetadataContentType = "content-type"

var (
	// ErrInvalidKey is returned for empty or reserved keys.
	ErrInvalidKey = errors.New("invalid storage key")
	// ErrPathTraversal is returned when a key resolves outside the base directory.
	ErrPathTraversal = errors.New("path traversal denied")
	// ErrTooLarge is returned when a drained stream exceeds its limit.
	ErrTooLarge = errors.New("content exceeds size limit")

	errUnknownBackend = errors.New("unknown storage backend")
)

// Object is a stored blob with its metadata.
type Object struct {
	Data     []byte
	Metadata map[string]string
	Size     int64
}

// Backend is the capability set shared by every storage variant.
type Backend interface {
	// Put stores data under key, silently overwriting.
	Put(ctx context.Context, key string, data []byte, metadata map[string]string) error
	// Get returns the object under key, or nil without error when it is absent.
	Get(ctx context.Context, key string) (*Object, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns the keys starting with prefix in lexicographic order.
	List(ctx context.Context, prefix string) ([]string, error)
	// Exists reports whether key is stored.
	Exists(ctx context.Context, key string) (bool, error)
	// Close releases backend resources.
	Close() error
}

// New opens the backend selected by cfg.
//
//nolint:ireturn // The backend variant is chosen at runtime.
func New(ctx context.Context, cfg *config.StorageConfig) (Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", config.BackendLocal:
		return NewLocal(cfg.DataDir)
	case config.BackendBucket:
		return OpenBucket(ctx, cfg.BucketURL)
	case config.BackendS3:
		return NewS3(ctx, &S3Options{
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			Endpoint:        cfg.S3.Endpoint,
		})
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownBackend, cfg.Backend)
	}
}

// ReadAllLimited drains r completely and fails with ErrTooLarge once more
// than limit bytes were read. A non-positive limit disables the check.
func ReadAllLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}

	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}

	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}

	return data, nil
}

// PutStream drains r and stores its bytes under key.
func PutStream(ctx context.Context, b Backend, key string, r io.Reader, metadata map[string]string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read stream for %s: %w", key, err)
	}

	return b.Put(ctx, key, data, metadata)
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	return nil
}

func normalizeMetadata(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}

	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[strings.ToLower(k)] = v
	}

	return out
}
