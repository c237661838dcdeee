package index

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"

	"github.com/oshokin/release-server/internal/domain/release"
	"github.com/oshokin/release-server/internal/sign"
	"github.com/oshokin/release-server/internal/storage"
)

// DefaultRetries bounds how often Update re-applies a mutation after a concurrent change.
const DefaultRetries = 3

//go:embed schema.json
var schemaDocument []byte

var (
	// ErrInvalidDocument is returned when the stored index breaks its schema or invariants.
	ErrInvalidDocument = errors.New("release index document is invalid")
	// ErrConcurrentUpdate is returned when the index kept changing during Update.
	ErrConcurrentUpdate = errors.New("release index changed concurrently")
)

// Repository reads and writes the release index and manifests.
type Repository struct {
	// store is the blob backend holding every document.
	store storage.Backend
	// schema validates the raw index document.
	schema *jsonschema.Schema
	// retries bounds optimistic re-application in Update.
	retries int
	// mu serializes writers within this process.
	mu sync.Mutex
}

// NewRepository compiles the index schema and binds it to store.
func NewRepository(store storage.Backend) (*Repository, error) {
	compiler := jsonschema.NewCompiler()

	schema, err := compiler.Compile(schemaDocument)
	if err != nil {
		return nil, fmt.Errorf("compile index schema: %w", err)
	}

	return &Repository{
		store:   store,
		schema:  schema,
		retries: DefaultRetries,
	}, nil
}

// snapshot is one read of the index document.
type snapshot struct {
	index release.Index
	// token is the JCS digest of the stored bytes, empty when absent.
	token string
}

// Load returns the index, or nil without error when none has been written yet.
func (r *Repository) Load(ctx context.Context) (release.Index, error) {
	snap, err := r.read(ctx)
	if err != nil {
		return nil, err
	}

	return snap.index, nil
}

// Token returns the concurrency token of the stored index.
func (r *Repository) Token(ctx context.Context) (string, error) {
	snap, err := r.read(ctx)
	if err != nil {
		return "", err
	}

	return snap.token, nil
}

// Update applies mutate to a copy of the current index and writes it back.
// Before writing, the stored document is re-read; if another writer changed
// it, mutate is re-applied on the fresh copy. A mutate error aborts without writing.
func (r *Repository) Update(ctx context.Context, mutate func(release.Index) error) (release.Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for range r.retries {
		before, err := r.read(ctx)
		if err != nil {
			return nil, err
		}

		next := before.index.Clone()
		if err = mutate(next); err != nil {
			return nil, err
		}

		current, err := r.read(ctx)
		if err != nil {
			return nil, err
		}

		if current.token != before.token {
			continue
		}

		if err = storage.PutJSON(ctx, r.store, release.IndexKey, next); err != nil {
			return nil, fmt.Errorf("write release index: %w", err)
		}

		return next, nil
	}

	return nil, ErrConcurrentUpdate
}

// ManifestExists reports whether a per-version manifest is stored.
func (r *Repository) ManifestExists(ctx context.Context, version string) (bool, error) {
	ok, err := r.store.Exists(ctx, release.ManifestKey(version))
	if err != nil {
		return false, fmt.Errorf("check manifest %s: %w", version, err)
	}

	return ok, nil
}

// PutManifest stores the standalone manifest mirroring an index entry.
func (r *Repository) PutManifest(ctx context.Context, rel *release.Release) error {
	if err := storage.PutJSON(ctx, r.store, release.ManifestKey(rel.Version), rel); err != nil {
		return fmt.Errorf("write manifest %s: %w", rel.Version, err)
	}

	return nil
}

// GetManifest reads the standalone manifest, or nil when absent.
func (r *Repository) GetManifest(ctx context.Context, version string) (*release.Release, error) {
	rel, err := storage.GetJSON[release.Release](ctx, r.store, release.ManifestKey(version))
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", version, err)
	}

	return rel, nil
}

func (r *Repository) read(ctx context.Context) (*snapshot, error) {
	obj, err := r.store.Get(ctx, release.IndexKey)
	if err != nil {
		return nil, fmt.Errorf("read release index: %w", err)
	}

	if obj == nil {
		return &snapshot{}, nil
	}

	if result := r.schema.ValidateJSON(obj.Data); !result.IsValid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, result.Errors)
	}

	var idx release.Index
	if err = json.Unmarshal(obj.Data, &idx); err != nil {
		return nil, fmt.Errorf("decode release index: %w", err)
	}

	if idx == nil {
		idx = release.Index{}
	}

	for version, rel := range idx {
		if rel == nil || rel.Version != version {
			return nil, fmt.Errorf("%w: key %q does not match its version", ErrInvalidDocument, version)
		}
	}

	token, err := sign.DigestJCS(obj.Data)
	if err != nil {
		return nil, fmt.Errorf("digest release index: %w", err)
	}

	return &snapshot{index: idx, token: token}, nil
}
