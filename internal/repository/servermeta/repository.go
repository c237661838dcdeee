package servermeta

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oshokin/release-server/internal/domain/release"
	"github.com/oshokin/release-server/internal/storage"
)

// Repository reads and writes meta/server.json.
type Repository struct {
	store storage.Backend
	mu    sync.Mutex
}

// NewRepository binds the repository to store.
func NewRepository(store storage.Backend) *Repository {
	return &Repository{store: store}
}

// Get returns the stored record, or nil when none exists.
func (r *Repository) Get(ctx context.Context) (*release.ServerMeta, error) {
	meta, err := storage.GetJSON[release.ServerMeta](ctx, r.store, release.ServerKey)
	if err != nil {
		return nil, fmt.Errorf("read server meta: %w", err)
	}

	return meta, nil
}

// Update applies mutate to the stored record, creating it at now when absent.
func (r *Repository) Update(
	ctx context.Context,
	now time.Time,
	mutate func(*release.ServerMeta),
) (*release.ServerMeta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	meta, err := r.Get(ctx)
	if err != nil {
		return nil, err
	}

	if meta == nil {
		meta = &release.ServerMeta{CreatedAt: release.FormatTimestamp(now)}
	}

	mutate(meta)

	if err = storage.PutJSON(ctx, r.store, release.ServerKey, meta); err != nil {
		return nil, fmt.Errorf("write server meta: %w", err)
	}

	return meta, nil
}
