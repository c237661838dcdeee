package stats

import (
	"context"
	"fmt"
	"sync"

	"github.com/oshokin/release-server/internal/domain/release"
	"github.com/oshokin/release-server/internal/storage"
)

// MaxRecords caps the persisted download log.
const MaxRecords = 10_000

// Repository stores download records as one JSON array, oldest first.
type Repository struct {
	store storage.Backend
	limit int
	mu    sync.Mutex
}

// NewRepository returns a repository retaining MaxRecords records.
func NewRepository(store storage.Backend) *Repository {
	return &Repository{
		store: store,
		limit: MaxRecords,
	}
}

// Append adds a record and keeps only the most recent ones.
func (r *Repository) Append(ctx context.Context, stat release.DownloadStat) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.List(ctx)
	if err != nil {
		return err
	}

	records = append(records, stat)
	if overflow := len(records) - r.limit; overflow > 0 {
		records = records[overflow:]
	}

	if err = storage.PutJSON(ctx, r.store, release.StatsKey, records); err != nil {
		return fmt.Errorf("write download stats: %w", err)
	}

	return nil
}

// List returns every retained record, oldest first.
func (r *Repository) List(ctx context.Context) ([]release.DownloadStat, error) {
	records, err := storage.GetJSON[[]release.DownloadStat](ctx, r.store, release.StatsKey)
	if err != nil {
		return nil, fmt.Errorf("read download stats: %w", err)
	}

	if records == nil {
		return []release.DownloadStat{}, nil
	}

	return *records, nil
}
