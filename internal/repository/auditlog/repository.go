package auditlog

import (
	"context"
	"fmt"
	"sync"

	"github.com/oshokin/release-server/internal/domain/audit"
	"github.com/oshokin/release-server/internal/domain/release"
	"github.com/oshokin/release-server/internal/storage"
)

// Repository stores audit entries as one JSON array.
type Repository struct {
	store storage.Backend
	// limit caps the number of retained entries.
	limit int
	mu    sync.Mutex
}

// NewRepository returns a repository retaining audit.MaxEntries entries.
func NewRepository(store storage.Backend) *Repository {
	return &Repository{
		store: store,
		limit: audit.MaxEntries,
	}
}

// Append prepends entry and trims the log to its cap.
func (r *Repository) Append(ctx context.Context, entry audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.List(ctx)
	if err != nil {
		return err
	}

	entries = audit.Prepend(entries, entry, r.limit)

	if err = storage.PutJSON(ctx, r.store, release.AuditKey, entries); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}

	return nil
}

// List returns every retained entry, most recent first.
func (r *Repository) List(ctx context.Context) ([]audit.Entry, error) {
	entries, err := storage.GetJSON[[]audit.Entry](ctx, r.store, release.AuditKey)
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	if entries == nil {
		return []audit.Entry{}, nil
	}

	return *entries, nil
}

// Page returns one window of the log.
func (r *Repository) Page(ctx context.Context, limit, offset int) (audit.Page, error) {
	entries, err := r.List(ctx)
	if err != nil {
		return audit.Page{}, err
	}

	return audit.Paginate(entries, limit, offset), nil
}
