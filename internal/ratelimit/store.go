package ratelimit

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Window is the state of one key after a hit.
type Window struct {
	// Count is the number of requests seen in the window, this one included.
	Count int
	// ResetAt is when the window expires.
	ResetAt time.Time
}

// Store counts hits per key in fixed windows.
type Store interface {
	// Hit records a request for key and returns the resulting window.
	// An absent or expired window is replaced by a fresh one of length window.
	Hit(ctx context.Context, key string, window time.Duration) (Window, error)
}

// MemoryStore keeps windows in process memory.
// Expired windows are ignored on read and dropped by Sweep.
type MemoryStore struct {
	cache *gocache.Cache
	now   func() time.Time
	mu    sync.Mutex
}

// NewMemoryStore returns an empty store. It runs no background goroutine;
// schedule Sweep to bound memory.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache: gocache.New(gocache.NoExpiration, 0),
		now:   time.Now,
	}
}

// Hit implements Store.
func (s *MemoryStore) Hit(_ context.Context, key string, window time.Duration) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	w, ok := s.lookup(key)
	if !ok || !now.Before(w.ResetAt) {
		w = Window{Count: 1, ResetAt: now.Add(window)}
	} else {
		w.Count++
	}

	s.cache.Set(key, w, w.ResetAt.Sub(now))

	return w, nil
}

// Sweep drops expired windows and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.cache.ItemCount()
	s.cache.DeleteExpired()

	return before - s.cache.ItemCount()
}

// Len returns the number of stored windows, expired ones included.
func (s *MemoryStore) Len() int {
	return s.cache.ItemCount()
}

func (s *MemoryStore) lookup(key string) (Window, bool) {
	item, ok := s.cache.Get(key)
	if !ok {
		return Window{}, false
	}

	w, ok := item.(Window)

	return w, ok
}
