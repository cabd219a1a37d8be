package favorites

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultRegistrySize   = 1024
	DefaultRegistryMaxAge = time.Minute
)

// RegistryOptions bounds the overlay cache. Zero values pick the defaults.
type RegistryOptions struct {
	Size   int
	MaxAge time.Duration
}

// Registry hands out one loaded Overlay per user. At most Size overlays are
// kept; the least recently used is evicted first, and an overlay older than
// MaxAge is reloaded from the backend on next use.
type Registry struct {
	backend Backend

	mu       sync.Mutex
	overlays *expirable.LRU[string, *Overlay]
}

func NewRegistry(backend Backend, opts RegistryOptions) *Registry {
	if opts.Size <= 0 {
		opts.Size = DefaultRegistrySize
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultRegistryMaxAge
	}
	return &Registry{
		backend:  backend,
		overlays: expirable.NewLRU[string, *Overlay](opts.Size, nil, opts.MaxAge),
	}
}

// For returns the user's overlay, loading it from the backend when it is not
// cached. A failed load is not remembered.
func (r *Registry) For(ctx context.Context, userID string) (*Overlay, error) {
	if overlay, ok := r.overlays.Get(userID); ok {
		return overlay, nil
	}

	overlay := NewOverlay(userID, r.backend)
	if err := overlay.Load(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.overlays.Get(userID); ok {
		return existing, nil
	}
	r.overlays.Add(userID, overlay)
	return overlay, nil
}

// Forget drops a cached overlay so the next call reloads it.
func (r *Registry) Forget(userID string) {
	r.overlays.Remove(userID)
}

// Len reports how many overlays are cached.
func (r *Registry) Len() int {
	return r.overlays.Len()
}
