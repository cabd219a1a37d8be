// Package favorites keeps a user's favorite set in memory and applies
// toggles optimistically before the backing store confirms them.
package favorites

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"wikiportal/api/internal/store"
)

// ErrInvalidKey is returned when a key names neither or both targets.
var ErrInvalidKey = errors.New("favorite key must name exactly one of entry id or department id")

// Backend persists favorites. store.PostgresStore satisfies it.
type Backend interface {
	ListFavorites(ctx context.Context, userID string) ([]store.Favorite, error)
	UpsertFavorite(ctx context.Context, item store.Favorite) (store.Favorite, error)
	DeleteFavorite(ctx context.Context, favoriteID string) error
}

// Key addresses a favorite target. Exactly one field is set.
type Key struct {
	EntryID      string `json:"entryId,omitempty"`
	DepartmentID string `json:"departmentId,omitempty"`
}

func (k Key) Validate() error {
	if (k.EntryID == "") == (k.DepartmentID == "") {
		return ErrInvalidKey
	}
	return nil
}

func (k Key) matches(item store.Favorite) bool {
	if k.EntryID != "" {
		return item.EntryID != nil && *item.EntryID == k.EntryID
	}
	return item.DepartmentID != nil && *item.DepartmentID == k.DepartmentID
}

// Overlay is one user's favorite set.
type Overlay struct {
	userID  string
	backend Backend
	newID   func() string
	now     func() time.Time

	mu    sync.Mutex
	items []store.Favorite
}

func NewOverlay(userID string, backend Backend) *Overlay {
	return &Overlay{
		userID:  userID,
		backend: backend,
		newID:   uuid.NewString,
		now:     time.Now,
	}
}

// Load replaces the local set with the backend's.
func (o *Overlay) Load(ctx context.Context) error {
	items, err := o.backend.ListFavorites(ctx, o.userID)
	if err != nil {
		return fmt.Errorf("load favorites: %w", err)
	}
	o.mu.Lock()
	o.items = append([]store.Favorite(nil), items...)
	o.mu.Unlock()
	return nil
}

// IsFavorite reports membership in the local set, including unconfirmed
// changes. An invalid key is never a favorite.
func (o *Overlay) IsFavorite(key Key) bool {
	if key.Validate() != nil {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.indexOf(key) >= 0
}

// Items returns a copy of the local set.
func (o *Overlay) Items() []store.Favorite {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]store.Favorite(nil), o.items...)
}

// Toggle flips the membership of key. The local set changes before the
// backend is called; if the backend fails the change is rolled back and the
// error returned. The result is the membership after a successful toggle.
func (o *Overlay) Toggle(ctx context.Context, key Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}

	o.mu.Lock()
	cmd := o.command(key)
	cmd.apply()
	o.mu.Unlock()

	if err := cmd.commit(ctx); err != nil {
		o.mu.Lock()
		cmd.rollback()
		o.mu.Unlock()
		return !cmd.adding, fmt.Errorf("toggle favorite: %w", err)
	}
	return cmd.adding, nil
}

func (o *Overlay) indexOf(key Key) int {
	for i, item := range o.items {
		if key.matches(item) {
			return i
		}
	}
	return -1
}

func (o *Overlay) indexOfID(id string) int {
	for i, item := range o.items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

func (o *Overlay) removeAt(i int) {
	o.items = append(o.items[:i:i], o.items[i+1:]...)
}
