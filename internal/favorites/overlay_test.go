package favorites

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikiportal/api/internal/store"
)

type fakeBackend struct {
	mu       sync.Mutex
	rows     map[string]store.Favorite
	listFn   func(ctx context.Context, userID string) ([]store.Favorite, error)
	upsertFn func(ctx context.Context, item store.Favorite) (store.Favorite, error)
	deleteFn func(ctx context.Context, id string) error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{rows: map[string]store.Favorite{}}
}

func (f *fakeBackend) ListFavorites(ctx context.Context, userID string) ([]store.Favorite, error) {
	if f.listFn != nil {
		return f.listFn(ctx, userID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Favorite{}
	for _, row := range f.rows {
		if row.UserID == userID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeBackend) UpsertFavorite(ctx context.Context, item store.Favorite) (store.Favorite, error) {
	if f.upsertFn != nil {
		return f.upsertFn(ctx, item)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	item.ID = "srv-" + item.ID
	f.rows[item.ID] = item
	return item, nil
}

func (f *fakeBackend) DeleteFavorite(ctx context.Context, id string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	return nil
}

func TestKeyValidate(t *testing.T) {
	assert.NoError(t, Key{EntryID: "e1"}.Validate())
	assert.NoError(t, Key{DepartmentID: "d1"}.Validate())
	assert.ErrorIs(t, Key{}.Validate(), ErrInvalidKey)
	assert.ErrorIs(t, Key{EntryID: "e1", DepartmentID: "d1"}.Validate(), ErrInvalidKey)
}

func TestToggleTwiceRestoresMembership(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	overlay := NewOverlay("u1", backend)
	key := Key{EntryID: "X"}

	require.False(t, overlay.IsFavorite(key))

	on, err := overlay.Toggle(ctx, key)
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, overlay.IsFavorite(key))

	items := overlay.Items()
	require.Len(t, items, 1)
	assert.Contains(t, items[0].ID, "srv-", "placeholder replaced by confirmed record")

	on, err = overlay.Toggle(ctx, key)
	require.NoError(t, err)
	assert.False(t, on)
	assert.False(t, overlay.IsFavorite(key))
	assert.Empty(t, backend.rows)
}

func TestToggleIsVisibleBeforeBackendConfirms(t *testing.T) {
	backend := newFakeBackend()
	started := make(chan struct{})
	release := make(chan struct{})
	backend.upsertFn = func(ctx context.Context, item store.Favorite) (store.Favorite, error) {
		close(started)
		<-release
		return item, nil
	}
	overlay := NewOverlay("u1", backend)
	key := Key{DepartmentID: "d1"}

	done := make(chan error, 1)
	go func() {
		_, err := overlay.Toggle(context.Background(), key)
		done <- err
	}()

	<-started
	assert.True(t, overlay.IsFavorite(key))
	assert.False(t, overlay.IsFavorite(Key{EntryID: "d1"}))
	close(release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Toggle() did not return")
	}
	assert.True(t, overlay.IsFavorite(key))
}

func TestToggleRollsBackOnBackendFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("db down")
	backend := newFakeBackend()
	overlay := NewOverlay("u1", backend)
	key := Key{EntryID: "X"}

	backend.upsertFn = func(context.Context, store.Favorite) (store.Favorite, error) {
		return store.Favorite{}, boom
	}
	on, err := overlay.Toggle(ctx, key)
	require.ErrorIs(t, err, boom)
	assert.False(t, on)
	assert.False(t, overlay.IsFavorite(key))
	assert.Empty(t, overlay.Items())

	backend.upsertFn = nil
	_, err = overlay.Toggle(ctx, key)
	require.NoError(t, err)

	backend.deleteFn = func(context.Context, string) error { return boom }
	on, err = overlay.Toggle(ctx, key)
	require.ErrorIs(t, err, boom)
	assert.True(t, on)
	assert.True(t, overlay.IsFavorite(key))
	assert.Len(t, overlay.Items(), 1)
}

func TestToggleRejectsInvalidKey(t *testing.T) {
	backend := newFakeBackend()
	backend.upsertFn = func(context.Context, store.Favorite) (store.Favorite, error) {
		t.Fatal("backend must not be called")
		return store.Favorite{}, nil
	}
	overlay := NewOverlay("u1", backend)

	_, err := overlay.Toggle(context.Background(), Key{})
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.False(t, overlay.IsFavorite(Key{}))
}

func TestPlaceholderCarriesClientID(t *testing.T) {
	backend := newFakeBackend()
	var seen store.Favorite
	backend.upsertFn = func(_ context.Context, item store.Favorite) (store.Favorite, error) {
		seen = item
		return item, nil
	}
	overlay := NewOverlay("u1", backend)
	overlay.newID = func() string { return "fixed-id" }

	_, err := overlay.Toggle(context.Background(), Key{EntryID: "e9"})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", seen.ID)
	assert.Equal(t, "u1", seen.UserID)
	require.NotNil(t, seen.EntryID)
	assert.Equal(t, "e9", *seen.EntryID)
	assert.Nil(t, seen.DepartmentID)
}

func TestRegistryLoadsOncePerUser(t *testing.T) {
	backend := newFakeBackend()
	entry := "e1"
	backend.rows["f1"] = store.Favorite{ID: "f1", UserID: "u1", EntryID: &entry}
	calls := 0
	backend.listFn = func(ctx context.Context, userID string) ([]store.Favorite, error) {
		calls++
		backend.listFn = nil
		return backend.ListFavorites(ctx, userID)
	}
	registry := NewRegistry(backend, RegistryOptions{})

	first, err := registry.For(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, first.IsFavorite(Key{EntryID: "e1"}))

	second, err := registry.For(context.Background(), "u1")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)

	registry.Forget("u1")
	third, err := registry.For(context.Background(), "u1")
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestRegistryDoesNotCacheFailedLoad(t *testing.T) {
	backend := newFakeBackend()
	backend.listFn = func(context.Context, string) ([]store.Favorite, error) {
		return nil, errors.New("unavailable")
	}
	registry := NewRegistry(backend, RegistryOptions{})

	_, err := registry.For(context.Background(), "u1")
	require.Error(t, err)

	backend.listFn = nil
	overlay, err := registry.For(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, overlay.Items())
}

func TestRegistryEvictsLeastRecentlyUsed(t *testing.T) {
	backend := newFakeBackend()
	loads := map[string]int{}
	backend.listFn = func(_ context.Context, userID string) ([]store.Favorite, error) {
		loads[userID]++
		return nil, nil
	}
	registry := NewRegistry(backend, RegistryOptions{Size: 2})
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		_, err := registry.For(ctx, fmt.Sprintf("user-%d", i))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, registry.Len())

	_, err := registry.For(ctx, "user-99")
	require.NoError(t, err)
	assert.Equal(t, 1, loads["user-99"])

	_, err = registry.For(ctx, "user-0")
	require.NoError(t, err)
	assert.Equal(t, 2, loads["user-0"])
	assert.Equal(t, 2, registry.Len())
}

func TestRegistryReloadsAfterMaxAge(t *testing.T) {
	backend := newFakeBackend()
	entry := "e1"
	registry := NewRegistry(backend, RegistryOptions{MaxAge: 20 * time.Millisecond})
	ctx := context.Background()

	first, err := registry.For(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, first.IsFavorite(Key{EntryID: "e1"}))

	backend.mu.Lock()
	backend.rows["f1"] = store.Favorite{ID: "f1", UserID: "u1", EntryID: &entry}
	backend.mu.Unlock()

	require.Eventually(t, func() bool {
		overlay, err := registry.For(ctx, "u1")
		return err == nil && overlay.IsFavorite(Key{EntryID: "e1"})
	}, time.Second, 10*time.Millisecond)
}
