package favorites

import (
	"context"

	"wikiportal/api/internal/store"
)

// toggleCommand pairs a local transition with its inverse. apply and
// rollback run under the overlay lock; commit talks to the backend without it.
type toggleCommand struct {
	adding   bool
	apply    func()
	rollback func()
	commit   func(ctx context.Context) error
}

// command must be called with o.mu held.
func (o *Overlay) command(key Key) toggleCommand {
	if i := o.indexOf(key); i >= 0 {
		return o.removeCommand(key, o.items[i])
	}
	return o.addCommand(key)
}

func (o *Overlay) removeCommand(key Key, existing store.Favorite) toggleCommand {
	return toggleCommand{
		adding: false,
		apply: func() {
			if i := o.indexOfID(existing.ID); i >= 0 {
				o.removeAt(i)
			}
		},
		rollback: func() {
			if o.indexOf(key) < 0 {
				o.items = append(o.items, existing)
			}
		},
		commit: func(ctx context.Context) error {
			return o.backend.DeleteFavorite(ctx, existing.ID)
		},
	}
}

func (o *Overlay) addCommand(key Key) toggleCommand {
	placeholder := store.Favorite{
		ID:        o.newID(),
		UserID:    o.userID,
		CreatedAt: o.now().UTC(),
	}
	if key.EntryID != "" {
		entryID := key.EntryID
		placeholder.EntryID = &entryID
	} else {
		departmentID := key.DepartmentID
		placeholder.DepartmentID = &departmentID
	}

	return toggleCommand{
		adding: true,
		apply: func() {
			o.items = append(o.items, placeholder)
		},
		rollback: func() {
			if i := o.indexOfID(placeholder.ID); i >= 0 {
				o.removeAt(i)
			}
		},
		commit: func(ctx context.Context) error {
			saved, err := o.backend.UpsertFavorite(ctx, placeholder)
			if err != nil {
				return err
			}
			o.mu.Lock()
			// the placeholder may already be gone if a later toggle removed it
			if i := o.indexOfID(placeholder.ID); i >= 0 {
				o.items[i] = saved
			}
			o.mu.Unlock()
			return nil
		},
	}
}
