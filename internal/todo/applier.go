package todo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sharedo/sharedo/internal/models"
	"github.com/sharedo/sharedo/internal/store"
)

// Applier is the sole writer of record state.
type Applier struct {
	store store.Store
	now   func() time.Time
}

func NewApplier(st store.Store) *Applier {
	return &Applier{store: st, now: time.Now}
}

// WriteItems applies a batch of mutations in order, then bumps the list's
// notification key exactly once. There is no atomicity across items: a
// failure mid-batch leaves earlier mutations applied, and callers retry by
// resubmitting the whole batch (every mutation is idempotent). No
// versionstamp compare is done before overwrite; concurrent edits to the
// same item are last-write-wins at the store.
func (a *Applier) WriteItems(ctx context.Context, listID string, mutations []models.Mutation) error {
	for _, m := range mutations {
		if err := a.applyMutation(ctx, listID, m); err != nil {
			return err
		}
	}
	if _, err := a.store.Put(ctx, NotifyKey(listID), []byte("1")); err != nil {
		return fmt.Errorf("failed to bump notification key for list %s: %w", listID, err)
	}
	return nil
}

func (a *Applier) applyMutation(ctx context.Context, listID string, m models.Mutation) error {
	key := itemKey(listID, m.ID)

	if m.Text == nil {
		// Deleting an absent item is not an error.
		if err := a.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to delete item %s: %w", m.ID, err)
		}
		return nil
	}

	now := a.now().UnixMilli()
	item := models.TodoListItem{
		Text:      *m.Text,
		Completed: m.Completed,
		CreatedAt: now,
		UpdatedAt: now,
	}
	existing, err := a.store.Get(ctx, key, store.Strong)
	switch {
	case err == nil:
		var prev models.TodoListItem
		if jsonErr := json.Unmarshal(existing.Value, &prev); jsonErr == nil {
			item.CreatedAt = prev.CreatedAt
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		return fmt.Errorf("failed to read item %s: %w", m.ID, err)
	}

	value, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode item %s: %w", m.ID, err)
	}
	if _, err := a.store.Put(ctx, key, value); err != nil {
		return fmt.Errorf("failed to write item %s: %w", m.ID, err)
	}
	return nil
}
