package todo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sharedo/sharedo/internal/models"
	"github.com/sharedo/sharedo/internal/store"
)

type Loader struct {
	store store.Store
}

func NewLoader(st store.Store) *Loader {
	return &Loader{store: st}
}

// LoadList fetches all items of a list at the requested consistency. An
// unknown list id yields an empty list, not an error.
func (l *Loader) LoadList(ctx context.Context, listID string, c store.Consistency) (models.TodoList, error) {
	entries, err := l.store.List(ctx, listPrefix(listID), c)
	if err != nil {
		return models.TodoList{}, fmt.Errorf("failed to load list %s: %w", listID, err)
	}
	items := make([]models.TodoListItem, 0, len(entries))
	for _, e := range entries {
		var item models.TodoListItem
		if err := json.Unmarshal(e.Value, &item); err != nil {
			return models.TodoList{}, fmt.Errorf("failed to decode item %s: %w", e.Key.Encode(), err)
		}
		item.ID = e.Key[len(e.Key)-1]
		item.Versionstamp = e.Versionstamp
		items = append(items, item)
	}
	return models.TodoList{Items: items}, nil
}
