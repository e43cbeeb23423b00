// Package todo implements loading and mutating shared todo lists on top of
// the key-value store.
package todo

import "github.com/sharedo/sharedo/internal/store"

func listPrefix(listID string) store.Key {
	return store.Key{"todolist", listID}
}

func itemKey(listID, itemID string) store.Key {
	return store.Key{"todolist", listID, itemID}
}

// NotifyKey is the list's notification key. It is written to solely to wake
// watchers and carries no payload.
func NotifyKey(listID string) store.Key {
	return store.Key{"list_updated", listID}
}
