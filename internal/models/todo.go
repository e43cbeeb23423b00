package models

// TodoList is the full state of one shared list. Item order follows store
// iteration order over the list's key range; item ids start with a millisecond
// timestamp, so this is roughly creation order.
type TodoList struct {
	Items []TodoListItem `json:"items"`
}

type TodoListItem struct {
	// ID is assigned by the creating client and is immutable afterwards.
	ID string `json:"id,omitempty"`

	// Versionstamp is an opaque ordering token assigned by the store on every
	// write. Clients use it only for identity/cache-busting, never for
	// conflict detection.
	Versionstamp string `json:"versionstamp,omitempty"`

	Text      string `json:"text"`
	Completed bool   `json:"completed"`

	// Milliseconds since epoch. CreatedAt is fixed at creation, UpdatedAt is
	// refreshed by the write applier on every successful mutation.
	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

// Mutation is the wire unit sent client to server. A nil Text deletes the
// item; Completed is ignored on delete.
type Mutation struct {
	ID        string  `json:"id"`
	Text      *string `json:"text"`
	Completed bool    `json:"completed"`
}

// LocalMutation is a client-side pending edit, keyed by item id in the sync
// engine's buffer. At most one is pending per id; a newer local edit
// overwrites an older unflushed one.
type LocalMutation struct {
	Text      *string
	Completed bool
}
