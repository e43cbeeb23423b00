package syncengine

import (
	"sync"

	"github.com/sharedo/sharedo/internal/models"
)

// Buffer holds not-yet-flushed local mutations keyed by item id. The flush
// loop takes them with a single atomic swap, so an edit enqueued while a
// flush is in flight lands in the next iteration's batch, never dropped and
// never sent twice in one iteration.
type Buffer struct {
	mu      sync.Mutex
	pending map[string]models.LocalMutation
}

func NewBuffer() *Buffer {
	return &Buffer{pending: make(map[string]models.LocalMutation)}
}

// Set records a pending mutation, overwriting any unflushed one for the
// same id (last-writer-wins locally).
func (b *Buffer) Set(id string, m models.LocalMutation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[id] = m
}

// Swap returns the whole pending map and leaves the buffer empty.
func (b *Buffer) Swap() map[string]models.LocalMutation {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending
	b.pending = make(map[string]models.LocalMutation)
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
