package store

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned by Get when no entry exists for the key.
	ErrNotFound = errors.New("not found")

	// ErrSubscriptionClosed is the terminal error of a watch subscription
	// whose underlying delivery channel was lost. Callers should resubscribe.
	ErrSubscriptionClosed = errors.New("watch subscription closed")
)

// Consistency selects how fresh a read must be.
type Consistency int

const (
	// Eventual reads may be served from a cache and can lag behind committed
	// writes by a bounded staleness window.
	Eventual Consistency = iota

	// Strong reads observe every write committed before the read started.
	Strong
)

func (c Consistency) String() string {
	if c == Strong {
		return "strong"
	}
	return "eventual"
}

// ParseConsistency maps the wire form to a level. Anything other than
// "strong" is eventual, matching the read endpoint's default.
func ParseConsistency(s string) Consistency {
	if s == "strong" {
		return Strong
	}
	return Eventual
}

// Key is a hierarchical key path, e.g. {"todolist", listID, itemID}.
// Parts must be URL-safe tokens; they are joined with "/" internally.
type Key []string

func (k Key) Encode() string {
	return strings.Join(k, "/")
}

func decodeKey(s string) Key {
	return Key(strings.Split(s, "/"))
}

// Entry is a stored record together with the versionstamp the store assigned
// on its last write.
type Entry struct {
	Key          Key
	Value        []byte
	Versionstamp string
}

// Subscription delivers wake-up signals for a set of watched keys. A signal
// is emitted at least once after each commit touching a watched key; rapid
// writes may coalesce into one signal. One signal is also delivered
// immediately on subscribe so a new watcher observes the current state.
//
// The signal channel closes when the subscription ends; Err reports why.
// A nil Err after close means the caller closed it.
type Subscription interface {
	Signals() <-chan struct{}
	Err() error
	Close() error
}

// Store is a watch-capable key-value store with tunable read consistency.
// Put and Delete commit synchronously; Put assigns a fresh, totally ordered
// versionstamp to the written record. Delete is idempotent.
type Store interface {
	Get(ctx context.Context, key Key, c Consistency) (Entry, error)
	List(ctx context.Context, prefix Key, c Consistency) ([]Entry, error)
	Put(ctx context.Context, key Key, value []byte) (string, error)
	Delete(ctx context.Context, key Key) error
	Watch(ctx context.Context, keys ...Key) (Subscription, error)
	Close() error
}
