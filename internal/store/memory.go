package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process Store used for tests and local development.
// Strong and eventual reads are equivalent here: there is no replica to lag.
type Memory struct {
	mu       sync.Mutex
	entries  map[string]Entry
	stamp    uint64
	watchers map[*memorySub]struct{}
	closed   bool
}

func NewMemory() *Memory {
	return &Memory{
		entries:  make(map[string]Entry),
		watchers: make(map[*memorySub]struct{}),
	}
}

func (m *Memory) Get(ctx context.Context, key Key, _ Consistency) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key.Encode()]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (m *Memory) List(ctx context.Context, prefix Key, _ Consistency) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := prefix.Encode() + "/"
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for k, e := range m.entries {
		if len(k) > len(p) && k[:len(p)] == p {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.Encode() < out[j].Key.Encode()
	})
	return out, nil
}

func (m *Memory) Put(ctx context.Context, key Key, value []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stamp++
	stamp := fmt.Sprintf("%020d", m.stamp)
	stored := make([]byte, len(value))
	copy(stored, value)
	m.entries[key.Encode()] = Entry{Key: key, Value: stored, Versionstamp: stamp}
	m.notifyLocked(key)
	return stamp, nil
}

func (m *Memory) Delete(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key.Encode()]; !ok {
		return nil
	}
	delete(m.entries, key.Encode())
	m.notifyLocked(key)
	return nil
}

func (m *Memory) notifyLocked(key Key) {
	enc := key.Encode()
	for sub := range m.watchers {
		if _, ok := sub.keys[enc]; ok {
			sub.signal()
		}
	}
}

func (m *Memory) Watch(ctx context.Context, keys ...Key) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &memorySub{
		store:   m,
		keys:    make(map[string]struct{}, len(keys)),
		signals: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, k := range keys {
		sub.keys[k.Encode()] = struct{}{}
	}
	// Seed one signal so the subscriber sees the current state right away.
	sub.signals <- struct{}{}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrSubscriptionClosed
	}
	m.watchers[sub] = struct{}{}
	m.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.finish(ctx.Err())
		case <-sub.done:
		}
	}()
	return sub, nil
}

// WatcherCount reports active subscriptions. Tests use it to check that
// cancelled streams release their watch.
func (m *Memory) WatcherCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watchers)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	subs := make([]*memorySub, 0, len(m.watchers))
	for sub := range m.watchers {
		subs = append(subs, sub)
	}
	m.mu.Unlock()
	for _, sub := range subs {
		sub.finish(ErrSubscriptionClosed)
	}
	return nil
}

type memorySub struct {
	store   *Memory
	keys    map[string]struct{}
	signals chan struct{}
	done    chan struct{}

	mu     sync.Mutex
	closed bool
	err    error
}

func (s *memorySub) signal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.signals <- struct{}{}:
	default:
		// A signal is already pending; this write coalesces into it.
	}
}

func (s *memorySub) finish(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	s.mu.Unlock()

	s.store.mu.Lock()
	delete(s.store.watchers, s)
	s.store.mu.Unlock()

	close(s.signals)
	close(s.done)
}

func (s *memorySub) Signals() <-chan struct{} { return s.signals }

func (s *memorySub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if errors.Is(s.err, context.Canceled) {
		return nil
	}
	return s.err
}

func (s *memorySub) Close() error {
	s.finish(nil)
	return nil
}
