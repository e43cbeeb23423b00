// Package syncengine is the client side of the sync protocol: a buffer of
// optimistic local mutations, a flush loop that ships them to the server in
// chunks with indefinite retry, and a push-receive loop that reconciles
// incoming whole-list snapshots.
package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sharedo/sharedo/internal/models"
)

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	// ChunkSize bounds the number of mutations per POST. Default 10.
	ChunkSize int

	// FlushIdle is the pause between flush iterations. Default 1s.
	FlushIdle time.Duration

	// RetryDelay is the fixed delay between attempts of a failed chunk
	// POST. Attempts are unbounded: losing an edit is worse than stalling.
	// Default 1s.
	RetryDelay time.Duration

	// ReconnectBase and ReconnectJitter shape the randomized delay before
	// reopening a broken push subscription. Defaults 10s and 5s.
	ReconnectBase   time.Duration
	ReconnectJitter time.Duration

	// Sleep is injected by tests; nil means real sleeping.
	Sleep SleepFunc

	Logger Logger
}

// Engine owns the local view of one list. The flush loop and the receive
// loop run concurrently but touch the mutation buffer only through its
// atomic swap.
type Engine struct {
	client *Client
	listID string
	buffer *Buffer

	chunkSize       int
	flushIdle       time.Duration
	retry           RetryPolicy
	reconnectBase   time.Duration
	reconnectJitter time.Duration
	sleep           SleepFunc
	rng             func() float64
	logger          Logger

	mu    sync.Mutex
	data  models.TodoList
	dirty bool

	updates chan models.TodoList
}

func NewEngine(client *Client, listID string, opts Options) *Engine {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 10
	}
	if opts.FlushIdle <= 0 {
		opts.FlushIdle = time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = 10 * time.Second
	}
	if opts.ReconnectJitter <= 0 {
		opts.ReconnectJitter = 5 * time.Second
	}
	if opts.Sleep == nil {
		opts.Sleep = Sleep
	}
	return &Engine{
		client:          client,
		listID:          listID,
		buffer:          NewBuffer(),
		chunkSize:       opts.ChunkSize,
		flushIdle:       opts.FlushIdle,
		retry:           RetryPolicy{Delay: opts.RetryDelay},
		reconnectBase:   opts.ReconnectBase,
		reconnectJitter: opts.ReconnectJitter,
		sleep:           opts.Sleep,
		rng:             rand.Float64,
		logger:          opts.Logger,
		updates:         make(chan models.TodoList, 1),
	}
}

// Run drives both loops until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.runFlushLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		e.runReceiveLoop(ctx)
	}()
	wg.Wait()
	return ctx.Err()
}

// NewItemID mints an item id. The millisecond prefix makes store key order
// track creation order.
func NewItemID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString())
}

// Add enqueues a new item and returns its id.
func (e *Engine) Add(text string) string {
	id := NewItemID()
	e.Save(id, &text, false)
	return id
}

// Save enqueues an edit for an item; nil text requests deletion. It only
// touches the buffer; the flush loop is the sole network writer.
func (e *Engine) Save(id string, text *string, completed bool) {
	e.buffer.Set(id, models.LocalMutation{Text: text, Completed: completed})
}

// Delete enqueues removal of an item.
func (e *Engine) Delete(id string) {
	e.Save(id, nil, false)
}

// Data returns the current visible list state.
func (e *Engine) Data() models.TodoList {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.data
}

// Busy reports whether local edits are unflushed or a flush is in flight.
// It goes false only after a server snapshot confirms the round trip.
func (e *Engine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dirty || e.buffer.Len() > 0
}

// Updates delivers reconciled snapshots, coalescing to the latest when the
// consumer lags.
func (e *Engine) Updates() <-chan models.TodoList {
	return e.updates
}

func (e *Engine) runFlushLoop(ctx context.Context) {
	for {
		if err := e.flushOnce(ctx); err != nil {
			return
		}
		if err := e.sleep(ctx, e.flushIdle); err != nil {
			return
		}
	}
}

// flushOnce swaps out the whole pending map and sends it in chunks. Each
// chunk retries until it succeeds; the only error flushOnce returns is
// context cancellation, so no enqueued mutation is ever abandoned.
func (e *Engine) flushOnce(ctx context.Context) error {
	pending := e.buffer.Swap()
	if len(pending) == 0 {
		return ctx.Err()
	}
	e.setDirty(true)

	mutations := make([]models.Mutation, 0, len(pending))
	for id, m := range pending {
		mutations = append(mutations, models.Mutation{ID: id, Text: m.Text, Completed: m.Completed})
	}
	// Item ids start with a timestamp, so this sends older edits first.
	sort.Slice(mutations, func(i, j int) bool { return mutations[i].ID < mutations[j].ID })

	for start := 0; start < len(mutations); start += e.chunkSize {
		end := start + e.chunkSize
		if end > len(mutations) {
			end = len(mutations)
		}
		chunk := mutations[start:end]
		err := e.retry.Do(ctx, e.sleep, func() error {
			postErr := e.client.PostMutations(ctx, e.listID, chunk)
			if postErr != nil {
				e.logf("failed to post %d mutations: %v", len(chunk), postErr)
			}
			return postErr
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) runReceiveLoop(ctx context.Context) {
	for {
		err := e.receiveOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		delay := e.reconnectDelay()
		e.logf("push channel for list %s lost: %v; reconnecting in %s", e.listID, err, delay)
		if err := e.sleep(ctx, delay); err != nil {
			return
		}
	}
}

func (e *Engine) receiveOnce(ctx context.Context) error {
	stream, err := e.client.Subscribe(ctx, e.listID)
	if err != nil {
		return err
	}
	defer stream.Close()
	for {
		payload, err := stream.Next()
		if err != nil {
			return err
		}
		var list models.TodoList
		if err := json.Unmarshal(payload, &list); err != nil {
			return fmt.Errorf("failed to decode snapshot: %w", err)
		}
		e.applySnapshot(list)
	}
}

// applySnapshot replaces the whole visible list: server state always wins,
// and a just-sent local edit reappears once the notifier round-trips it.
func (e *Engine) applySnapshot(list models.TodoList) {
	e.mu.Lock()
	e.data = list
	e.dirty = false
	e.mu.Unlock()

	select {
	case e.updates <- list:
	default:
		select {
		case <-e.updates:
		default:
		}
		select {
		case e.updates <- list:
		default:
		}
	}
}

func (e *Engine) reconnectDelay() time.Duration {
	return e.reconnectBase + time.Duration(e.rng()*float64(e.reconnectJitter))
}

func (e *Engine) setDirty(dirty bool) {
	e.mu.Lock()
	e.dirty = dirty
	e.mu.Unlock()
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger == nil {
		return
	}
	e.logger.Printf(format, args...)
}
