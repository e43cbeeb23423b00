package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharedo/sharedo/internal/models"
)

func TestFlushOnce_SplitsPendingIntoChunks(t *testing.T) {
	var mu sync.Mutex
	var batches [][]models.Mutation
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var mutations []models.Mutation
		require.NoError(t, json.NewDecoder(r.Body).Decode(&mutations))
		mu.Lock()
		batches = append(batches, mutations)
		mu.Unlock()
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	recorder := &sleepRecorder{}
	e := NewEngine(NewClient(server.URL, nil), "mylist", Options{Sleep: recorder.sleep})
	for i := 0; i < 25; i++ {
		text := fmt.Sprintf("item %02d", i)
		e.Save(fmt.Sprintf("%02d-id", i), &text, false)
	}

	require.NoError(t, e.flushOnce(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 10)
	assert.Len(t, batches[1], 10)
	assert.Len(t, batches[2], 5)

	var ids []string
	for _, batch := range batches {
		for _, m := range batch {
			ids = append(ids, m.ID)
		}
	}
	require.Len(t, ids, 25)
	assert.IsNonDecreasing(t, ids, "chunks must carry older edits first")
}

func TestFlushOnce_BusyUntilSnapshotConfirms(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	recorder := &sleepRecorder{}
	e := NewEngine(NewClient(server.URL, nil), "mylist", Options{Sleep: recorder.sleep})
	assert.False(t, e.Busy())

	text := "Buy milk"
	e.Save("a", &text, false)
	assert.True(t, e.Busy(), "an unflushed edit makes the engine busy")

	require.NoError(t, e.flushOnce(context.Background()))
	assert.True(t, e.Busy(), "flushed but unconfirmed edits keep the engine busy")

	e.applySnapshot(models.TodoList{})
	assert.False(t, e.Busy(), "a server snapshot confirms the round trip")
}

func TestFlushOnce_NothingPendingMakesNoRequest(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	recorder := &sleepRecorder{}
	e := NewEngine(NewClient(server.URL, nil), "mylist", Options{Sleep: recorder.sleep})

	require.NoError(t, e.flushOnce(context.Background()))
	assert.Zero(t, requests)
	assert.False(t, e.Busy())
}

func TestFlushOnce_RetriesFailedChunkUntilDelivered(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	var delivered []models.Mutation
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts <= 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&delivered))
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	recorder := &sleepRecorder{}
	e := NewEngine(NewClient(server.URL, nil), "mylist", Options{
		Sleep:      recorder.sleep,
		RetryDelay: time.Second,
	})
	text := "keep me"
	e.Save("a", &text, false)

	require.NoError(t, e.flushOnce(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 4, attempts)
	require.Len(t, delivered, 1)
	assert.Equal(t, "a", delivered[0].ID, "a failed chunk must survive until delivery")
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, recorder.delays)
}

func TestEngine_EditDuringFlushGoesToNextFlush(t *testing.T) {
	var e *Engine
	var mu sync.Mutex
	var batches [][]models.Mutation
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var mutations []models.Mutation
		require.NoError(t, json.NewDecoder(r.Body).Decode(&mutations))
		mu.Lock()
		batches = append(batches, mutations)
		first := len(batches) == 1
		mu.Unlock()
		if first {
			// Simulates the user typing while the chunk is in flight.
			text := "late edit"
			e.Save("b", &text, false)
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	recorder := &sleepRecorder{}
	e = NewEngine(NewClient(server.URL, nil), "mylist", Options{Sleep: recorder.sleep})
	text := "first"
	e.Save("a", &text, false)

	require.NoError(t, e.flushOnce(context.Background()))
	require.NoError(t, e.flushOnce(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 2)
	require.Len(t, batches[0], 1)
	require.Len(t, batches[1], 1)
	assert.Equal(t, "a", batches[0][0].ID)
	assert.Equal(t, "b", batches[1][0].ID, "an edit made mid-flight must ship in the next iteration, not be lost")
}

func TestReceiveOnce_AppliesPushedSnapshots(t *testing.T) {
	first := `{"items":[]}`
	second := `{"items":[{"id":"x","versionstamp":"00000000000000000001","text":"Buy milk","completed":false,"createdAt":1,"updatedAt":1}]}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", first)
		fmt.Fprintf(w, "data: %s\n\n", second)
	}))
	defer server.Close()

	recorder := &sleepRecorder{}
	e := NewEngine(NewClient(server.URL, nil), "mylist", Options{Sleep: recorder.sleep})
	e.setDirty(true)

	err := e.receiveOnce(context.Background())
	assert.Error(t, err, "stream end surfaces as an error for the reconnect loop")

	list := e.Data()
	require.Len(t, list.Items, 1)
	assert.Equal(t, "Buy milk", list.Items[0].Text)
	assert.False(t, e.Busy(), "a snapshot clears the in-flight flag")

	// Two snapshots coalesce; the consumer sees only the latest.
	select {
	case got := <-e.Updates():
		require.Len(t, got.Items, 1)
		assert.Equal(t, "x", got.Items[0].ID)
	default:
		t.Fatal("expected a pending update")
	}
	select {
	case <-e.Updates():
		t.Fatal("stale snapshot should have been dropped")
	default:
	}
}

func TestReceiveOnce_LargeSnapshot(t *testing.T) {
	// Snapshots carry the whole list, so a single event can run to many
	// megabytes and must still be delivered in one piece.
	big := models.TodoList{Items: []models.TodoListItem{{
		ID:        "big",
		Text:      strings.Repeat("a", 2<<20),
		CreatedAt: 1,
		UpdatedAt: 1,
	}}}
	payload, err := json.Marshal(big)
	require.NoError(t, err)
	require.Greater(t, len(payload), 1<<20)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", payload)
	}))
	defer server.Close()

	recorder := &sleepRecorder{}
	e := NewEngine(NewClient(server.URL, nil), "mylist", Options{Sleep: recorder.sleep})

	assert.Error(t, e.receiveOnce(context.Background()))

	list := e.Data()
	require.Len(t, list.Items, 1)
	assert.Len(t, list.Items[0].Text, 2<<20)
}

func TestReceiveOnce_SubscribeFailureReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	recorder := &sleepRecorder{}
	e := NewEngine(NewClient(server.URL, nil), "mylist", Options{Sleep: recorder.sleep})
	assert.Error(t, e.receiveOnce(context.Background()))
}

func TestReconnectDelay_WithinJitterWindow(t *testing.T) {
	e := NewEngine(NewClient("http://127.0.0.1:1", nil), "mylist", Options{
		ReconnectBase:   10 * time.Second,
		ReconnectJitter: 5 * time.Second,
	})

	e.rng = func() float64 { return 0 }
	assert.Equal(t, 10*time.Second, e.reconnectDelay())

	e.rng = func() float64 { return 0.5 }
	assert.Equal(t, 12500*time.Millisecond, e.reconnectDelay())

	e.rng = func() float64 { return 0.999 }
	delay := e.reconnectDelay()
	assert.Less(t, delay, 15*time.Second)
	assert.GreaterOrEqual(t, delay, 10*time.Second)
}
