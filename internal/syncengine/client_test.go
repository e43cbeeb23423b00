package syncengine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharedo/sharedo/internal/store"
)

func TestClient_NewListID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/", r.URL.Path)
		http.Redirect(w, r, "/fresh-list", http.StatusFound)
	}))
	defer server.Close()

	c := NewClient(server.URL, nil)
	listID, err := c.NewListID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-list", listID)
}

func TestClient_FetchList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mylist", r.URL.Path)
		assert.Equal(t, "strong", r.URL.Query().Get("consistency"))
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-List-Load-Time", "3ms")
		fmt.Fprint(w, `{"items":[{"id":"a","text":"Buy milk","completed":true,"createdAt":1,"updatedAt":2}]}`)
	}))
	defer server.Close()

	c := NewClient(server.URL, nil)
	list, loadTime, err := c.FetchList(context.Background(), "mylist", store.Strong)
	require.NoError(t, err)
	assert.Equal(t, "3ms", loadTime)
	require.Len(t, list.Items, 1)
	assert.True(t, list.Items[0].Completed)
}

func TestClient_FetchListServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(server.URL, nil)
	_, _, err := c.FetchList(context.Background(), "mylist", store.Eventual)
	assert.Error(t, err)
}
