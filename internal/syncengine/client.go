package syncengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sharedo/sharedo/internal/models"
	"github.com/sharedo/sharedo/internal/store"
)

// Client talks to one sync server. The underlying http.Client must have no
// Timeout: chunk POSTs retry indefinitely by design and the event stream
// stays open forever.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

// NewListID requests the collection root and returns the list id the server
// redirects to.
func (c *Client) NewListID(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return "", err
	}
	noFollow := &http.Client{
		Transport: c.httpClient.Transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := noFollow.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		return "", fmt.Errorf("unexpected status %d creating list", resp.StatusCode)
	}
	location := resp.Header.Get("Location")
	listID := strings.TrimPrefix(location, "/")
	if listID == "" {
		return "", fmt.Errorf("missing list id in redirect %q", location)
	}
	return listID, nil
}

// FetchList reads the list once at the given consistency. It also reports
// the server's load latency header, for display only.
func (c *Client) FetchList(ctx context.Context, listID string, consistency store.Consistency) (models.TodoList, string, error) {
	url := fmt.Sprintf("%s/%s?consistency=%s", c.baseURL, listID, consistency)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.TodoList{}, "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.TodoList{}, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.TodoList{}, "", fmt.Errorf("unexpected status %d fetching list", resp.StatusCode)
	}
	var list models.TodoList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return models.TodoList{}, "", err
	}
	return list, resp.Header.Get("X-List-Load-Time"), nil
}

// PostMutations sends one chunk of mutations. Any transport failure or
// non-2xx status is an error; the caller retries.
func (c *Client) PostMutations(ctx context.Context, listID string, mutations []models.Mutation) error {
	body, err := json.Marshal(mutations)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+listID, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d posting mutations", resp.StatusCode)
	}
	return nil
}

// Subscribe opens the server's push channel for a list.
func (c *Client) Subscribe(ctx context.Context, listID string) (*EventStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+listID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d subscribing", resp.StatusCode)
	}
	return newEventStream(resp), nil
}
