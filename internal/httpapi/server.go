// Package httpapi exposes shared todo lists over HTTP: JSON reads, mutation
// writes, and a server-sent-events stream that pushes whole-list snapshots.
package httpapi

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sharedo/sharedo/internal/store"
	"github.com/sharedo/sharedo/internal/todo"
)

const maxBodyBytes = 1 << 20

type Server struct {
	store     store.Store
	loader    *todo.Loader
	applier   *todo.Applier
	validator *todo.MutationValidator
}

func NewServer(st store.Store) (*Server, error) {
	validator, err := todo.NewMutationValidator()
	if err != nil {
		return nil, err
	}
	return &Server{
		store:     st,
		loader:    todo.NewLoader(st),
		applier:   todo.NewApplier(st),
		validator: validator,
	}, nil
}

func (s *Server) Register(r chi.Router) {
	r.Get("/", s.handleNewList)
	r.Get("/{listID}", s.handleGetList)
	r.Post("/{listID}", s.handleWriteItems)
}

// handleNewList mints a fresh short URL-safe list id and redirects to it.
// Any holder of the resulting address may edit the list.
func (s *Server) handleNewList(w http.ResponseWriter, r *http.Request) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		log.Printf("failed to generate list id: %v", err)
		http.Error(w, "failed to create list", http.StatusInternalServerError)
		return
	}
	listID := base64.RawURLEncoding.EncodeToString(buf)
	http.Redirect(w, r, "/"+listID, http.StatusFound)
}

func (s *Server) handleGetList(w http.ResponseWriter, r *http.Request) {
	listID := chi.URLParam(r, "listID")
	if r.Header.Get("Accept") == "text/event-stream" {
		s.streamList(w, r, listID)
		return
	}

	consistency := store.ParseConsistency(r.URL.Query().Get("consistency"))
	start := time.Now()
	data, err := s.loader.LoadList(r.Context(), listID, consistency)
	if err != nil {
		log.Printf("failed to load list %s: %v", listID, err)
		http.Error(w, "failed to load list", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-List-Load-Time", strconv.FormatInt(time.Since(start).Milliseconds(), 10))
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to write list %s: %v", listID, err)
	}
}

// streamList runs the change notifier for one client connection. It watches
// the list's notification key and, on every signal, pushes a strongly-read
// whole-list snapshot as one SSE event. The server never closes the stream
// on its own; the watch subscription is released when the client goes away.
func (s *Server) streamList(w http.ResponseWriter, r *http.Request, listID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ctx := r.Context()

	sub, err := s.store.Watch(ctx, todo.NotifyKey(listID))
	if err != nil {
		log.Printf("failed to watch list %s: %v", listID, err)
		http.Error(w, "failed to subscribe", http.StatusInternalServerError)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log.Printf("opened stream for list %s remote %s", listID, r.RemoteAddr)
	defer log.Printf("closed stream for list %s remote %s", listID, r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			return
		case _, open := <-sub.Signals():
			if !open {
				if err := sub.Err(); err != nil {
					log.Printf("watch subscription for list %s broken: %v", listID, err)
				}
				return
			}
			data, err := s.loader.LoadList(ctx, listID, store.Strong)
			if err != nil {
				// Transient read failure: stay subscribed, wait for the
				// next signal.
				log.Printf("error refreshing list %s: %v", listID, err)
				continue
			}
			payload, err := json.Marshal(data)
			if err != nil {
				log.Printf("error encoding list %s: %v", listID, err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleWriteItems(w http.ResponseWriter, r *http.Request) {
	listID := chi.URLParam(r, "listID")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	mutations, err := s.validator.Parse(body)
	if err != nil {
		if errors.Is(err, todo.ErrInvalidPayload) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "failed to parse body", http.StatusBadRequest)
		return
	}
	if err := s.applier.WriteItems(r.Context(), listID, mutations); err != nil {
		log.Printf("failed to write items to list %s: %v", listID, err)
		http.Error(w, "failed to write items", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write([]byte(`{"ok":true}` + "\n")); err != nil {
		log.Printf("failed to write ack for list %s: %v", listID, err)
	}
}
