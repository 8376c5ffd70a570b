// Package demo serves a handful of endpoints that exercise every part of the
// Server-Timing API: explicit start/end pairs, pre-computed metrics, timings
// left open until finalization, no-body statuses and streamed bodies.
package demo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/patrickmn/go-cache"

	"github.com/fosrl/servertiming/internal/servertiming"
)

// ErrNotFound is returned by a Loader for unknown items.
var ErrNotFound = errors.New("demo: item not found")

// Item is what /items/{id} returns.
type Item struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Loader fetches an item from the slow backing store.
type Loader func(ctx context.Context, id string) (Item, error)

// Server holds the demo handlers and their item cache.
type Server struct {
	items  *cache.Cache
	load   Loader
	logger *slog.Logger
}

// New creates a Server whose cache entries expire after ttl. A nil load uses
// SimulatedLoader with a 15ms delay.
func New(ttl, cleanupInterval time.Duration, load Loader, logger *slog.Logger) *Server {
	if load == nil {
		load = SimulatedLoader(15 * time.Millisecond)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		items:  cache.New(ttl, cleanupInterval),
		load:   load,
		logger: logger,
	}
}

// SimulatedLoader pretends to query a database that takes delay per lookup.
// The id "missing" is never found.
func SimulatedLoader(delay time.Duration) Loader {
	return func(ctx context.Context, id string) (Item, error) {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Item{}, ctx.Err()
		}
		if id == "missing" {
			return Item{}, ErrNotFound
		}
		return Item{ID: id, Name: "item-" + id, LoadedAt: time.Now().UTC()}, nil
	}
}

// CachedItems returns the number of items currently cached.
func (s *Server) CachedItems() int {
	return s.items.ItemCount()
}

// Router wires the demo endpoints behind mw.
func (s *Server) Router(mw func(http.Handler) http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(mux.MiddlewareFunc(mw))
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/items/{id}", s.handleItem).Methods(http.MethodGet)
	r.HandleFunc("/slow", s.handleSlow).Methods(http.MethodGet)
	r.HandleFunc("/empty", s.handleEmpty).Methods(http.MethodGet)
	r.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, "ok")
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	st := servertiming.FromContext(r.Context())
	id := mux.Vars(r)["id"]

	st.StartTime("cache", "Cache lookup")
	cached, found := s.items.Get(id)
	st.EndTime("cache")

	var item Item
	if found {
		item = cached.(Item)
	} else {
		done := st.Measure("db", "Database")
		loaded, err := s.load(r.Context(), id)
		done()
		switch {
		case errors.Is(err, ErrNotFound):
			http.Error(w, "not found", http.StatusNotFound)
			return
		case err != nil:
			s.logger.Error("demo: item load failed", slog.String("id", id), slog.String("error", err.Error()))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		s.items.Set(id, loaded, cache.DefaultExpiration)
		item = loaded
	}

	// Encode before writing: the first write finalizes the header.
	done := st.Measure("encode")
	body, err := json.Marshal(item)
	done()
	if err != nil {
		s.logger.Error("demo: encode failed", slog.String("id", id), slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(append(body, '\n'))
}

// handleSlow leaves its timing open; the middleware closes it at finalization.
func (s *Server) handleSlow(w http.ResponseWriter, r *http.Request) {
	st := servertiming.FromContext(r.Context())

	ms, err := strconv.Atoi(r.URL.Query().Get("ms"))
	if err != nil || ms < 0 {
		ms = 20
	}

	st.StartTime("work", "Unfinished work")
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
	case <-r.Context().Done():
		return
	}
	fmt.Fprintf(w, "slept %dms\n", ms)
}

func (s *Server) handleEmpty(w http.ResponseWriter, r *http.Request) {
	servertiming.FromContext(r.Context()).SetMetric("noop", 0, "Nothing to do")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	st := servertiming.FromContext(r.Context())
	flusher, _ := w.(http.Flusher)

	start := time.Now()
	w.Header().Set("Content-Type", "text/plain")
	for i := 0; i < 3; i++ {
		fmt.Fprintf(w, "chunk %d\n", i)
		if flusher != nil {
			flusher.Flush()
		}
		time.Sleep(5 * time.Millisecond)
	}
	st.SetDuration("chunks", time.Since(start), "Streamed chunks")
}
