package report

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/MatteoGuarna/packet-sniffer/filter"
	"github.com/MatteoGuarna/packet-sniffer/internal/logger"
	"github.com/MatteoGuarna/packet-sniffer/session"
)

// HTTP keeps the latest snapshot and serves it read-only.
type HTTP struct {
	mu       sync.RWMutex
	latest   *session.Snapshot
	rendered int

	router *mux.Router
	server *http.Server
	log    *logger.Logger
}

// NewHTTP returns a reporter whose routes are served once Start is called.
func NewHTTP(log *logger.Logger) *HTTP {
	if log == nil {
		log = logger.Nop()
	}
	h := &HTTP{log: log}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/snapshots/latest", h.latestHandler).Methods(http.MethodGet)
	r.HandleFunc("/snapshots/latest/connections", h.connectionsHandler).Methods(http.MethodGet)
	h.router = r
	return h
}

// Handler returns the HTTP routes.
func (h *HTTP) Handler() http.Handler {
	return h.router
}

// Start listens on addr and serves in the background.
func (h *HTTP) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	h.server = &http.Server{
		Handler:           h.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		h.log.Info("snapshot API listening on %s", ln.Addr())
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error("snapshot API stopped: %v", err)
		}
	}()
	return nil
}

// Render replaces the latest snapshot.
func (h *HTTP) Render(_ context.Context, snap session.Snapshot) error {
	snap = normalize(snap)
	h.mu.Lock()
	h.latest = &snap
	h.rendered++
	h.mu.Unlock()
	return nil
}

// Close shuts the server down.
func (h *HTTP) Close() error {
	if h.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.server.Shutdown(ctx)
}

func (h *HTTP) snapshot() (session.Snapshot, int, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.latest == nil {
		return session.Snapshot{}, h.rendered, false
	}
	return *h.latest, h.rendered, true
}

func (h *HTTP) healthHandler(w http.ResponseWriter, _ *http.Request) {
	_, rendered, _ := h.snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"snapshots": rendered,
	})
}

func (h *HTTP) latestHandler(w http.ResponseWriter, _ *http.Request) {
	snap, _, ok := h.snapshot()
	if !ok {
		writeError(w, http.StatusNotFound, "no snapshot rendered yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// connectionsHandler serves the latest records, optionally narrowed with a
// display filter passed as ?filter=.
func (h *HTTP) connectionsHandler(w http.ResponseWriter, r *http.Request) {
	snap, _, ok := h.snapshot()
	if !ok {
		writeError(w, http.StatusNotFound, "no snapshot rendered yet")
		return
	}
	records := snap.Connections
	if expr := r.URL.Query().Get("filter"); expr != "" {
		match, err := filter.Compile(expr)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		records = filter.Apply(match, records)
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
