// Package storeapi is the content store's REST surface plus the GitHub
// webhook that feeds the job queue.
package storeapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Matthieu5555/IsoCrates-sub000/internal/jobs"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/logfields"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/metrics"
	"github.com/Matthieu5555/IsoCrates-sub000/internal/store"
)

// Server serves the document API.
type Server struct {
	store         *store.Store
	queue         *jobs.Queue
	webhookSecret string
	httpServer    *http.Server
}

// New wires the server. queue may be nil when the webhook is not needed
// (the endpoint then responds 503).
func New(addr string, st *store.Store, queue *jobs.Queue, webhookSecret string) *Server {
	s := &Server{store: st, queue: queue, webhookSecret: webhookSecret}
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      logRequests(recoverPanics(s.routes())),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/docs", s.handleUpsert)
	mux.HandleFunc("GET /api/docs", s.handleList)
	mux.HandleFunc("GET /api/docs/deleted", s.handleListDeleted)
	mux.HandleFunc("POST /api/docs/batch", s.handleBatch)
	mux.HandleFunc("POST /api/docs/generate-id", s.handleGenerateID)
	mux.HandleFunc("GET /api/docs/{id}", s.handleGet)
	mux.HandleFunc("PUT /api/docs/{id}", s.handleUpdate)
	mux.HandleFunc("DELETE /api/docs/{id}", s.handleDelete)
	mux.HandleFunc("POST /api/docs/{id}/restore", s.handleRestore)
	mux.HandleFunc("GET /api/docs/{id}/versions", s.handleVersions)
	mux.HandleFunc("GET /api/docs/{id}/dependencies", s.handleDependencies)

	mux.HandleFunc("POST /api/webhooks/github", s.handleGitHubWebhook)

	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	return mux
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	slog.Info("API server listening", slog.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the full middleware-wrapped handler for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("elapsed", time.Since(started)))
	})
}

func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("handler panicked",
					slog.String("path", r.URL.Path),
					slog.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", logfields.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps the store's typed errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	var notFound *store.NotFoundError
	var conflict *store.ConflictError
	var cycle *store.CycleError
	var validation *store.ValidationError
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &cycle):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("store operation failed", logfields.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
