package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/MrWong99/dictaphone/internal/history"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// HistoryStore is the part of *history.Store the HTTP API uses.
type HistoryStore interface {
	List(ctx context.Context, limit, offset int) ([]history.Entry, error)
	Get(ctx context.Context, id string) (history.Entry, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int, error)
}

type historyPage struct {
	Entries []history.Entry `json:"entries"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

func (s *Server) registerHistory(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/history", s.withHistory(s.listHistory))
	mux.HandleFunc("GET /api/history/{id}", s.withHistory(s.getHistory))
	mux.HandleFunc("DELETE /api/history/{id}", s.withHistory(s.deleteHistory))
	mux.HandleFunc("DELETE /api/history", s.withHistory(s.clearHistory))
}

// withHistory answers 503 when history is disabled.
func (s *Server) withHistory(next func(http.ResponseWriter, *http.Request, HistoryStore)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.History == nil {
			writeError(w, http.StatusServiceUnavailable, "history is disabled")
			return
		}
		next(w, r, s.cfg.History)
	}
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request, store HistoryStore) {
	limit, err := queryInt(r, "limit", defaultHistoryLimit)
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	limit = min(limit, maxHistoryLimit)
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	entries, err := store.List(r.Context(), limit, offset)
	if err != nil {
		s.internalError(w, r, "list history", err)
		return
	}
	total, err := store.Count(r.Context())
	if err != nil {
		s.internalError(w, r, "count history", err)
		return
	}
	writeJSON(w, http.StatusOK, historyPage{Entries: entries, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request, store HistoryStore) {
	e, err := store.Get(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, history.ErrNotFound):
		writeError(w, http.StatusNotFound, "entry not found")
	case err != nil:
		s.internalError(w, r, "get history entry", err)
	default:
		writeJSON(w, http.StatusOK, e)
	}
}

func (s *Server) deleteHistory(w http.ResponseWriter, r *http.Request, store HistoryStore) {
	err := store.Delete(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, history.ErrNotFound):
		writeError(w, http.StatusNotFound, "entry not found")
	case err != nil:
		s.internalError(w, r, "delete history entry", err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) clearHistory(w http.ResponseWriter, r *http.Request, store HistoryStore) {
	n, err := store.Clear(r.Context())
	if err != nil {
		s.internalError(w, r, "clear history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.log.ErrorContext(r.Context(), op+" failed", "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
