// Package server exposes a read-only status API over the alert config
// and the state database.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kyle-gehring/sqlsentinel-sub002/internal/alert"
	"github.com/kyle-gehring/sqlsentinel-sub002/internal/config"
	"github.com/kyle-gehring/sqlsentinel-sub002/internal/history"
)

type Handler struct {
	Cfg     config.Config
	Store   history.Store
	Timeout time.Duration
}

func (h *Handler) timeout() time.Duration {
	if h.Timeout <= 0 {
		return 5 * time.Second
	}
	return h.Timeout
}

// NewRouter builds the full status router with the standard middleware
// stack.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	h.RegisterRoutes(r)
	return r
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/alerts", h.handleAlerts)
		r.Get("/alerts/{name}", h.handleAlertByName)
		r.Get("/history", h.handleHistory)
	})
}

type alertStatus struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Schedule    string         `json:"schedule,omitempty"`
	Enabled     bool           `json:"enabled"`
	State       *history.State `json:"state,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "message": "state database unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()
	states, err := h.Store.ListStates(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to load alert states"})
		return
	}
	byName := make(map[string]history.State, len(states))
	for _, s := range states {
		byName[s.AlertName] = s
	}
	out := make([]alertStatus, 0, len(h.Cfg.Alerts))
	for _, a := range h.Cfg.Alerts {
		out = append(out, statusFor(a, byName))
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": out})
}

func (h *Handler) handleAlertByName(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	a, ok := h.Cfg.AlertByName(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "unknown alert"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()
	state, err := h.Store.GetState(ctx, name)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to load alert state"})
		return
	}
	byName := map[string]history.State{name: state}
	writeJSON(w, http.StatusOK, statusFor(a, byName))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	f := history.Filter{AlertName: r.URL.Query().Get("alert")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "limit must be a positive integer"})
			return
		}
		f.Limit = limit
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()
	records, err := h.Store.List(ctx, f)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to load history"})
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": records})
}

func statusFor(a alert.Alert, states map[string]history.State) alertStatus {
	out := alertStatus{
		Name:        a.Name,
		Description: a.Description,
		Schedule:    a.Schedule,
		Enabled:     a.IsEnabled(),
	}
	if s, ok := states[a.Name]; ok && s.AlertName != "" {
		state := s
		out.State = &state
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
