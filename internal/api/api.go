// Package api serves the request-driven session lifecycle: creating a
// session, reading it, and updating its preferences.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cortexuvula/massagesync/internal/hub"
	"github.com/cortexuvula/massagesync/internal/session"
)

// maxBodyBytes caps request bodies on the session endpoints.
const maxBodyBytes = 1 << 20

// API holds the session endpoints.
type API struct {
	Store  session.Store
	Router *hub.Router
	Now    func() time.Time
}

// New creates the session API. Preference updates go through rt so they
// reach attached participants.
func New(st session.Store, rt *hub.Router) *API {
	return &API{Store: st, Router: rt, Now: time.Now}
}

// Register mounts the endpoints on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", a.handleRoot)
	mux.HandleFunc("GET /health", a.handleLiveness)
	mux.HandleFunc("POST /api/sessions", a.handleCreate)
	mux.HandleFunc("GET /api/sessions/{session_id}", a.handleGet)
	mux.HandleFunc("PUT /api/sessions/{session_id}/preferences", a.handleUpdatePreferences)
}

func (a *API) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Massage Communication API is running"})
}

// handleLiveness is the public liveness check. Store and connection detail
// stay on the loopback health listener.
func (a *API) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": a.Now().UTC().Format(time.RFC3339Nano),
	})
}

type createRequest struct {
	ClientName *string `json:"client_name"`
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ClientName == nil {
		writeDetail(w, http.StatusUnprocessableEntity, "client_name is required")
		return
	}

	rec, err := a.Store.Create(r.Context(), session.New(*req.ClientName, a.Now()))
	if err != nil {
		slog.Error("creating session failed", "error", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	slog.Info("session created", "session", rec.ID)
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	rec, err := a.Store.Get(r.Context(), id)
	if err != nil {
		a.storeError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")

	var p session.Preferences
	if !decodeBody(w, r, &p) {
		return
	}

	if _, err := a.Router.UpdatePreferences(r.Context(), id, p); err != nil {
		a.storeError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Preferences updated successfully"})
}

func (a *API) storeError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, session.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, "Session not found")
		return
	}
	slog.Error("session store request failed", "session", id, "error", err)
	writeDetail(w, http.StatusInternalServerError, "Internal server error")
}

// decodeBody reads a JSON object into v. Syntax errors are 400; a missing
// body or mistyped fields are 422.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	err := dec.Decode(v)
	if err == nil {
		return true
	}

	var typeErr *json.UnmarshalTypeError
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		writeDetail(w, http.StatusUnprocessableEntity, "request body is required")
	case errors.As(err, &typeErr):
		writeDetail(w, http.StatusUnprocessableEntity, "invalid value for "+typeErr.Field)
	case errors.As(err, &maxErr):
		writeDetail(w, http.StatusRequestEntityTooLarge, "request body too large")
	default:
		writeDetail(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
	}
	return false
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
