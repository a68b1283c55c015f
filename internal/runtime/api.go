package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/loqalabs/loqa-intake/internal/eventstore"
	"github.com/loqalabs/loqa-intake/internal/session"
)

const maxRequestBody = 1 << 20

// Timeline reads a session's recorded events. *eventstore.Store satisfies it.
type Timeline interface {
	ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]eventstore.Event, error)
}

// sessionAPI is the HTTP control surface over the orchestrator.
type sessionAPI struct {
	orch     *session.Orchestrator
	timeline Timeline
	logger   *slog.Logger
}

type startRequest struct {
	SessionID string `json:"session_id"`
}

type signalRequest struct {
	Dialogue json.RawMessage `json:"dialogue,omitempty"`
}

type eventView struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (a *sessionAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions", a.handleStart)
	mux.HandleFunc("GET /v1/sessions", a.handleList)
	mux.HandleFunc("GET /v1/sessions/{id}", a.handleGet)
	mux.HandleFunc("POST /v1/sessions/{id}/signal", a.handleSignal)
	mux.HandleFunc("GET /v1/sessions/{id}/events", a.handleEvents)
}

func (a *sessionAPI) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s, err := a.orch.StartSession(req.SessionID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, s.Info())
}

func (a *sessionAPI) handleList(w http.ResponseWriter, _ *http.Request) {
	sessions := a.orch.List()
	infos := make([]session.Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	writeJSON(w, http.StatusOK, infos)
}

func (a *sessionAPI) handleGet(w http.ResponseWriter, r *http.Request) {
	s, ok := a.orch.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, session.ErrUnknownSession.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.Info())
}

// handleSignal is the HTTP form of GENERATE_REPORT. The body is optional.
func (a *sessionAPI) handleSignal(w http.ResponseWriter, r *http.Request) {
	var req signalRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	dialogue, err := session.DecodeDialogue(req.Dialogue)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := r.PathValue("id")
	if err := a.orch.HandleGenerateReport(id, dialogue); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id, "status": "accepted"})
}

func (a *sessionAPI) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	events, err := a.timeline.ListSessionEvents(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		a.logger.Error("failed to list session events", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read timeline")
		return
	}
	views := make([]eventView, 0, len(events))
	for _, e := range events {
		v := eventView{ID: e.ID, Type: e.Type, Channel: e.Channel, CreatedAt: e.CreatedAt}
		if json.Valid(e.Payload) {
			v.Payload = e.Payload
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidSession):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionExists), errors.Is(err, session.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, session.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
