package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-session-broker/internal/audit"
	"github.com/openclaw/wa-session-broker/internal/bridge"
	apperrors "github.com/openclaw/wa-session-broker/internal/errors"
	"github.com/openclaw/wa-session-broker/internal/extraction"
	"github.com/openclaw/wa-session-broker/internal/middleware"
	"github.com/openclaw/wa-session-broker/internal/model"
	"github.com/openclaw/wa-session-broker/internal/util"
)

// Broker is the command surface the HTTP layer drives.
type Broker interface {
	Generate(ctx context.Context, ownerID string) (model.Session, error)
	CheckStatus(id string) (model.Session, error)
	List(ownerID string) []model.Session
	ListContacts(ctx context.Context, id string) ([]model.Contact, error)
	ExtractMessages(ctx context.Context, p bridge.ExtractParams) (*extraction.Result, error)
	SendMessage(ctx context.Context, id, contactID, text string) (model.MessageSentData, error)
	Terminate(ctx context.Context, id string) (model.Session, error)
}

type SessionHandler struct {
	broker   Broker
	events   http.Handler
	generate func(http.Handler) http.Handler
}

// NewSessionHandler builds the session routes. events serves the status
// stream of a session; generateLimit wraps the provisioning route only. Both
// may be nil.
func NewSessionHandler(broker Broker, events http.Handler, generateLimit func(http.Handler) http.Handler) *SessionHandler {
	if generateLimit == nil {
		generateLimit = func(next http.Handler) http.Handler { return next }
	}
	return &SessionHandler{broker: broker, events: events, generate: generateLimit}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(h.generate).Post("/", h.Generate)
	r.Get("/", h.List)
	r.Get("/{sessionID}", h.Status)
	r.Delete("/{sessionID}", h.Terminate)
	r.Get("/{sessionID}/contacts", h.Contacts)
	r.Post("/{sessionID}/messages/extract", h.Extract)
	r.Post("/{sessionID}/messages", h.Send)
	if h.events != nil {
		r.Get("/{sessionID}/events", h.events.ServeHTTP)
	}

	return r
}

type extractRequest struct {
	ContactID string    `json:"contactId"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
}

type sendRequest struct {
	ContactID string `json:"contactId"`
	Text      string `json:"text"`
}

// POST /v1/sessions
func (h *SessionHandler) Generate(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetOwner(r.Context())

	s, err := h.broker.Generate(r.Context(), owner)
	if err != nil {
		log.Warn().Err(err).Str("ownerId", owner).Msg("session generation failed")
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventSessionCreate,
		OwnerID:   owner,
		SessionID: s.ID,
		Details:   map[string]any{"state": string(s.State)},
	})
	writeJSON(w, http.StatusCreated, s)
}

// GET /v1/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions := h.broker.List(middleware.GetOwner(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// GET /v1/sessions/{sessionID}
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	s, err := ownedSession(r.Context(), h.broker, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// DELETE /v1/sessions/{sessionID}
func (h *SessionHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, err := ownedSession(r.Context(), h.broker, id); err != nil {
		writeError(w, err)
		return
	}

	s, err := h.broker.Terminate(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventSessionTerminate,
		OwnerID:   s.OwnerID,
		SessionID: s.ID,
		Details:   map[string]any{"state": string(s.State)},
	})
	writeJSON(w, http.StatusOK, terminated(s))
}

// GET /v1/sessions/{sessionID}/contacts
func (h *SessionHandler) Contacts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, err := ownedSession(r.Context(), h.broker, id); err != nil {
		writeError(w, err)
		return
	}

	contacts, err := h.broker.ListContacts(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contacts": contacts,
		"total":    len(contacts),
	})
}

// POST /v1/sessions/{sessionID}/messages/extract
func (h *SessionHandler) Extract(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, err := ownedSession(r.Context(), h.broker, id); err != nil {
		writeError(w, err)
		return
	}

	var req extractRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.broker.ExtractMessages(r.Context(), bridge.ExtractParams{
		SessionID: id,
		ContactID: req.ContactID,
		From:      req.From,
		To:        req.To,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// POST /v1/sessions/{sessionID}/messages
func (h *SessionHandler) Send(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, err := ownedSession(r.Context(), h.broker, id); err != nil {
		writeError(w, err)
		return
	}

	var req sendRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	sent, err := h.broker.SendMessage(r.Context(), id, req.ContactID, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sent)
}

// ownedSession returns the record of id if it belongs to the caller. Records
// of other owners are reported as missing.
func ownedSession(ctx context.Context, broker Broker, id string) (model.Session, error) {
	if !util.IsValidUUID(id) {
		return model.Session{}, apperrors.SessionNotFound(id)
	}

	s, err := broker.CheckStatus(id)
	if err != nil {
		return model.Session{}, err
	}
	if s.OwnerID != middleware.GetOwner(ctx) {
		return model.Session{}, apperrors.SessionNotFound(id)
	}
	return s, nil
}
