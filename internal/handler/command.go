package handler

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-session-broker/internal/audit"
	"github.com/openclaw/wa-session-broker/internal/bridge"
	apperrors "github.com/openclaw/wa-session-broker/internal/errors"
	"github.com/openclaw/wa-session-broker/internal/middleware"
	"github.com/openclaw/wa-session-broker/internal/model"
)

// CommandHandler accepts the command envelope used by the automation
// frontends and dispatches it to the same operations as the REST routes.
type CommandHandler struct {
	broker   Broker
	generate func(http.Handler) http.Handler
}

// NewCommandHandler builds the envelope endpoint. generateLimit wraps
// generate_qr only and may be nil.
func NewCommandHandler(broker Broker, generateLimit func(http.Handler) http.Handler) *CommandHandler {
	if generateLimit == nil {
		generateLimit = func(next http.Handler) http.Handler { return next }
	}
	return &CommandHandler{broker: broker, generate: generateLimit}
}

type commandResponse struct {
	Action    string `json:"action"`
	SessionID string `json:"sessionId,omitempty"`
	Result    any    `json:"result"`
}

// POST /v1/commands
func (h *CommandHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var cmd model.Command
	if err := decodeBody(r, &cmd); err != nil {
		writeError(w, err)
		return
	}
	if cmd.Action == "" {
		writeError(w, apperrors.MissingRequired("action"))
		return
	}

	ctx := r.Context()
	owner := middleware.GetOwner(ctx)
	logger := log.With().Str("action", cmd.Action).Str("sessionId", cmd.SessionID).Logger()

	if cmd.Action == model.ActionGenerateQR {
		h.generate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, err := h.broker.Generate(r.Context(), owner)
			if err != nil {
				logger.Warn().Err(err).Msg("command failed")
				writeError(w, err)
				return
			}
			audit.LogFromRequest(r, audit.Event{Type: audit.EventSessionCreate, OwnerID: owner, SessionID: s.ID})
			writeJSON(w, http.StatusCreated, commandResponse{Action: cmd.Action, SessionID: s.ID, Result: s})
		})).ServeHTTP(w, r)
		return
	}

	if cmd.SessionID == "" {
		writeError(w, apperrors.MissingRequired("sessionId"))
		return
	}
	s, err := ownedSession(ctx, h.broker, cmd.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	var result any
	switch cmd.Action {
	case model.ActionCheckStatus:
		result = s

	case model.ActionGetContacts:
		result, err = h.broker.ListContacts(ctx, cmd.SessionID)

	case model.ActionExtractMessages:
		var p model.GetMessagesPayload
		if err = decodePayload(cmd.Payload, &p); err == nil {
			result, err = h.broker.ExtractMessages(ctx, bridge.ExtractParams{
				SessionID: cmd.SessionID,
				ContactID: p.ContactID,
				From:      p.DateFrom,
				To:        p.DateTo,
			})
		}

	case model.ActionSendMessage:
		var p model.SendMessagePayload
		if err = decodePayload(cmd.Payload, &p); err == nil {
			result, err = h.broker.SendMessage(ctx, cmd.SessionID, p.ContactID, p.Message)
		}

	case model.ActionTerminate:
		var ended model.Session
		if ended, err = h.broker.Terminate(ctx, cmd.SessionID); err == nil {
			result = terminated(ended)
			audit.LogFromRequest(r, audit.Event{Type: audit.EventSessionTerminate, OwnerID: owner, SessionID: cmd.SessionID})
		}

	default:
		err = apperrors.ValidationError("Unknown action: " + cmd.Action)
	}

	if err != nil {
		logger.Warn().Err(err).Msg("command failed")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{Action: cmd.Action, SessionID: cmd.SessionID, Result: result})
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return apperrors.MissingRequired("payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperrors.ValidationError("Invalid payload")
	}
	return nil
}
