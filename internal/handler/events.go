package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/wa-session-broker/internal/errors"
	"github.com/openclaw/wa-session-broker/internal/model"
	"github.com/openclaw/wa-session-broker/internal/sse"
)

// EventsHandler streams status notifications of one session as
// Server-Sent Events.
type EventsHandler struct {
	broker    Broker
	stream    *sse.Broker
	heartbeat time.Duration
}

func NewEventsHandler(broker Broker, stream *sse.Broker) *EventsHandler {
	return &EventsHandler{
		broker:    broker,
		stream:    stream,
		heartbeat: sse.HeartbeatInterval,
	}
}

// GET /v1/sessions/{sessionID}/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	s, err := ownedSession(r.Context(), h.broker, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.Internal("Streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.stream.Subscribe(sessionID)
	defer h.stream.Unsubscribe(client)

	log.Info().Str("sessionId", sessionID).Msg("sse connection established")

	// The current record goes first so subscribers never miss the state
	// reached before they connected.
	initial := model.Notification{
		Type:      model.NotificationStatus,
		SessionID: s.ID,
		Session:   &s,
		At:        time.Now().UTC(),
	}
	if err := h.sendEvent(w, flusher, initial.Type, initial); err != nil {
		return
	}

	ctx := r.Context()
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("sessionId", sessionID).Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().Str("sessionId", sessionID).Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().Str("sessionId", sessionID).Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
