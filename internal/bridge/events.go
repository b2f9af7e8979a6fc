package bridge

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-session-broker/internal/config"
	apperrors "github.com/openclaw/wa-session-broker/internal/errors"
	"github.com/openclaw/wa-session-broker/internal/model"
)

const previewLength = 100

// handleEvent runs on the driver transport's read loop. Every event,
// including answers to pending requests, is queued on the session's
// controller so it is applied in arrival order.
func (b *Bridge) handleEvent(ev model.DriverEvent) {
	ctrl, ok := b.registry.Handle(ev.SessionID)
	if !ok {
		log.Debug().Str("sessionId", ev.SessionID).Str("event", string(ev.Type)).Msg("dropping event for unknown session")
		return
	}
	ctrl.Deliver(ev)
}

// onReply resolves the pending request an answer belongs to. It runs on the
// controller goroutine, so s reflects every event that arrived before ev.
func (b *Bridge) onReply(ev model.DriverEvent, s model.Session) {
	kind, resp, ok := decodeReply(ev)
	if !ok {
		return
	}
	if s.State.IsTerminal() {
		resp = response{err: apperrors.SessionTerminated()}
	}
	b.respond(ev, kind, resp)
}

func decodeReply(ev model.DriverEvent) (requestKind, response, bool) {
	switch ev.Type {
	case model.DriverEventContacts:
		var data model.ContactsData
		if err := ev.Decode(&data); err != nil {
			return kindContacts, response{err: apperrors.Driver("malformed contacts payload")}, true
		}
		return kindContacts, response{value: normalizeContacts(data.Contacts)}, true

	case model.DriverEventMessages:
		var data model.MessagesData
		if err := ev.Decode(&data); err != nil {
			return kindMessages, response{err: apperrors.Driver("malformed messages payload")}, true
		}
		return kindMessages, response{value: data}, true

	case model.DriverEventMessageSent:
		var data model.MessageSentData
		if err := ev.Decode(&data); err != nil {
			return kindSend, response{err: apperrors.Driver("malformed message_sent payload")}, true
		}
		return kindSend, response{value: data}, true

	case model.DriverEventError:
		var data model.ErrorData
		if err := ev.Decode(&data); err != nil {
			return "", response{}, false
		}
		if kind, ok := kindForAction(data.Action); ok && !data.Fatal {
			return kind, response{err: apperrors.Driver(data.Message)}, true
		}
	}
	return "", response{}, false
}

func (b *Bridge) respond(ev model.DriverEvent, kind requestKind, resp response) {
	if !b.pending.resolve(ev.SessionID, kind, resp) {
		log.Debug().
			Str("sessionId", ev.SessionID).
			Str("event", string(ev.Type)).
			Msg("discarding response without pending request")
	}
}

// normalizeContacts keeps saved one-to-one contacts, capped at
// config.MaxContacts.
func normalizeContacts(raw []model.RawContact) []model.Contact {
	out := make([]model.Contact, 0, min(len(raw), config.MaxContacts))
	for _, rc := range raw {
		if rc.IsGroup || !rc.IsMyContact {
			continue
		}

		phone := rc.Number
		if phone == "" {
			phone, _, _ = strings.Cut(rc.ID, "@")
		}
		name := rc.Name
		if name == "" {
			name = rc.Pushname
		}
		if name == "" {
			name = phone
		}

		c := model.Contact{
			ID:          rc.ID,
			DisplayName: name,
			PhoneNumber: phone,
			UnreadCount: rc.UnreadCount,
		}
		if rc.LastMessage != nil {
			c.LastMessagePreview = preview(rc.LastMessage.Body)
			if rc.LastMessage.Timestamp > 0 {
				at := time.Unix(rc.LastMessage.Timestamp, 0).UTC()
				c.LastActivityAt = &at
			}
		}

		out = append(out, c)
		if len(out) == config.MaxContacts {
			break
		}
	}
	return out
}

func preview(body string) string {
	r := []rune(body)
	if len(r) <= previewLength {
		return body
	}
	return string(r[:previewLength]) + "…"
}
