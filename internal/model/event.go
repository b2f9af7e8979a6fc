package model

import (
	"encoding/json"
	"time"
)

type DriverEventType string

const (
	DriverEventQR            DriverEventType = "qr"
	DriverEventAuthenticated DriverEventType = "authenticated"
	DriverEventReady         DriverEventType = "ready"
	DriverEventNewMessage    DriverEventType = "new_message"
	DriverEventContacts      DriverEventType = "contacts"
	DriverEventMessages      DriverEventType = "messages"
	DriverEventMessageSent   DriverEventType = "message_sent"
	DriverEventDisconnected  DriverEventType = "disconnected"
	DriverEventAuthFailure   DriverEventType = "auth_failure"
	DriverEventError         DriverEventType = "error"
)

// DisconnectReasonTransportLost is reported when the connection to the
// automation worker drops, as opposed to the platform logging the session out.
const DisconnectReasonTransportLost = "transport_lost"

// DriverEvent is the wire envelope of every event emitted by the automation worker.
type DriverEvent struct {
	Type      DriverEventType `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the event payload into v. An empty payload leaves v untouched.
func (e DriverEvent) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

func NewDriverEvent(eventType DriverEventType, sessionID string, data any) DriverEvent {
	ev := DriverEvent{Type: eventType, SessionID: sessionID}
	if data != nil {
		ev.Data, _ = json.Marshal(data)
	}
	return ev
}

type QRData struct {
	QR string `json:"qr"`
}

type ReadyData struct {
	PhoneNumber *string        `json:"phoneNumber,omitempty"`
	ClientInfo  map[string]any `json:"clientInfo,omitempty"`
}

type DisconnectedData struct {
	Reason string `json:"reason"`
}

type AuthFailureData struct {
	Message string `json:"message"`
}

// ErrorData describes a driver-side failure. Action names the command that
// failed, if any; Fatal marks the automation instance as unusable.
type ErrorData struct {
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Fatal   bool   `json:"fatal,omitempty"`
}

type ContactsData struct {
	Contacts []RawContact `json:"contacts"`
}

type MessagesData struct {
	ChatID     string       `json:"chatId"`
	Messages   []RawMessage `json:"messages"`
	TotalCount int          `json:"totalCount"`
}

type MessageSentData struct {
	MessageID string `json:"messageId"`
	Timestamp int64  `json:"timestamp"`
}

type NewMessageData struct {
	Message RawMessage `json:"message"`
}

// Notification is fanned out to status subscribers of a session.
type Notification struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Session   *Session        `json:"session,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	At        time.Time       `json:"at"`
}

const (
	NotificationStatus  = "status"
	NotificationMessage = "message"
)
