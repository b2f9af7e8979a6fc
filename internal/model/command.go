package model

import (
	"encoding/json"
	"time"
)

// Command is the envelope for both control-plane commands received by the
// broker and driver commands written to the automation worker.
type Command struct {
	SessionID string          `json:"sessionId"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Control-plane actions.
const (
	ActionGenerateQR      = "generate_qr"
	ActionCheckStatus     = "check_status"
	ActionGetContacts     = "get_contacts"
	ActionExtractMessages = "extract_messages"
	ActionSendMessage     = "send_message"
	ActionTerminate       = "terminate"
)

// Driver actions.
const (
	DriverActionInitialize  = "initialize"
	DriverActionGetContacts = "getContacts"
	DriverActionGetMessages = "getMessages"
	DriverActionSendMessage = "sendMessage"
	DriverActionDestroy     = "destroy"
)

type GetMessagesPayload struct {
	ContactID string    `json:"contactId"`
	DateFrom  time.Time `json:"dateFrom"`
	DateTo    time.Time `json:"dateTo"`
}

type SendMessagePayload struct {
	ContactID string `json:"contactId"`
	Message   string `json:"message"`
}
