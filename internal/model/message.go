package model

import (
	"time"
)

type ExtractedMessage struct {
	ID         string    `db:"id" json:"id"`
	ChatID     string    `db:"chat_id" json:"chatId"`
	Sender     string    `db:"sender" json:"sender"`
	Text       string    `db:"text" json:"text"`
	HasMedia   bool      `db:"has_media" json:"hasMedia"`
	ObservedAt time.Time `db:"observed_at" json:"observedAt"`
}

type MediaAttachment struct {
	ID               string      `db:"id" json:"id"`
	MessageRef       string      `db:"message_id" json:"messageRef"`
	MimeType         string      `db:"mime_type" json:"mimeType"`
	StorageLocator   string      `db:"storage_path" json:"storageLocator,omitempty"`
	ProcessingStatus MediaStatus `db:"processing_status" json:"processingStatus"`
	ErrorMessage     *string     `db:"error_message" json:"errorMessage,omitempty"`
}

// RawMessage is a chat message as reported by the automation driver.
type RawMessage struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Author     string    `json:"author,omitempty"`
	Body       string    `json:"body"`
	Timestamp  int64     `json:"timestamp"`
	HasMedia   bool      `json:"hasMedia"`
	MediaType  string    `json:"mediaType,omitempty"`
	IsGroupMsg bool      `json:"isGroupMsg,omitempty"`
	Media      *RawMedia `json:"media,omitempty"`
	MediaError string    `json:"mediaError,omitempty"`
}

// ObservedAt is the source timestamp of the message.
func (m RawMessage) ObservedAt() time.Time {
	return time.Unix(m.Timestamp, 0).UTC()
}

// Sender prefers the group author over the chat id.
func (m RawMessage) Sender() string {
	if m.Author != "" {
		return m.Author
	}
	return m.From
}

// RawMedia carries either inline base64 data or a URL the broker may fetch.
type RawMedia struct {
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimetype"`
	Filename string `json:"filename,omitempty"`
	URL      string `json:"url,omitempty"`
}

type RawContact struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Number      string          `json:"number"`
	Pushname    string          `json:"pushname,omitempty"`
	IsGroup     bool            `json:"isGroup"`
	IsMyContact bool            `json:"isMyContact"`
	UnreadCount int             `json:"unreadCount,omitempty"`
	LastMessage *RawLastMessage `json:"lastMessage,omitempty"`
}

type RawLastMessage struct {
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
}
