package model

import "time"

// Contact is a read-only projection of a chat contact returned by the driver.
type Contact struct {
	ID                 string     `json:"id"`
	DisplayName        string     `json:"displayName"`
	PhoneNumber        string     `json:"phoneNumber"`
	LastMessagePreview string     `json:"lastMessagePreview"`
	LastActivityAt     *time.Time `json:"lastActivityAt,omitempty"`
	UnreadCount        int        `json:"unreadCount"`
}
