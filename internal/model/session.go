package model

import (
	"time"
)

// Session is the observable state of one provisioned messaging session.
// Values handed out by the registry are snapshots; mutating them has no effect
// on the live record.
type Session struct {
	ID               string       `db:"session_id" json:"sessionId"`
	OwnerID          string       `db:"owner_id" json:"ownerId"`
	State            SessionState `db:"status" json:"status"`
	QRPayload        *string      `db:"qr_code" json:"qrPayload,omitempty"`
	QRIssuedAt       *time.Time   `db:"qr_issued_at" json:"qrIssuedAt,omitempty"`
	PhoneNumber      *string      `db:"phone_number" json:"phoneNumber,omitempty"`
	LastErrorMessage *string      `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt        time.Time    `db:"created_at" json:"createdAt"`
	ConnectedAt      *time.Time   `db:"connected_at" json:"connectedAt,omitempty"`
	EndedAt          *time.Time   `db:"ended_at" json:"endedAt,omitempty"`
	UpdatedAt        time.Time    `db:"updated_at" json:"updatedAt"`
}

func (s Session) Connected() bool {
	return s.State == SessionStateConnected
}

// Clone returns a deep copy so callers never share pointer fields with the registry.
func (s Session) Clone() Session {
	out := s
	out.QRPayload = cloneString(s.QRPayload)
	out.PhoneNumber = cloneString(s.PhoneNumber)
	out.LastErrorMessage = cloneString(s.LastErrorMessage)
	out.QRIssuedAt = cloneTime(s.QRIssuedAt)
	out.ConnectedAt = cloneTime(s.ConnectedAt)
	out.EndedAt = cloneTime(s.EndedAt)
	return out
}

// Age returns how long the session has been in its current terminal state,
// falling back to its creation time.
func (s Session) Age(now time.Time) time.Duration {
	if s.EndedAt != nil {
		return now.Sub(*s.EndedAt)
	}
	return now.Sub(s.CreatedAt)
}

// QRAge returns how long the first QR of this session has been outstanding.
func (s Session) QRAge(now time.Time) time.Duration {
	if s.QRIssuedAt != nil {
		return now.Sub(*s.QRIssuedAt)
	}
	return now.Sub(s.CreatedAt)
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
