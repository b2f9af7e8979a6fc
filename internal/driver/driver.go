// Package driver defines the capability set the broker needs from an automation
// backend. Commands are fire-and-forget: their results arrive later as events
// tagged with the session id.
package driver

import (
	"context"
	"time"

	"github.com/openclaw/wa-session-broker/internal/model"
)

// EventHandler receives every event from the backend. It is called from the
// transport's read loop and must not block.
type EventHandler func(model.DriverEvent)

type Driver interface {
	// Initialize starts an automation instance for the session. The backend
	// answers with a qr event, or authenticated when credentials were restored.
	Initialize(ctx context.Context, sessionID string) error
	GetContacts(ctx context.Context, sessionID string) error
	GetMessages(ctx context.Context, sessionID, contactID string, from, to time.Time) error
	SendMessage(ctx context.Context, sessionID, contactID, text string) error
	// Release destroys the automation instance. Releasing an unknown session is not an error.
	Release(ctx context.Context, sessionID string) error
	Subscribe(handler EventHandler) (unsubscribe func())
}
