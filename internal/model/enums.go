package model

type SessionState string

const (
	SessionStateInitializing  SessionState = "initializing"
	SessionStateAwaitingScan  SessionState = "awaiting_scan"
	SessionStateAuthenticated SessionState = "authenticated"
	SessionStateConnected     SessionState = "connected"
	SessionStateDisconnected  SessionState = "disconnected"
	SessionStateFailed        SessionState = "failed"
	SessionStateExpired       SessionState = "expired"
)

// IsTerminal reports whether a session in this state can no longer be driven.
func (s SessionState) IsTerminal() bool {
	switch s {
	case SessionStateDisconnected, SessionStateFailed, SessionStateExpired:
		return true
	}
	return false
}

func (s SessionState) Valid() bool {
	switch s {
	case SessionStateInitializing, SessionStateAwaitingScan, SessionStateAuthenticated,
		SessionStateConnected, SessionStateDisconnected, SessionStateFailed, SessionStateExpired:
		return true
	}
	return false
}

type MediaStatus string

const (
	MediaStatusQueued     MediaStatus = "queued"
	MediaStatusProcessing MediaStatus = "processing"
	MediaStatusDone       MediaStatus = "done"
	MediaStatusFailed     MediaStatus = "failed"
)
