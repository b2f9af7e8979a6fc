package session

import "github.com/openclaw/wa-session-broker/internal/model"

// Trigger is anything that can move a session between states: a driver event
// or a broker-side decision.
type Trigger string

const (
	TriggerQR            Trigger = "qr"
	TriggerAuthenticated Trigger = "authenticated"
	TriggerReady         Trigger = "ready"
	TriggerAuthFailure   Trigger = "auth_failure"
	TriggerDisconnected  Trigger = "disconnected"
	TriggerInitError     Trigger = "init_error"
	TriggerInitTimeout   Trigger = "init_timeout"
	TriggerFatalError    Trigger = "fatal_error"
	TriggerQRExpired     Trigger = "qr_expired"
	TriggerTerminate     Trigger = "terminate"
)

var transitions = map[model.SessionState]map[Trigger]model.SessionState{
	model.SessionStateInitializing: {
		TriggerQR:            model.SessionStateAwaitingScan,
		TriggerAuthenticated: model.SessionStateAuthenticated,
		TriggerAuthFailure:   model.SessionStateFailed,
		TriggerInitError:     model.SessionStateFailed,
		TriggerInitTimeout:   model.SessionStateFailed,
		TriggerFatalError:    model.SessionStateFailed,
		TriggerDisconnected:  model.SessionStateDisconnected,
		TriggerTerminate:     model.SessionStateDisconnected,
	},
	model.SessionStateAwaitingScan: {
		TriggerQR:            model.SessionStateAwaitingScan,
		TriggerAuthenticated: model.SessionStateAuthenticated,
		TriggerAuthFailure:   model.SessionStateFailed,
		TriggerQRExpired:     model.SessionStateExpired,
		TriggerFatalError:    model.SessionStateFailed,
		TriggerDisconnected:  model.SessionStateDisconnected,
		TriggerTerminate:     model.SessionStateDisconnected,
	},
	model.SessionStateAuthenticated: {
		TriggerReady:        model.SessionStateConnected,
		TriggerAuthFailure:  model.SessionStateFailed,
		TriggerFatalError:   model.SessionStateFailed,
		TriggerDisconnected: model.SessionStateDisconnected,
		TriggerTerminate:    model.SessionStateDisconnected,
	},
	model.SessionStateConnected: {
		TriggerFatalError:   model.SessionStateFailed,
		TriggerDisconnected: model.SessionStateDisconnected,
		TriggerTerminate:    model.SessionStateDisconnected,
	},
}

// Next returns the state reached from `from` on trigger t, or false if the
// trigger is not legal there. Terminal states accept nothing.
func Next(from model.SessionState, t Trigger) (model.SessionState, bool) {
	to, ok := transitions[from][t]
	return to, ok
}
