// Package drivertest provides an in-memory driver for tests.
package drivertest

import (
	"context"
	"sync"
	"time"

	"github.com/openclaw/wa-session-broker/internal/driver"
	"github.com/openclaw/wa-session-broker/internal/model"
)

// Call records one command issued to the fake.
type Call struct {
	Action    string
	SessionID string
	ContactID string
	From      time.Time
	To        time.Time
	Text      string
}

// Fake records commands and lets tests emit events as if they came from the
// automation worker. Hooks run synchronously inside the command call.
type Fake struct {
	mu       sync.Mutex
	calls    []Call
	handlers map[int]driver.EventHandler
	nextID   int

	InitErr error
	SendErr error

	OnInitialize  func(sessionID string)
	OnGetContacts func(sessionID string)
	OnGetMessages func(sessionID, contactID string, from, to time.Time)
	OnSendMessage func(sessionID, contactID, text string)
}

var _ driver.Driver = (*Fake)(nil)

func New() *Fake {
	return &Fake{handlers: make(map[int]driver.EventHandler)}
}

func (f *Fake) record(c Call) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *Fake) Initialize(ctx context.Context, sessionID string) error {
	f.record(Call{Action: model.DriverActionInitialize, SessionID: sessionID})
	if f.InitErr != nil {
		return f.InitErr
	}
	if f.OnInitialize != nil {
		f.OnInitialize(sessionID)
	}
	return nil
}

func (f *Fake) GetContacts(ctx context.Context, sessionID string) error {
	f.record(Call{Action: model.DriverActionGetContacts, SessionID: sessionID})
	if f.SendErr != nil {
		return f.SendErr
	}
	if f.OnGetContacts != nil {
		f.OnGetContacts(sessionID)
	}
	return nil
}

func (f *Fake) GetMessages(ctx context.Context, sessionID, contactID string, from, to time.Time) error {
	f.record(Call{Action: model.DriverActionGetMessages, SessionID: sessionID, ContactID: contactID, From: from, To: to})
	if f.SendErr != nil {
		return f.SendErr
	}
	if f.OnGetMessages != nil {
		f.OnGetMessages(sessionID, contactID, from, to)
	}
	return nil
}

func (f *Fake) SendMessage(ctx context.Context, sessionID, contactID, text string) error {
	f.record(Call{Action: model.DriverActionSendMessage, SessionID: sessionID, ContactID: contactID, Text: text})
	if f.SendErr != nil {
		return f.SendErr
	}
	if f.OnSendMessage != nil {
		f.OnSendMessage(sessionID, contactID, text)
	}
	return nil
}

func (f *Fake) Release(ctx context.Context, sessionID string) error {
	f.record(Call{Action: model.DriverActionDestroy, SessionID: sessionID})
	return nil
}

func (f *Fake) Subscribe(handler driver.EventHandler) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.handlers[id] = handler
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.handlers, id)
		f.mu.Unlock()
	}
}

// Emit delivers an event to every subscriber.
func (f *Fake) Emit(ev model.DriverEvent) {
	f.mu.Lock()
	handlers := make([]driver.EventHandler, 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (f *Fake) EmitType(eventType model.DriverEventType, sessionID string, data any) {
	f.Emit(model.NewDriverEvent(eventType, sessionID, data))
}

// Calls returns a copy of the recorded commands.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CountAction returns how many times action was issued for sessionID.
func (f *Fake) CountAction(action, sessionID string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Action == action && c.SessionID == sessionID {
			n++
		}
	}
	return n
}
