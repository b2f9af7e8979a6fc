package bridge

import (
	"sync"
	"time"

	apperrors "github.com/openclaw/wa-session-broker/internal/errors"
	"github.com/openclaw/wa-session-broker/internal/model"
)

type requestKind string

const (
	kindQR       requestKind = "qr"
	kindContacts requestKind = "contacts"
	kindMessages requestKind = "messages"
	kindSend     requestKind = "send"
)

func (k requestKind) operation() string {
	switch k {
	case kindQR:
		return "QR generation"
	case kindContacts:
		return "Contact listing"
	case kindMessages:
		return "Message extraction"
	case kindSend:
		return "Send message"
	}
	return string(k)
}

// kindForAction maps a driver action named in an error event back to the
// pending request waiting on it.
func kindForAction(action string) (requestKind, bool) {
	switch action {
	case model.DriverActionGetContacts:
		return kindContacts, true
	case model.DriverActionGetMessages:
		return kindMessages, true
	case model.DriverActionSendMessage:
		return kindSend, true
	}
	return "", false
}

type response struct {
	value any
	err   error
}

type pendingKey struct {
	sessionID string
	kind      requestKind
}

type pendingEntry struct {
	ch    chan response
	timer *time.Timer
}

// pendingTable correlates asynchronous driver responses with waiting callers.
// An entry is resolved at most once: whoever removes it from the map first
// (response, deadline, cancellation or teardown) owns delivery.
type pendingTable struct {
	mu      sync.Mutex
	entries map[pendingKey]*pendingEntry
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[pendingKey]*pendingEntry)}
}

func (p *pendingTable) register(sessionID string, kind requestKind, timeout time.Duration) (<-chan response, error) {
	key := pendingKey{sessionID: sessionID, kind: kind}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.entries[key]; exists {
		return nil, apperrors.RequestInFlight(string(kind))
	}

	e := &pendingEntry{ch: make(chan response, 1)}
	e.timer = time.AfterFunc(timeout, func() {
		p.resolve(sessionID, kind, response{err: apperrors.Timeout(kind.operation())})
	})
	p.entries[key] = e
	return e.ch, nil
}

// resolve delivers resp to the waiting caller. It reports false when no entry
// exists, e.g. for a response arriving after its deadline.
func (p *pendingTable) resolve(sessionID string, kind requestKind, resp response) bool {
	key := pendingKey{sessionID: sessionID, kind: kind}

	p.mu.Lock()
	e, ok := p.entries[key]
	if ok {
		delete(p.entries, key)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	e.timer.Stop()
	e.ch <- resp
	return true
}

// cancel drops an entry without delivering anything.
func (p *pendingTable) cancel(sessionID string, kind requestKind) {
	key := pendingKey{sessionID: sessionID, kind: kind}

	p.mu.Lock()
	e, ok := p.entries[key]
	if ok {
		delete(p.entries, key)
	}
	p.mu.Unlock()

	if ok {
		e.timer.Stop()
	}
}

// failAll resolves every pending request of a session with err. An empty
// sessionID fails every entry.
func (p *pendingTable) failAll(sessionID string, err error) int {
	p.mu.Lock()
	var failed []*pendingEntry
	for key, e := range p.entries {
		if sessionID != "" && key.sessionID != sessionID {
			continue
		}
		delete(p.entries, key)
		failed = append(failed, e)
	}
	p.mu.Unlock()

	for _, e := range failed {
		e.timer.Stop()
		e.ch <- response{err: err}
	}
	return len(failed)
}

func (p *pendingTable) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
