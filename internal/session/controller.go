// Package session drives the lifecycle of one messaging session. Each
// Controller is a single goroutine that applies driver events and broker
// commands to its session record in arrival order.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-session-broker/internal/config"
	"github.com/openclaw/wa-session-broker/internal/driver"
	apperrors "github.com/openclaw/wa-session-broker/internal/errors"
	"github.com/openclaw/wa-session-broker/internal/model"
	"github.com/openclaw/wa-session-broker/internal/util"
)

// RecordStore is the slice of the registry a controller may touch: its own record.
type RecordStore interface {
	Get(id string) (model.Session, error)
	Update(id string, fn func(*model.Session) error) (model.Session, error)
}

type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

type Persister interface {
	SaveSession(ctx context.Context, s model.Session) error
}

// Transition describes an applied state change. Err is set when the session
// entered a terminal state and explains why.
type Transition struct {
	From    model.SessionState
	To      model.SessionState
	Trigger Trigger
	Session model.Session
	Err     error
}

type Deps struct {
	Records   RecordStore
	Driver    driver.Driver
	Notifier  Notifier
	Persister Persister
	// OnTransition runs on the controller goroutine after every applied
	// transition. It must not block or call back into the controller.
	OnTransition func(Transition)
	// OnReply runs on the controller goroutine for driver answers to
	// commands, with the record as of that point in the event order. The
	// same restrictions as OnTransition apply.
	OnReply func(ev model.DriverEvent, s model.Session)
}

type Config struct {
	InitTimeout    time.Duration
	CommandTimeout time.Duration
}

type itemKind int

const (
	itemEvent itemKind = iota
	itemInitTimeout
	itemExpire
	itemTerminate
	itemSync
)

type item struct {
	kind   itemKind
	event  model.DriverEvent
	reason string
	reply  chan reply
}

type reply struct {
	session model.Session
	changed bool
	err     error
}

type Controller struct {
	id   string
	deps Deps
	cfg  Config

	mu    sync.Mutex
	queue []item
	wake  chan struct{}

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	started  bool

	initTimer *time.Timer
	released  bool
	halted    bool
}

func New(id string, deps Deps, cfg Config) *Controller {
	return &Controller{
		id:      id,
		deps:    deps,
		cfg:     cfg,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (c *Controller) ID() string {
	return c.id
}

// Start launches the controller goroutine, which first asks the driver to
// initialize the session.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go c.run()
}

// Deliver queues a driver event. It never blocks.
func (c *Controller) Deliver(ev model.DriverEvent) {
	c.enqueue(item{kind: itemEvent, event: ev})
}

// Expire moves an AwaitingScan session to Expired. It reports whether the
// session was expired by this call.
func (c *Controller) Expire(ctx context.Context) (bool, error) {
	r, err := c.call(ctx, item{kind: itemExpire})
	return r.changed, err
}

// Terminate ends the session: a live session becomes Disconnected, the driver
// handle is released and the controller stops. Terminating a stopped
// controller returns the current record.
func (c *Controller) Terminate(ctx context.Context, reason string) (model.Session, error) {
	r, err := c.call(ctx, item{kind: itemTerminate, reason: reason})
	return r.session, err
}

// Stop halts the controller goroutine without touching the record.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		<-c.stopped
	}
}

func (c *Controller) Stopped() <-chan struct{} {
	return c.stopped
}

// sync returns the record once every previously queued item has been applied.
func (c *Controller) sync(ctx context.Context) (model.Session, error) {
	r, err := c.call(ctx, item{kind: itemSync})
	return r.session, err
}

func (c *Controller) call(ctx context.Context, it item) (reply, error) {
	it.reply = make(chan reply, 1)
	c.enqueue(it)

	select {
	case r := <-it.reply:
		return r, r.err
	case <-c.stopped:
		s, err := c.deps.Records.Get(c.id)
		return reply{session: s}, err
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

func (c *Controller) enqueue(it item) {
	c.mu.Lock()
	c.queue = append(c.queue, it)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Controller) dequeue() (item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return item{}, false
	}
	it := c.queue[0]
	c.queue[0] = item{}
	c.queue = c.queue[1:]
	return it, true
}

func (c *Controller) run() {
	defer close(c.stopped)
	defer c.stopInitTimer()

	c.initialize()

	for !c.halted {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}

		for !c.halted {
			it, ok := c.dequeue()
			if !ok {
				break
			}
			c.handle(it)
		}
	}
}

func (c *Controller) initialize() {
	c.initTimer = time.AfterFunc(c.cfg.InitTimeout, func() {
		c.enqueue(item{kind: itemInitTimeout})
	})

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CommandTimeout)
	defer cancel()

	if err := c.deps.Driver.Initialize(ctx, c.id); err != nil {
		log.Error().Err(err).Str("sessionId", c.id).Msg("driver initialize failed")
		cause := apperrors.DriverInit(err.Error()).WithCause(err)
		c.apply(TriggerInitError, cause, func(s *model.Session) {
			s.LastErrorMessage = strPtr(cause.Message)
		})
	}
}

func (c *Controller) handle(it item) {
	switch it.kind {
	case itemEvent:
		c.handleEvent(it.event)

	case itemInitTimeout:
		s, err := c.deps.Records.Get(c.id)
		if err != nil || s.State != model.SessionStateInitializing {
			return
		}
		log.Warn().Str("sessionId", c.id).Dur("timeout", c.cfg.InitTimeout).Msg("no qr within init timeout")
		c.apply(TriggerInitTimeout, apperrors.Timeout("QR generation"), func(s *model.Session) {
			s.LastErrorMessage = strPtr("no QR code received within timeout")
		})

	case itemExpire:
		s, err := c.deps.Records.Get(c.id)
		if err != nil {
			it.reply <- reply{err: err}
			c.halted = true
			return
		}
		if s.State != model.SessionStateAwaitingScan {
			it.reply <- reply{session: s}
			return
		}
		tr, ok := c.apply(TriggerQRExpired, apperrors.SessionTerminated(), func(s *model.Session) {
			s.LastErrorMessage = strPtr("QR code expired")
		})
		it.reply <- reply{session: tr.Session, changed: ok}

	case itemTerminate:
		it.reply <- c.terminate(it.reason)
		c.halted = true

	case itemSync:
		s, err := c.deps.Records.Get(c.id)
		it.reply <- reply{session: s, err: err}
	}
}

func (c *Controller) terminate(reason string) reply {
	s, err := c.deps.Records.Get(c.id)
	if err != nil {
		return reply{err: err}
	}
	if s.State.IsTerminal() {
		c.release()
		return reply{session: s}
	}

	tr, ok := c.apply(TriggerTerminate, apperrors.SessionTerminated(), func(s *model.Session) {
		if reason != "" {
			s.LastErrorMessage = strPtr(reason)
		}
	})
	if !ok {
		s, err = c.deps.Records.Get(c.id)
		return reply{session: s, err: err}
	}
	return reply{session: tr.Session, changed: true}
}

func (c *Controller) handleEvent(ev model.DriverEvent) {
	logger := log.With().Str("sessionId", c.id).Str("event", string(ev.Type)).Logger()

	switch ev.Type {
	case model.DriverEventQR:
		var data model.QRData
		if err := ev.Decode(&data); err != nil || data.QR == "" {
			logger.Warn().Err(err).Msg("qr event without payload")
			return
		}
		c.apply(TriggerQR, nil, func(s *model.Session) {
			s.QRPayload = strPtr(data.QR)
			if s.QRIssuedAt == nil {
				now := time.Now().UTC()
				s.QRIssuedAt = &now
			}
		})

	case model.DriverEventAuthenticated:
		c.apply(TriggerAuthenticated, nil, nil)

	case model.DriverEventReady:
		var data model.ReadyData
		if err := ev.Decode(&data); err != nil {
			logger.Warn().Err(err).Msg("malformed ready payload")
		}
		_, ok := c.apply(TriggerReady, nil, func(s *model.Session) {
			now := time.Now().UTC()
			s.ConnectedAt = &now
			if data.PhoneNumber != nil && *data.PhoneNumber != "" {
				s.PhoneNumber = strPtr(*data.PhoneNumber)
			}
		})
		if ok && data.PhoneNumber != nil {
			logger.Info().Str("phone", util.MaskPhone(*data.PhoneNumber)).Msg("device linked")
		}

	case model.DriverEventAuthFailure:
		var data model.AuthFailureData
		if err := ev.Decode(&data); err != nil {
			logger.Warn().Err(err).Msg("malformed auth_failure payload")
		}
		cause := apperrors.AuthFailure(data.Message)
		c.apply(TriggerAuthFailure, cause, func(s *model.Session) {
			s.LastErrorMessage = strPtr(cause.Message)
		})

	case model.DriverEventDisconnected:
		var data model.DisconnectedData
		if err := ev.Decode(&data); err != nil {
			logger.Warn().Err(err).Msg("malformed disconnected payload")
		}
		var cause error = apperrors.SessionTerminated()
		if data.Reason == model.DisconnectReasonTransportLost {
			cause = apperrors.Transport(errors.New("driver transport lost"))
		}
		c.apply(TriggerDisconnected, cause, func(s *model.Session) {
			if data.Reason != "" {
				s.LastErrorMessage = strPtr(fmt.Sprintf("disconnected: %s", data.Reason))
			}
		})

	case model.DriverEventContacts, model.DriverEventMessages, model.DriverEventMessageSent:
		c.reply(ev)

	case model.DriverEventError:
		var data model.ErrorData
		if err := ev.Decode(&data); err != nil {
			logger.Warn().Err(err).Msg("malformed error payload")
		}
		switch {
		case data.Action == model.DriverActionInitialize:
			cause := apperrors.DriverInit(data.Message)
			c.apply(TriggerInitError, cause, func(s *model.Session) {
				s.LastErrorMessage = strPtr(cause.Message)
			})
		case data.Fatal:
			cause := apperrors.Driver(data.Message)
			c.apply(TriggerFatalError, cause, func(s *model.Session) {
				s.LastErrorMessage = strPtr(data.Message)
			})
		default:
			logger.Warn().Str("error", data.Message).Str("action", data.Action).Msg("driver reported error")
			if data.Action != "" {
				c.reply(ev)
			}
		}

	case model.DriverEventNewMessage:
		s, err := c.deps.Records.Get(c.id)
		if err != nil {
			return
		}
		if !s.Connected() {
			logger.Warn().Str("state", string(s.State)).Msg("rejected message event for session that is not connected")
			return
		}
		c.notify(model.Notification{
			Type:      model.NotificationMessage,
			SessionID: c.id,
			Data:      ev.Data,
			At:        time.Now().UTC(),
		})

	default:
		logger.Debug().Msg("ignoring event without state effect")
	}
}

func (c *Controller) reply(ev model.DriverEvent) {
	if c.deps.OnReply == nil {
		return
	}
	s, err := c.deps.Records.Get(c.id)
	if err != nil {
		return
	}
	c.deps.OnReply(ev, s)
}

// apply validates and performs one transition atomically against the
// registry, then runs its side effects. It reports whether the transition
// was applied.
func (c *Controller) apply(trigger Trigger, cause error, mutate func(*model.Session)) (Transition, bool) {
	tr := Transition{Trigger: trigger}

	updated, err := c.deps.Records.Update(c.id, func(s *model.Session) error {
		to, ok := Next(s.State, trigger)
		if !ok {
			return apperrors.InvalidTransition(string(s.State), string(trigger))
		}
		tr.From = s.State
		tr.To = to

		s.State = to
		if mutate != nil {
			mutate(s)
		}
		if to != model.SessionStateAwaitingScan {
			s.QRPayload = nil
		}
		if to.IsTerminal() && s.EndedAt == nil {
			now := time.Now().UTC()
			s.EndedAt = &now
		}
		return nil
	})
	if err != nil {
		if apperrors.Is(err, apperrors.ErrCodeInvalidTransition) {
			log.Warn().
				Str("sessionId", c.id).
				Str("from", string(updated.State)).
				Str("event", string(trigger)).
				Msg("rejected invalid transition")
		} else {
			log.Debug().Err(err).Str("sessionId", c.id).Msg("session record gone, stopping controller")
			c.halted = true
		}
		return tr, false
	}

	tr.Session = updated
	if tr.To.IsTerminal() {
		tr.Err = cause
	}

	log.Info().
		Str("sessionId", c.id).
		Str("from", string(tr.From)).
		Str("state", string(tr.To)).
		Str("event", string(trigger)).
		Msg("session transition")

	c.afterTransition(tr)
	return tr, true
}

func (c *Controller) afterTransition(tr Transition) {
	if tr.From == model.SessionStateInitializing {
		c.stopInitTimer()
	}

	c.persist(tr.Session)
	c.notify(model.Notification{
		Type:      model.NotificationStatus,
		SessionID: c.id,
		Session:   &tr.Session,
		At:        time.Now().UTC(),
	})

	if c.deps.OnTransition != nil {
		c.deps.OnTransition(tr)
	}

	if tr.To.IsTerminal() {
		c.release()
	}
}

func (c *Controller) release() {
	if c.released {
		return
	}
	c.released = true

	ctx, cancel := context.WithTimeout(context.Background(), config.DriverReleaseTimeout)
	defer cancel()

	if err := c.deps.Driver.Release(ctx, c.id); err != nil {
		log.Warn().Err(err).Str("sessionId", c.id).Msg("driver release failed")
	}
}

func (c *Controller) persist(s model.Session) {
	if c.deps.Persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), config.PersistTimeout)
	defer cancel()

	if err := c.deps.Persister.SaveSession(ctx, s); err != nil {
		log.Error().Err(err).Str("sessionId", c.id).Msg("failed to persist session")
	}
}

func (c *Controller) notify(n model.Notification) {
	if c.deps.Notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), config.NotifyTimeout)
	defer cancel()

	if err := c.deps.Notifier.Notify(ctx, n); err != nil {
		log.Warn().Err(err).Str("sessionId", c.id).Str("type", n.Type).Msg("failed to publish notification")
	}
}

func (c *Controller) stopInitTimer() {
	if c.initTimer != nil {
		c.initTimer.Stop()
	}
}

func strPtr(s string) *string {
	return &s
}

