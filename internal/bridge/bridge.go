// Package bridge is the command surface of the broker. It owns the session
// registry, starts one controller per session, routes driver events to them
// and correlates driver responses with waiting callers.
package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-session-broker/internal/config"
	"github.com/openclaw/wa-session-broker/internal/driver"
	apperrors "github.com/openclaw/wa-session-broker/internal/errors"
	"github.com/openclaw/wa-session-broker/internal/extraction"
	"github.com/openclaw/wa-session-broker/internal/model"
	"github.com/openclaw/wa-session-broker/internal/registry"
	"github.com/openclaw/wa-session-broker/internal/session"
)

type Extractor interface {
	Process(ctx context.Context, req extraction.Request) (*extraction.Result, error)
}

// SessionStore persists the session projection across restarts.
type SessionStore interface {
	SaveSession(ctx context.Context, s model.Session) error
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context) ([]model.Session, error)
}

type Config struct {
	QRTimeout       time.Duration
	ContactsTimeout time.Duration
	ExtractTimeout  time.Duration
	SendTimeout     time.Duration
	CommandTimeout  time.Duration
	// ReuseConnected makes Generate return an owner's existing Connected
	// session instead of provisioning a new one.
	ReuseConnected bool
}

type Deps struct {
	Driver    driver.Driver
	Extractor Extractor
	Sessions  SessionStore
	Notifier  session.Notifier
}

type ExtractParams struct {
	SessionID string
	ContactID string
	From      time.Time
	To        time.Time
}

type Bridge struct {
	registry  *registry.Registry[*session.Controller]
	pending   *pendingTable
	driver    driver.Driver
	extractor Extractor
	sessions  SessionStore
	notifier  session.Notifier
	cfg       Config

	unsubscribe func()
}

func New(deps Deps, cfg Config) *Bridge {
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = config.DriverWriteTimeout
	}
	b := &Bridge{
		registry:  registry.New[*session.Controller](),
		pending:   newPendingTable(),
		driver:    deps.Driver,
		extractor: deps.Extractor,
		sessions:  deps.Sessions,
		notifier:  deps.Notifier,
		cfg:       cfg,
	}
	b.unsubscribe = deps.Driver.Subscribe(b.handleEvent)
	return b
}

// Generate provisions a session for ownerID and waits for its first QR code,
// or for authentication when the driver restored credentials.
func (b *Bridge) Generate(ctx context.Context, ownerID string) (model.Session, error) {
	if ownerID == "" {
		return model.Session{}, apperrors.MissingRequired("ownerId")
	}

	if b.cfg.ReuseConnected {
		for _, s := range b.registry.List(ownerID) {
			if s.Connected() {
				log.Info().Str("sessionId", s.ID).Str("ownerId", ownerID).Msg("reusing connected session")
				return s, nil
			}
		}
	}

	rec := b.registry.Create(ownerID)
	ctrl := session.New(rec.ID, session.Deps{
		Records:      b.registry,
		Driver:       b.driver,
		Notifier:     b.notifier,
		Persister:    b.sessions,
		OnTransition: b.onTransition,
		OnReply:      b.onReply,
	}, session.Config{
		InitTimeout:    b.cfg.QRTimeout,
		CommandTimeout: b.cfg.CommandTimeout,
	})
	if err := b.registry.SetHandle(rec.ID, ctrl); err != nil {
		return model.Session{}, apperrors.Internal("failed to attach session controller").WithCause(err)
	}

	ch, err := b.pending.register(rec.ID, kindQR, b.cfg.QRTimeout)
	if err != nil {
		return model.Session{}, err
	}

	b.persist(rec)
	log.Info().Str("sessionId", rec.ID).Str("ownerId", ownerID).Msg("session created")
	ctrl.Start()

	resp, err := b.await(ctx, rec.ID, kindQR, ch)
	if err != nil {
		if ctx.Err() != nil {
			log.Info().Str("sessionId", rec.ID).Msg("caller went away during generate, terminating session")
			b.Terminate(context.Background(), rec.ID)
		}
		current, _ := b.registry.Get(rec.ID)
		return current, err
	}
	return resp.value.(model.Session), nil
}

// CheckStatus returns the cached record. It never waits on the driver.
func (b *Bridge) CheckStatus(id string) (model.Session, error) {
	return b.registry.Get(id)
}

func (b *Bridge) List(ownerID string) []model.Session {
	return b.registry.List(ownerID)
}

func (b *Bridge) Snapshot() []model.Session {
	return b.registry.List("")
}

func (b *Bridge) Counts() map[model.SessionState]int {
	return b.registry.Counts()
}

func (b *Bridge) ListContacts(ctx context.Context, id string) ([]model.Contact, error) {
	if _, err := b.requireConnected(id); err != nil {
		return nil, err
	}

	ch, err := b.pending.register(id, kindContacts, b.cfg.ContactsTimeout)
	if err != nil {
		return nil, err
	}
	if err := b.driver.GetContacts(ctx, id); err != nil {
		b.pending.cancel(id, kindContacts)
		return nil, driverError(err)
	}

	resp, err := b.await(ctx, id, kindContacts, ch)
	if err != nil {
		return nil, err
	}
	return resp.value.([]model.Contact), nil
}

// ExtractMessages fetches the messages of one chat and runs them through the
// extraction pipeline. ExtractTimeout covers both the driver's answer and the
// media downloads. A request that times out is abandoned: the driver's
// eventual answer is discarded.
func (b *Bridge) ExtractMessages(ctx context.Context, p ExtractParams) (*extraction.Result, error) {
	if p.ContactID == "" {
		return nil, apperrors.MissingRequired("contactId")
	}
	if p.From.IsZero() || p.To.IsZero() {
		return nil, apperrors.ValidationError("dateFrom and dateTo are required")
	}
	if p.To.Before(p.From) {
		return nil, apperrors.ValidationError("dateFrom must not be after dateTo")
	}

	s, err := b.requireConnected(p.SessionID)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(b.cfg.ExtractTimeout)
	ch, err := b.pending.register(p.SessionID, kindMessages, b.cfg.ExtractTimeout)
	if err != nil {
		return nil, err
	}
	if err := b.driver.GetMessages(ctx, p.SessionID, p.ContactID, p.From, p.To); err != nil {
		b.pending.cancel(p.SessionID, kindMessages)
		return nil, driverError(err)
	}

	resp, err := b.await(ctx, p.SessionID, kindMessages, ch)
	if err != nil {
		return nil, err
	}

	data := resp.value.(model.MessagesData)
	chatID := data.ChatID
	if chatID == "" {
		chatID = p.ContactID
	}

	return b.extractor.Process(ctx, extraction.Request{
		SessionID: p.SessionID,
		OwnerID:   s.OwnerID,
		ChatID:    chatID,
		Window:    extraction.Window{From: p.From, To: p.To},
		Messages:  data.Messages,

		MediaDeadline: deadline,
	})
}

func (b *Bridge) SendMessage(ctx context.Context, id, contactID, text string) (model.MessageSentData, error) {
	if contactID == "" {
		return model.MessageSentData{}, apperrors.MissingRequired("contactId")
	}
	if text == "" {
		return model.MessageSentData{}, apperrors.MissingRequired("message")
	}
	if _, err := b.requireConnected(id); err != nil {
		return model.MessageSentData{}, err
	}

	ch, err := b.pending.register(id, kindSend, b.cfg.SendTimeout)
	if err != nil {
		return model.MessageSentData{}, err
	}
	if err := b.driver.SendMessage(ctx, id, contactID, text); err != nil {
		b.pending.cancel(id, kindSend)
		return model.MessageSentData{}, driverError(err)
	}

	resp, err := b.await(ctx, id, kindSend, ch)
	if err != nil {
		return model.MessageSentData{}, err
	}
	return resp.value.(model.MessageSentData), nil
}

// Terminate ends a session and releases its driver handle. The record stays
// in the registry as Disconnected until the janitor evicts it, so repeated
// calls succeed.
func (b *Bridge) Terminate(ctx context.Context, id string) (model.Session, error) {
	s, err := b.registry.Get(id)
	if err != nil {
		return model.Session{}, err
	}

	if ctrl, ok := b.registry.Handle(id); ok {
		s, err = ctrl.Terminate(ctx, "terminated by request")
		if err != nil {
			return model.Session{}, err
		}
	}

	b.pending.failAll(id, apperrors.SessionTerminated())
	return s, nil
}

// Expire moves an AwaitingScan session to Expired. It reports whether it did.
func (b *Bridge) Expire(ctx context.Context, id string) (bool, error) {
	ctrl, ok := b.registry.Handle(id)
	if !ok {
		return false, nil
	}
	return ctrl.Expire(ctx)
}

// Evict removes a terminal session from the registry and the session store.
// Sessions that are not terminal are never evicted.
func (b *Bridge) Evict(ctx context.Context, id string) (bool, error) {
	s, err := b.registry.Get(id)
	if err != nil {
		return false, nil
	}
	if !s.State.IsTerminal() {
		return false, nil
	}

	if ctrl, ok := b.registry.Remove(id); ok {
		ctrl.Stop()
	}
	b.pending.failAll(id, apperrors.SessionTerminated())

	if err := b.driver.Release(ctx, id); err != nil {
		log.Warn().Err(err).Str("sessionId", id).Msg("driver release failed during eviction")
	}

	if b.sessions != nil {
		if err := b.sessions.DeleteSession(ctx, id); err != nil {
			return true, err
		}
	}

	log.Info().Str("sessionId", id).Str("state", string(s.State)).Msg("session evicted")
	return true, nil
}

// Restore loads persisted sessions into the registry. Sessions that were live
// when the previous process stopped come back Disconnected: their driver
// handles did not survive.
func (b *Bridge) Restore(ctx context.Context) (int, error) {
	if b.sessions == nil {
		return 0, nil
	}

	stored, err := b.sessions.ListSessions(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, s := range stored {
		if !s.State.IsTerminal() {
			now := time.Now().UTC()
			msg := "broker restarted"
			s.State = model.SessionStateDisconnected
			s.QRPayload = nil
			s.EndedAt = &now
			s.UpdatedAt = now
			s.LastErrorMessage = &msg
			if err := b.sessions.SaveSession(ctx, s); err != nil {
				log.Warn().Err(err).Str("sessionId", s.ID).Msg("failed to persist restored session")
			}
		}
		if b.registry.Insert(s) {
			restored++
		}
	}

	log.Info().Int("count", restored).Msg("sessions restored")
	return restored, nil
}

// Shutdown stops every controller, releases live driver handles and fails
// all pending requests.
func (b *Bridge) Shutdown(ctx context.Context) {
	if b.unsubscribe != nil {
		b.unsubscribe()
	}

	for _, ctrl := range b.registry.Handles() {
		ctrl.Stop()
		s, err := b.registry.Get(ctrl.ID())
		if err != nil || s.State.IsTerminal() {
			continue
		}
		if err := b.driver.Release(ctx, ctrl.ID()); err != nil {
			log.Warn().Err(err).Str("sessionId", ctrl.ID()).Msg("driver release failed during shutdown")
		}
	}

	if n := b.pending.failAll("", apperrors.SessionTerminated()); n > 0 {
		log.Info().Int("count", n).Msg("failed pending requests on shutdown")
	}
}

func (b *Bridge) requireConnected(id string) (model.Session, error) {
	s, err := b.registry.Get(id)
	if err != nil {
		return model.Session{}, err
	}
	if !s.Connected() {
		return s, apperrors.SessionNotReady(string(s.State))
	}
	return s, nil
}

func (b *Bridge) await(ctx context.Context, id string, kind requestKind, ch <-chan response) (response, error) {
	select {
	case r := <-ch:
		return r, r.err
	case <-ctx.Done():
		b.pending.cancel(id, kind)
		return response{}, ctx.Err()
	}
}

func (b *Bridge) onTransition(tr session.Transition) {
	id := tr.Session.ID

	if tr.From == model.SessionStateInitializing &&
		(tr.To == model.SessionStateAwaitingScan || tr.To == model.SessionStateAuthenticated) {
		b.pending.resolve(id, kindQR, response{value: tr.Session})
		return
	}

	if tr.To.IsTerminal() {
		err := tr.Err
		if err == nil {
			err = apperrors.SessionTerminated()
		}
		if n := b.pending.failAll(id, err); n > 0 {
			log.Debug().Str("sessionId", id).Int("count", n).Msg("failed pending requests of ended session")
		}
	}
}

func (b *Bridge) persist(s model.Session) {
	if b.sessions == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), config.PersistTimeout)
	defer cancel()

	if err := b.sessions.SaveSession(ctx, s); err != nil {
		log.Error().Err(err).Str("sessionId", s.ID).Msg("failed to persist session")
	}
}

func driverError(err error) error {
	if apperrors.IsAppError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperrors.Transport(err)
}
