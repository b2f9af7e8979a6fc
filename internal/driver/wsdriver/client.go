// Package wsdriver implements driver.Driver over a single WebSocket shared by
// every session. Outbound frames are model.Command envelopes, inbound frames are
// model.DriverEvent envelopes tagged with the session id.
package wsdriver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-session-broker/internal/config"
	"github.com/openclaw/wa-session-broker/internal/driver"
	apperrors "github.com/openclaw/wa-session-broker/internal/errors"
	"github.com/openclaw/wa-session-broker/internal/model"
)

var errNotConnected = errors.New("driver transport not connected")

type Options struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration
	PongWait     time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	Header       http.Header
}

func DefaultOptions() Options {
	return Options{
		DialTimeout:  config.DriverDialTimeout,
		WriteTimeout: config.DriverWriteTimeout,
		PingInterval: config.DriverPingInterval,
		PongWait:     config.DriverPongWait,
		ReconnectMin: config.DriverReconnectMin,
		ReconnectMax: config.DriverReconnectMax,
	}
}

type Client struct {
	url    string
	opts   Options
	dialer *websocket.Dialer

	connMu sync.RWMutex
	conn   *websocket.Conn

	// writeMu serializes frames; gorilla connections allow one concurrent writer.
	writeMu sync.Mutex

	handlersMu  sync.RWMutex
	handlers    map[int]driver.EventHandler
	nextHandler int

	// sessions initialized over the current connection
	activeMu sync.Mutex
	active   map[string]struct{}

	connected atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

var _ driver.Driver = (*Client)(nil)

func New(url string, opts Options) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:  url,
		opts: opts,
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.DialTimeout,
		},
		handlers: make(map[int]driver.EventHandler),
		active:   make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the connect loop. The client keeps reconnecting until Close.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.run()
	log.Info().Str("url", c.url).Msg("driver transport started")
}

func (c *Client) Close() error {
	c.cancel()
	if conn := c.currentConn(); conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "broker shutdown"),
			time.Now().Add(time.Second))
		conn.Close()
	}
	c.wg.Wait()
	log.Info().Msg("driver transport stopped")
	return nil
}

func (c *Client) Connected() bool {
	return c.connected.Load()
}

func (c *Client) Initialize(ctx context.Context, sessionID string) error {
	c.activeMu.Lock()
	c.active[sessionID] = struct{}{}
	c.activeMu.Unlock()

	if err := c.send(ctx, sessionID, model.DriverActionInitialize, nil); err != nil {
		c.forget(sessionID)
		return err
	}
	return nil
}

func (c *Client) GetContacts(ctx context.Context, sessionID string) error {
	return c.send(ctx, sessionID, model.DriverActionGetContacts, nil)
}

func (c *Client) GetMessages(ctx context.Context, sessionID, contactID string, from, to time.Time) error {
	return c.send(ctx, sessionID, model.DriverActionGetMessages, model.GetMessagesPayload{
		ContactID: contactID,
		DateFrom:  from,
		DateTo:    to,
	})
}

func (c *Client) SendMessage(ctx context.Context, sessionID, contactID, text string) error {
	return c.send(ctx, sessionID, model.DriverActionSendMessage, model.SendMessagePayload{
		ContactID: contactID,
		Message:   text,
	})
}

func (c *Client) Release(ctx context.Context, sessionID string) error {
	if !c.forget(sessionID) || !c.Connected() {
		return nil
	}
	return c.send(ctx, sessionID, model.DriverActionDestroy, nil)
}

func (c *Client) Subscribe(handler driver.EventHandler) func() {
	c.handlersMu.Lock()
	id := c.nextHandler
	c.nextHandler++
	c.handlers[id] = handler
	c.handlersMu.Unlock()

	return func() {
		c.handlersMu.Lock()
		delete(c.handlers, id)
		c.handlersMu.Unlock()
	}
}

func (c *Client) send(ctx context.Context, sessionID, action string, payload any) error {
	cmd := model.Command{SessionID: sessionID, Action: action}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return apperrors.Internal("failed to encode driver command").WithCause(err)
		}
		cmd.Payload = data
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn := c.currentConn()
	if conn == nil {
		return apperrors.Transport(errNotConnected)
	}

	deadline := time.Now().Add(c.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetWriteDeadline(deadline)

	if err := conn.WriteJSON(cmd); err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Str("action", action).Msg("driver command write failed")
		return apperrors.Transport(err)
	}

	log.Debug().Str("sessionId", sessionID).Str("action", action).Msg("driver command sent")
	return nil
}

func (c *Client) run() {
	defer c.wg.Done()

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = c.opts.ReconnectMin
	retry.MaxInterval = c.opts.ReconnectMax
	retry.MaxElapsedTime = 0
	retry.Reset()

	for {
		if c.ctx.Err() != nil {
			return
		}

		conn, _, err := c.dialer.DialContext(c.ctx, c.url, c.opts.Header)
		if err != nil {
			wait := retry.NextBackOff()
			log.Warn().Err(err).Dur("retryIn", wait).Msg("driver transport dial failed")
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		retry.Reset()

		c.setConn(conn)
		log.Info().Str("url", c.url).Msg("driver transport connected")

		err = c.serve(conn)

		c.setConn(nil)
		conn.Close()
		lost := c.dropActive()

		if c.ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Int("sessions", lost).Msg("driver transport lost")
	}
}

func (c *Client) serve(conn *websocket.Conn) error {
	extend := func() { conn.SetReadDeadline(time.Now().Add(c.opts.PongWait)) }
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	stop := make(chan struct{})
	defer close(stop)
	go c.keepalive(conn, stop)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		extend()

		var ev model.DriverEvent
		if err := json.Unmarshal(frame, &ev); err != nil {
			log.Warn().Err(err).Msg("malformed driver event")
			continue
		}
		if ev.SessionID == "" || ev.Type == "" {
			log.Warn().Str("type", string(ev.Type)).Msg("driver event missing type or session id")
			continue
		}
		if ev.Type == model.DriverEventDisconnected {
			c.forget(ev.SessionID)
		}

		c.dispatch(ev)
	}
}

func (c *Client) keepalive(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				log.Debug().Err(err).Msg("driver ping failed")
				return
			}
		}
	}
}

func (c *Client) dispatch(ev model.DriverEvent) {
	c.handlersMu.RLock()
	handlers := make([]driver.EventHandler, 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.handlersMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// dropActive reports every session initialized over the lost connection as
// disconnected; their automation instances did not survive the worker link.
func (c *Client) dropActive() int {
	c.activeMu.Lock()
	lost := make([]string, 0, len(c.active))
	for id := range c.active {
		lost = append(lost, id)
	}
	c.active = make(map[string]struct{})
	c.activeMu.Unlock()

	for _, id := range lost {
		c.dispatch(model.NewDriverEvent(model.DriverEventDisconnected, id, model.DisconnectedData{
			Reason: model.DisconnectReasonTransportLost,
		}))
	}
	return len(lost)
}

func (c *Client) forget(sessionID string) bool {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	_, ok := c.active[sessionID]
	delete(c.active, sessionID)
	return ok
}

func (c *Client) currentConn() *websocket.Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.connected.Store(conn != nil)
}
