package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"storefront-live/internal/apperr"
	"storefront-live/internal/logging"
	"storefront-live/internal/realtime/wire"
)

const (
	writeTimeout      = 10 * time.Second
	handshakeTimeout  = 10 * time.Second
	defaultAckTimeout = 10 * time.Second
)

// WSProvider connects to the realtime service over a websocket.
type WSProvider struct {
	URL        string
	Key        string
	Cluster    string
	Header     http.Header
	Dialer     *websocket.Dialer
	AckTimeout time.Duration
	Logger     *slog.Logger
}

func (p *WSProvider) Connect(ctx context.Context) (Conn, error) {
	dialer := p.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, p.URL, p.Header)
	if err != nil {
		return nil, apperr.NewConnectionError(apperr.ConnTransportDrop, err)
	}

	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ws.SetReadDeadline(deadline)

	open, sid, err := p.handshake(ws)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	_ = ws.SetReadDeadline(time.Time{})

	ackTimeout := p.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = defaultAckTimeout
	}
	c := &wsConn{
		ws:         ws,
		sid:        sid,
		logger:     logging.OrDiscard(p.Logger),
		ackTimeout: ackTimeout,
		pendingAck: make(map[int]chan []json.RawMessage),
		handlers:   make(map[string]Handler),
		subs:       make(map[string]bool),
		done:       make(chan struct{}),
		idleLimit:  time.Duration(open.PingInterval+open.PingTimeout) * time.Millisecond,
	}
	c.touch()
	go c.readLoop()
	go c.watchdog()
	return c, nil
}

func (p *WSProvider) handshake(ws *websocket.Conn) (wire.Open, string, error) {
	f, err := readFrame(ws)
	if err != nil {
		return wire.Open{}, "", apperr.NewConnectionError(apperr.ConnTransportDrop, err)
	}
	if f.Engine != wire.EngineOpen {
		return wire.Open{}, "", ErrHandshakeMalformed
	}
	open, err := wire.ParseOpen(f.Payload)
	if err != nil {
		return wire.Open{}, "", fmt.Errorf("%w: %v", ErrHandshakeMalformed, err)
	}

	packet, err := wire.EncodeConnect(wire.ConnectRequest{Key: p.Key, Cluster: p.Cluster})
	if err != nil {
		return wire.Open{}, "", err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, []byte(packet)); err != nil {
		return wire.Open{}, "", apperr.NewConnectionError(apperr.ConnTransportDrop, err)
	}

	for {
		f, err := readFrame(ws)
		if err != nil {
			return wire.Open{}, "", apperr.NewConnectionError(apperr.ConnTransportDrop, err)
		}
		if f.Engine == wire.EnginePing {
			continue
		}
		if f.Engine != wire.EngineMessage {
			return wire.Open{}, "", ErrHandshakeMalformed
		}
		switch f.Socket {
		case wire.SocketConnect:
			var reply wire.ConnectReply
			if err := json.Unmarshal([]byte(f.Payload), &reply); err != nil || reply.SID == "" {
				return wire.Open{}, "", ErrHandshakeMalformed
			}
			return open, reply.SID, nil
		case wire.SocketConnectError:
			var ce wire.ConnectError
			_ = json.Unmarshal([]byte(f.Payload), &ce)
			return wire.Open{}, "", apperr.NewConnectionError(apperr.ConnAuthFailure, errors.New(ce.Message))
		default:
			return wire.Open{}, "", ErrHandshakeMalformed
		}
	}
}

func readFrame(ws *websocket.Conn) (wire.Frame, error) {
	_, data, err := ws.ReadMessage()
	if err != nil {
		return wire.Frame{}, err
	}
	return wire.Split(string(data))
}

type wsConn struct {
	ws         *websocket.Conn
	sid        string
	logger     *slog.Logger
	ackTimeout time.Duration
	idleLimit  time.Duration

	sendMu sync.Mutex

	ackMu      sync.Mutex
	nextAckID  int
	pendingAck map[int]chan []json.RawMessage

	mu       sync.Mutex
	handlers map[string]Handler
	subs     map[string]bool

	lastSeen atomic.Int64

	closeOnce sync.Once
	err       error
	done      chan struct{}
}

func (c *wsConn) SocketID() string { return c.sid }

func (c *wsConn) Done() <-chan struct{} { return c.done }

func (c *wsConn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *wsConn) Close() error {
	_ = c.writeText(string(wire.EngineClose))
	c.finish(ErrClosed)
	return nil
}

func (c *wsConn) finish(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		_ = c.ws.Close()
		close(c.done)
	})
}

func (c *wsConn) touch() { c.lastSeen.Store(time.Now().UnixNano()) }

func (c *wsConn) writeText(msg string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (c *wsConn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.finish(apperr.NewConnectionError(apperr.ConnTransportDrop, err))
			return
		}
		c.touch()
		f, err := wire.Split(string(data))
		if err != nil {
			continue
		}
		switch f.Engine {
		case wire.EnginePing:
			_ = c.writeText(string(wire.EnginePong))
		case wire.EngineClose:
			c.finish(apperr.NewConnectionError(apperr.ConnTransportDrop, errors.New("closed by server")))
			return
		case wire.EngineMessage:
			if stop := c.handleSocket(f); stop {
				return
			}
		}
	}
}

func (c *wsConn) handleSocket(f wire.Frame) bool {
	switch f.Socket {
	case wire.SocketEvent:
		ev, err := wire.ParseEvent(f.Payload)
		if err != nil || ev.Name != wire.EventChannel || len(ev.Args) == 0 {
			return false
		}
		var ce wire.ChannelEvent
		if err := json.Unmarshal(ev.Args[0], &ce); err != nil {
			c.logger.Debug("dropping malformed channel event", "error", err)
			return false
		}
		c.mu.Lock()
		h := c.handlers[ce.Event]
		subscribed := c.subs[ce.Channel]
		c.mu.Unlock()
		if h != nil && subscribed {
			h(ce)
		}
	case wire.SocketAck:
		ack, err := wire.ParseAck(f.Payload)
		if err == nil {
			c.resolveAck(ack.ID, ack.Args)
		}
	case wire.SocketDisconnect:
		c.finish(apperr.NewConnectionError(apperr.ConnTransportDrop, errors.New("disconnected by server")))
		return true
	case wire.SocketConnectError:
		var ce wire.ConnectError
		_ = json.Unmarshal([]byte(f.Payload), &ce)
		c.finish(apperr.NewConnectionError(apperr.ConnAuthFailure, errors.New(ce.Message)))
		return true
	}
	return false
}

// watchdog drops the connection when the server stops pinging.
func (c *wsConn) watchdog() {
	if c.idleLimit <= 0 {
		return
	}
	tick := c.idleLimit / 4
	if tick > time.Second {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if time.Since(time.Unix(0, c.lastSeen.Load())) > c.idleLimit {
				c.finish(apperr.NewConnectionError(apperr.ConnTransportDrop, errors.New("ping timeout")))
				return
			}
		}
	}
}

func (c *wsConn) Bind(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = h
}

func (c *wsConn) Subscribe(ctx context.Context, channel string, auth AuthFunc) error {
	c.mu.Lock()
	if c.subs[channel] {
		c.mu.Unlock()
		return nil
	}
	// Marked up front so events pushed right behind the ack are kept.
	c.subs[channel] = true
	c.mu.Unlock()

	if err := c.subscribe(ctx, channel, auth); err != nil {
		c.mu.Lock()
		delete(c.subs, channel)
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *wsConn) subscribe(ctx context.Context, channel string, auth AuthFunc) error {
	req := wire.Subscribe{Channel: channel}
	if wire.IsPrivate(channel) && auth != nil {
		sig, err := auth(ctx, c.sid, channel)
		if err != nil {
			return fmt.Errorf("authorize %s: %w", channel, err)
		}
		req.Auth = sig
	}

	args, err := c.emitWithAck(ctx, wire.EventSubscribe, req)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	var reply wire.SubscribeReply
	if len(args) == 0 || json.Unmarshal(args[0], &reply) != nil {
		return fmt.Errorf("subscribe %s: %w", channel, ErrHandshakeMalformed)
	}
	if !reply.OK {
		return fmt.Errorf("subscribe %s: %w: %s", channel, ErrSubscribeRejected, reply.Error)
	}
	return nil
}

func (c *wsConn) Unsubscribe(ctx context.Context, channel string) error {
	c.mu.Lock()
	was := c.subs[channel]
	delete(c.subs, channel)
	c.mu.Unlock()
	if !was {
		return nil
	}
	packet, err := wire.EncodeEvent(nil, wire.EventUnsubscribe, wire.Unsubscribe{Channel: channel})
	if err != nil {
		return err
	}
	return c.writeText(packet)
}

func (c *wsConn) emitWithAck(ctx context.Context, event string, arg any) ([]json.RawMessage, error) {
	c.ackMu.Lock()
	c.nextAckID++
	id := c.nextAckID
	ch := make(chan []json.RawMessage, 1)
	c.pendingAck[id] = ch
	c.ackMu.Unlock()

	drop := func() {
		c.ackMu.Lock()
		delete(c.pendingAck, id)
		c.ackMu.Unlock()
	}

	packet, err := wire.EncodeEvent(&id, event, arg)
	if err != nil {
		drop()
		return nil, err
	}
	if err := c.writeText(packet); err != nil {
		drop()
		return nil, err
	}

	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		drop()
		return nil, ErrAckTimeout
	case <-ctx.Done():
		drop()
		return nil, ctx.Err()
	case <-c.done:
		drop()
		return nil, ErrClosed
	}
}

func (c *wsConn) resolveAck(id int, args []json.RawMessage) {
	c.ackMu.Lock()
	ch := c.pendingAck[id]
	delete(c.pendingAck, id)
	c.ackMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- args:
	default:
	}
}
