package socket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"storefront-live/internal/devserver/hub"
	"storefront-live/internal/realtime/wire"
)

type conn struct {
	ws  *websocket.Conn
	sid string

	hubConn *hub.Connection

	connected atomic.Bool

	sendMu sync.Mutex

	pingMu       sync.Mutex
	awaitingPong bool
	pingSentAt   time.Time
	nextPingAt   time.Time

	closed atomic.Bool
}

func newConn(ws *websocket.Conn, pingInterval time.Duration) *conn {
	c := &conn{
		ws:         ws,
		sid:        uuid.NewString(),
		nextPingAt: time.Now().Add(pingInterval),
	}
	c.hubConn = &hub.Connection{SocketID: c.sid, Writer: hubWriter{c}}
	return c
}

// hubWriter lets the hub fan frames out to this conn.
type hubWriter struct{ c *conn }

func (w hubWriter) Write(message []byte) error { return w.c.writeText(string(message)) }

func (w hubWriter) Close() error {
	w.c.close()
	return nil
}

func (c *conn) close() {
	if c.closed.Swap(true) {
		return
	}
	_ = c.ws.Close()
}

func (c *conn) writeText(msg string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (c *conn) readLoop(onMessage func(string)) {
	defer c.close()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		onMessage(string(data))
	}
}

func (c *conn) pingLoop(interval, timeout time.Duration) {
	tick := time.Second
	if interval/4 < tick {
		tick = interval / 4
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for range ticker.C {
		if c.closed.Load() {
			return
		}
		now := time.Now()
		c.pingMu.Lock()
		awaiting := c.awaitingPong
		pingSentAt := c.pingSentAt
		nextPingAt := c.nextPingAt
		if awaiting && now.Sub(pingSentAt) > timeout {
			c.pingMu.Unlock()
			c.close()
			return
		}
		if !awaiting && !now.Before(nextPingAt) {
			c.awaitingPong = true
			c.pingSentAt = now
			c.nextPingAt = now.Add(interval)
			c.pingMu.Unlock()
			_ = c.writeText(string(wire.EnginePing))
			continue
		}
		c.pingMu.Unlock()
	}
}

func (c *conn) markPong() {
	c.pingMu.Lock()
	c.awaitingPong = false
	c.pingMu.Unlock()
}

func (c *conn) writeConnectError(msg string) error {
	packet, err := wire.EncodeConnectError(msg)
	if err != nil {
		return err
	}
	return c.writeText(packet)
}
