package socket

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"storefront-live/internal/auth"
	"storefront-live/internal/devserver/hub"
	"storefront-live/internal/logging"
	"storefront-live/internal/realtime/wire"
)

const (
	maxPayload   int64         = 1000000
	writeTimeout time.Duration = 10 * time.Second
)

var ErrMissingChannel = errors.New("missing channel")

type Options struct {
	Key          string
	Secret       string
	Cluster      string
	PingInterval time.Duration
	PingTimeout  time.Duration
	Logger       *slog.Logger
}

type Server struct {
	key     string
	secret  string
	cluster string
	hub     *hub.Hub
	logger  *slog.Logger

	pingInterval time.Duration
	pingTimeout  time.Duration

	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

func NewServer(h *hub.Hub, opts Options) *Server {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 20 * time.Second
	}
	return &Server{
		key:          opts.Key,
		secret:       opts.Secret,
		cluster:      opts.Cluster,
		hub:          h,
		logger:       logging.OrDiscard(opts.Logger),
		pingInterval: opts.PingInterval,
		pingTimeout:  opts.PingTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*conn]struct{}),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ws.SetReadLimit(maxPayload)

	c := newConn(ws, s.pingInterval)
	s.registerConn(c)
	defer s.unregisterConn(c)

	open, err := wire.EncodeOpen(wire.Open{
		SID:          uuid.NewString(),
		PingInterval: int(s.pingInterval / time.Millisecond),
		PingTimeout:  int(s.pingTimeout / time.Millisecond),
	})
	if err != nil {
		return
	}
	_ = c.writeText(open)

	go c.pingLoop(s.pingInterval, s.pingTimeout)
	c.readLoop(func(msg string) {
		s.handleMessage(c, msg)
	})
}

func (s *Server) registerConn(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c] = struct{}{}
}

func (s *Server) unregisterConn(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()

	s.hub.Remove(c.hubConn)
	c.close()
}

// Connections returns the number of open sockets.
func (s *Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// DisconnectAll drops every socket without a close handshake.
func (s *Server) DisconnectAll() int {
	s.mu.RLock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		c.close()
	}
	return len(conns)
}

// Publish pushes an event to every subscriber of channel. An empty id gets a
// fresh one; reusing an id models redelivery.
func (s *Server) Publish(channel, event string, data json.RawMessage, id string) (string, int, error) {
	if channel == "" {
		return "", 0, ErrMissingChannel
	}
	if id == "" {
		id = uuid.NewString()
	}
	packet, err := wire.EncodeEvent(nil, wire.EventChannel, wire.ChannelEvent{
		ID:      id,
		Channel: channel,
		Event:   event,
		Data:    data,
	})
	if err != nil {
		return "", 0, err
	}
	delivered := s.hub.Broadcast(channel, []byte(packet))
	s.logger.Info("published", "channel", channel, "event", event, "id", id, "delivered", delivered)
	return id, delivered, nil
}

func (s *Server) handleMessage(c *conn, msg string) {
	f, err := wire.Split(msg)
	if err != nil {
		return
	}

	switch f.Engine {
	case wire.EnginePong:
		c.markPong()
	case wire.EngineClose:
		c.close()
	case wire.EngineMessage:
		s.handleSocketPayload(c, f)
	}
}

func (s *Server) handleSocketPayload(c *conn, f wire.Frame) {
	switch f.Socket {
	case wire.SocketConnect:
		s.handleConnect(c, f.Payload)
	case wire.SocketEvent:
		if !c.connected.Load() {
			return
		}
		s.handleEvent(c, f.Payload)
	case wire.SocketDisconnect:
		c.close()
	}
}

func (s *Server) handleConnect(c *conn, payload string) {
	if c.connected.Load() {
		return
	}

	var req wire.ConnectRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		_ = c.writeConnectError("Invalid connect payload")
		c.close()
		return
	}
	if req.Key == "" || req.Key != s.key {
		_ = c.writeConnectError("Invalid app key")
		c.close()
		return
	}
	if req.Cluster != "" && s.cluster != "" && req.Cluster != s.cluster {
		_ = c.writeConnectError("Unknown cluster")
		c.close()
		return
	}

	c.connected.Store(true)
	reply, err := wire.EncodeConnect(wire.ConnectReply{SID: c.sid})
	if err != nil {
		return
	}
	_ = c.writeText(reply)
}

func (s *Server) handleEvent(c *conn, payload string) {
	pkt, err := wire.ParseEvent(payload)
	if err != nil {
		return
	}

	switch pkt.Name {
	case wire.EventSubscribe:
		var sub wire.Subscribe
		if len(pkt.Args) > 0 {
			_ = json.Unmarshal(pkt.Args[0], &sub)
		}
		reply := s.subscribe(c, sub)
		if pkt.ID == nil {
			return
		}
		ack, err := wire.EncodeAck(*pkt.ID, reply)
		if err == nil {
			_ = c.writeText(ack)
		}
	case wire.EventUnsubscribe:
		var unsub wire.Unsubscribe
		if len(pkt.Args) > 0 && json.Unmarshal(pkt.Args[0], &unsub) == nil && unsub.Channel != "" {
			s.hub.Unsubscribe(unsub.Channel, c.hubConn)
			s.logger.Debug("unsubscribed", "socket", c.sid, "channel", unsub.Channel)
		}
	}
}

func (s *Server) subscribe(c *conn, sub wire.Subscribe) wire.SubscribeReply {
	if sub.Channel == "" {
		return wire.SubscribeReply{Error: ErrMissingChannel.Error()}
	}
	if wire.IsPrivate(sub.Channel) && !auth.VerifyChannel(sub.Auth, s.key, s.secret, c.sid, sub.Channel) {
		s.logger.Warn("rejected subscription", "socket", c.sid, "channel", sub.Channel)
		return wire.SubscribeReply{Error: "Invalid signature"}
	}
	if s.hub.Subscribe(sub.Channel, c.hubConn) {
		s.logger.Debug("subscribed", "socket", c.sid, "channel", sub.Channel)
	}
	return wire.SubscribeReply{OK: true}
}

// Channels lists the channels each open socket holds, keyed by socket id.
func (s *Server) Channels() map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]string, len(s.conns))
	for c := range s.conns {
		if c.connected.Load() {
			out[c.sid] = s.hub.Channels(c.hubConn)
		}
	}
	return out
}
