package realtime

import (
	"context"
	"errors"

	"storefront-live/internal/realtime/wire"
)

var (
	ErrClosed             = errors.New("realtime connection closed")
	ErrSubscribeRejected  = errors.New("subscription rejected")
	ErrAckTimeout         = errors.New("realtime ack timeout")
	ErrHandshakeMalformed = errors.New("malformed realtime handshake")
)

// AuthFunc returns the opaque signature a private channel subscription carries.
type AuthFunc func(ctx context.Context, socketID, channel string) (string, error)

// Handler receives events pushed on a subscribed channel. It runs on the
// connection's read goroutine.
type Handler func(ev wire.ChannelEvent)

type Provider interface {
	Connect(ctx context.Context) (Conn, error)
}

// Conn is one live provider connection. Subscribing to a channel that is
// already subscribed is a no-op. Binding an event replaces any earlier
// handler for it.
type Conn interface {
	SocketID() string
	Subscribe(ctx context.Context, channel string, auth AuthFunc) error
	Unsubscribe(ctx context.Context, channel string) error
	Bind(event string, h Handler)
	Done() <-chan struct{}
	Err() error
	Close() error
}
