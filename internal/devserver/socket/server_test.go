package socket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"storefront-live/internal/apperr"
	"storefront-live/internal/auth"
	"storefront-live/internal/devserver/hub"
	"storefront-live/internal/realtime"
	"storefront-live/internal/realtime/wire"
)

const (
	testKey    = "app-key"
	testSecret = "app-secret"
)

func startServer(t *testing.T, opts Options) (*Server, *hub.Hub, string) {
	t.Helper()
	h := hub.New()
	opts.Key, opts.Secret, opts.Cluster = testKey, testSecret, "local"
	s := NewServer(h, opts)
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return s, h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func signer(ctx context.Context, socketID, channel string) (string, error) {
	return auth.SignChannel(testKey, testSecret, socketID, channel), nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func dial(t *testing.T, url, key string) (realtime.Conn, error) {
	t.Helper()
	p := &realtime.WSProvider{URL: url, Key: key, Cluster: "local", AckTimeout: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return p.Connect(ctx)
}

func TestSubscribeAndPublish(t *testing.T) {
	s, h, url := startServer(t, Options{})
	conn, err := dial(t, url, testKey)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	got := make(chan wire.ChannelEvent, 2)
	conn.Bind("order-created", func(ev wire.ChannelEvent) { got <- ev })
	if err := conn.Subscribe(context.Background(), "private-user-7", signer); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	id, delivered, err := s.Publish("private-user-7", "order-created", json.RawMessage(`{"id":"o1"}`), "")
	if err != nil || delivered != 1 || id == "" {
		t.Fatalf("Publish = %q, %d, %v", id, delivered, err)
	}
	select {
	case ev := <-got:
		if ev.ID != id || ev.Channel != "private-user-7" || string(ev.Data) != `{"id":"o1"}` {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}

	chans := s.Channels()[conn.SocketID()]
	if len(chans) != 1 || chans[0] != "private-user-7" {
		t.Fatalf("unexpected server-side channels %v", chans)
	}

	if err := conn.Unsubscribe(context.Background(), "private-user-7"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	waitFor(t, "unsubscribe", func() bool { return h.Subscribers("private-user-7") == 0 })
	if _, delivered, _ := s.Publish("private-user-7", "order-created", nil, ""); delivered != 0 {
		t.Fatalf("expected no deliveries after unsubscribe, got %d", delivered)
	}
}

func TestRejectsBadChannelSignature(t *testing.T) {
	_, _, url := startServer(t, Options{})
	conn, err := dial(t, url, testKey)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	forged := func(ctx context.Context, socketID, channel string) (string, error) {
		return auth.SignChannel(testKey, "wrong", socketID, channel), nil
	}
	err = conn.Subscribe(context.Background(), "private-user-7", forged)
	if !errors.Is(err, realtime.ErrSubscribeRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if err := conn.Subscribe(context.Background(), "public-news", nil); err != nil {
		t.Fatalf("public channel should not need auth: %v", err)
	}
}

func TestRejectsWrongKey(t *testing.T) {
	_, _, url := startServer(t, Options{})
	_, err := dial(t, url, "other-key")
	if !apperr.IsAuthFailure(err) {
		t.Fatalf("expected auth failure, got %v", err)
	}
}

func TestDisconnectAllDropsClients(t *testing.T) {
	s, _, url := startServer(t, Options{})
	conn, err := dial(t, url, testKey)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, "registration", func() bool { return s.Connections() == 1 })

	if n := s.DisconnectAll(); n != 1 {
		t.Fatalf("expected 1 disconnect, got %d", n)
	}
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected client to observe the drop")
	}
	var ce *apperr.ConnectionError
	if !errors.As(conn.Err(), &ce) || ce.Kind != apperr.ConnTransportDrop {
		t.Fatalf("expected transport drop, got %v", conn.Err())
	}
	waitFor(t, "unregister", func() bool { return s.Connections() == 0 })
}

func TestKeepaliveHoldsConnection(t *testing.T) {
	s, _, url := startServer(t, Options{PingInterval: 40 * time.Millisecond, PingTimeout: 500 * time.Millisecond})
	conn, err := dial(t, url, testKey)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	time.Sleep(300 * time.Millisecond)
	select {
	case <-conn.Done():
		t.Fatalf("connection dropped despite pongs: %v", conn.Err())
	default:
	}
	if s.Connections() != 1 {
		t.Fatalf("expected server to keep the socket")
	}
}

func TestPublishRequiresChannel(t *testing.T) {
	s, _, _ := startServer(t, Options{})
	if _, _, err := s.Publish("", "x", nil, ""); !errors.Is(err, ErrMissingChannel) {
		t.Fatalf("expected ErrMissingChannel, got %v", err)
	}
}
