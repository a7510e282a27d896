package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"storefront-live/internal/apperr"
	"storefront-live/internal/auth"
	"storefront-live/internal/config"
	"storefront-live/internal/devserver/middleware"
	"storefront-live/internal/devserver/server"
	"storefront-live/internal/devserver/socket"
	"storefront-live/internal/devserver/store"
	"storefront-live/internal/httpclient"
	"storefront-live/internal/model"
	"storefront-live/internal/popup"
	"storefront-live/internal/realtime"
	"storefront-live/internal/realtime/wire"
)

type shown struct {
	mu    sync.Mutex
	ids   []string
	hides int
}

func (r *shown) Show(p model.Popup, n model.Notification, pos popup.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, n.ID)
}

func (r *shown) Hide(model.Popup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hides++
}

func (r *shown) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

type env struct {
	srv      *httptest.Server
	store    *store.Store
	socket   *socket.Server
	rt       *Runtime
	renderer *shown
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func setup(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewWithOptions(store.Options{BcryptCost: bcrypt.MinCost})
	if err := st.Seed(store.DevSeeds()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	deps := server.Deps{
		Store:          st,
		TokenConfig:    auth.TokenConfig{Secret: "secret", AccessTTL: time.Minute, RefreshTTL: time.Hour, Issuer: "test"},
		RealtimeKey:    "key",
		RealtimeSecret: "rt-secret",
		LoginLimit:     100,
	}
	deps.Socket = server.NewSocket(deps)
	srv := httptest.NewServer(server.NewRouter(deps))
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.APIBaseURL = srv.URL
	cfg.RealtimeURL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/realtime"
	cfg.RealtimeKey = "key"
	cfg.RequestTimeout = 5 * time.Second
	cfg.ReconnectMin = 20 * time.Millisecond
	cfg.ReconnectMax = 100 * time.Millisecond
	cfg.Popups.Duration = time.Minute

	renderer := &shown{}
	rt, err := New(Options{Config: cfg, Renderer: renderer, Cue: popup.NopCue{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(rt.Close)
	return &env{srv: srv, store: st, socket: deps.Socket, rt: rt, renderer: renderer}
}

func (e *env) login(t *testing.T, email string) model.Identity {
	t.Helper()
	e.rt.Start(context.Background())
	id, err := e.rt.Login(context.Background(), email, "password")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	eventually(t, "subscriptions", func() bool {
		return e.rt.Realtime.IsConnected() && len(e.rt.Realtime.Channels()) == len(realtime.Channels(&id))
	})
	return id
}

// publish retries until a subscriber received the event. Reusing the id keeps
// the retries idempotent on the client.
func (e *env) publish(t *testing.T, channel, event, id string, data any) {
	t.Helper()
	raw, _ := json.Marshal(data)
	eventually(t, "delivery of "+id, func() bool {
		_, delivered, err := e.socket.Publish(channel, event, raw, id)
		if err != nil {
			t.Fatalf("Publish: %v", err)
		}
		if delivered == 0 {
			return false
		}
		_, ok := e.rt.Notifications.Get(id)
		return ok
	})
}

func (e *env) setCookie(t *testing.T, name, value string) {
	t.Helper()
	u, _ := url.Parse(e.srv.URL)
	e.rt.Client.Jar().SetCookies(u, []*http.Cookie{{Name: name, Value: value, Path: "/"}})
}

func TestPushedEventReachesFeedAndPopups(t *testing.T) {
	e := setup(t)
	id := e.login(t, "seller@example.com")

	want := []string{wire.UserChannel(id.ID), "private-role-seller"}
	got := e.rt.Realtime.Channels()
	if got[0] != want[1] || got[1] != want[0] {
		t.Fatalf("unexpected channels %v", got)
	}

	e.publish(t, wire.UserChannel(id.ID), "order-created", "evt-1", map[string]string{
		"title":   "New order",
		"message": "Order #1001",
	})
	n, _ := e.rt.Notifications.Get("evt-1")
	if n.Type != "order-created" || !n.Urgent || n.Read {
		t.Fatalf("unexpected notification %+v", n)
	}
	eventually(t, "popup", func() bool { return e.renderer.count() == 1 })

	// Redelivery of the same id is absorbed.
	raw, _ := json.Marshal(map[string]string{"title": "New order"})
	if _, delivered, _ := e.socket.Publish(wire.UserChannel(id.ID), "order-created", raw, "evt-1"); delivered != 1 {
		t.Fatalf("expected delivery to one socket, got %d", delivered)
	}
	e.publish(t, "private-role-seller", "low-stock", "evt-2", map[string]string{"title": "Low stock"})
	if e.rt.Notifications.Len() != 2 || e.rt.Notifications.UnreadCount() != 2 {
		t.Fatalf("expected 2 unread, got len=%d unread=%d", e.rt.Notifications.Len(), e.rt.Notifications.UnreadCount())
	}
	eventually(t, "second popup", func() bool { return e.renderer.count() == 2 })
}

func TestReconnectAfterServerDrop(t *testing.T) {
	e := setup(t)
	id := e.login(t, "shopper@example.com")

	var mu sync.Mutex
	var states []model.ConnectionState
	cancel := e.rt.Realtime.OnStateChange(func(s model.ConnectionState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	defer cancel()

	if n := e.socket.DisconnectAll(); n != 1 {
		t.Fatalf("expected one socket dropped, got %d", n)
	}
	eventually(t, "reconnect", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) >= 2 && states[len(states)-1] == model.StateConnected
	})

	e.publish(t, wire.UserChannel(id.ID), "order-status-updated", "evt-after-drop", map[string]string{"title": "Shipped"})
	if e.rt.Notifications.Len() != 1 {
		t.Fatalf("expected one notification, got %d", e.rt.Notifications.Len())
	}
	for _, chans := range e.socket.Channels() {
		if len(chans) > 1 {
			t.Fatalf("expected the user channel only once, got %v", chans)
		}
	}
}

func TestExpiredAccessTokenIsRefreshed(t *testing.T) {
	e := setup(t)
	e.login(t, "seller@example.com")
	// The anonymous boot probe already spent one episode on a failed refresh.
	before := e.rt.Refresh.Episodes()

	e.setCookie(t, middleware.AccessCookie, "garbage")
	if err := e.rt.Session.RefreshProfile(context.Background()); err != nil {
		t.Fatalf("RefreshProfile: %v", err)
	}
	if got := e.rt.Refresh.Episodes() - before; got != 1 {
		t.Fatalf("expected one refresh, got %d", got)
	}
	if !e.rt.Session.IsAuthenticated() {
		t.Fatalf("session should survive a refresh")
	}
}

func TestFailedRefreshEndsSession(t *testing.T) {
	e := setup(t)
	id := e.login(t, "seller@example.com")
	e.publish(t, wire.UserChannel(id.ID), "payment-received", "evt-pay", map[string]string{"title": "Paid"})

	e.setCookie(t, middleware.AccessCookie, "garbage")
	e.setCookie(t, middleware.RefreshCookie, "garbage")
	if err := e.rt.Session.RefreshProfile(context.Background()); err == nil {
		t.Fatalf("expected error once refresh fails")
	}
	if e.rt.Session.IsAuthenticated() {
		t.Fatalf("identity should be cleared")
	}
	eventually(t, "disconnect", func() bool {
		return e.rt.Realtime.State() == model.StateDisconnected && e.socket.Connections() == 0
	})
	if e.rt.Notifications.Len() != 0 {
		t.Fatalf("feed should be cleared with the session")
	}
}

func TestLogoutClearsFeedAndDisconnects(t *testing.T) {
	e := setup(t)
	id := e.login(t, "seller@example.com")
	e.publish(t, wire.UserChannel(id.ID), "notification", "evt-n", map[string]string{"type": "system", "title": "Hi"})

	e.rt.Logout(context.Background())
	if e.rt.Notifications.Len() != 0 {
		t.Fatalf("expected empty feed after logout")
	}
	if len(e.rt.Popups.Active()) != 0 {
		t.Fatalf("expected popups dismissed after logout")
	}
	eventually(t, "disconnect", func() bool {
		return e.rt.Realtime.State() == model.StateDisconnected && len(e.rt.Realtime.Channels()) == 0
	})
}

func TestPendingSellerLogin(t *testing.T) {
	e := setup(t)
	e.rt.Start(context.Background())
	_, err := e.rt.Login(context.Background(), "pending@example.com", "password")
	if !errors.Is(err, apperr.ErrPendingVerification) {
		t.Fatalf("expected pending verification, got %v", err)
	}
	_, err = e.rt.Login(context.Background(), "seller@example.com", "wrong")
	if !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if e.rt.Realtime.State() != model.StateDisconnected {
		t.Fatalf("no connection without a session")
	}
}

func TestTagRequestKeepsCallerID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/profile", nil)
	if err := tagRequest(req, httpclient.Call{}); err != nil {
		t.Fatalf("tagRequest: %v", err)
	}
	if req.Header.Get(requestIDHeader) == "" {
		t.Fatalf("expected a request id")
	}

	req = httptest.NewRequest(http.MethodGet, "/profile", nil)
	req.Header.Set(requestIDHeader, "fixed")
	_ = tagRequest(req, httpclient.Call{})
	if got := req.Header.Get(requestIDHeader); got != "fixed" {
		t.Fatalf("caller id overwritten: %q", got)
	}
}
