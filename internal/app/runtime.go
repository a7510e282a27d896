package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/google/uuid"
	"storefront-live/internal/config"
	"storefront-live/internal/httpclient"
	"storefront-live/internal/logging"
	"storefront-live/internal/model"
	"storefront-live/internal/notify"
	"storefront-live/internal/popup"
	"storefront-live/internal/realtime"
	"storefront-live/internal/realtime/wire"
	"storefront-live/internal/refresh"
	"storefront-live/internal/session"
)

const channelAuthPath = "/realtime/auth"

// Options overrides the pieces a caller wants to swap out. Zero values get
// the terminal defaults built from Config.
type Options struct {
	Config    config.Config
	Provider  realtime.Provider
	Renderer  popup.Renderer
	Cue       popup.SoundCue
	Nav       session.Navigator
	Flags     session.FlagStore
	Out       io.Writer
	Logger    *slog.Logger
	Transport http.RoundTripper
}

// Runtime owns one instance of every client component.
type Runtime struct {
	Client        *httpclient.Client
	Refresh       *refresh.Coordinator
	Session       *session.Store
	Notifications *notify.Store
	Realtime      *realtime.Manager
	Popups        *popup.Dispatcher

	logger *slog.Logger

	mu        sync.Mutex
	signedIn  bool
	cancels   []func()
	closeOnce sync.Once
}

func New(opts Options) (*Runtime, error) {
	cfg := opts.Config
	logger := logging.OrDiscard(opts.Logger)
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	client, err := httpclient.New(httpclient.Options{
		BaseURL:   cfg.APIBaseURL,
		Timeout:   cfg.RequestTimeout,
		Transport: opts.Transport,
		Logger:    logger.With("component", "http"),
	})
	if err != nil {
		return nil, err
	}
	client.OnRequest(tagRequest)

	flags := opts.Flags
	if flags == nil {
		if cfg.StateDir != "" {
			flags = session.NewFileFlag(cfg.StateDir)
		} else {
			flags = &session.MemoryFlag{}
		}
	}
	sess := session.New(client, session.Options{
		Flags:  flags,
		Nav:    opts.Nav,
		Logger: logger.With("component", "session"),
	})
	coord := refresh.Attach(client, sess, refresh.Options{Logger: logger.With("component", "refresh")})

	notes := notify.New(logger.With("component", "notify"))

	provider := opts.Provider
	if provider == nil {
		provider = &realtime.WSProvider{
			URL:     cfg.RealtimeURL,
			Key:     cfg.RealtimeKey,
			Cluster: cfg.RealtimeCluster,
			Logger:  logger.With("component", "ws"),
		}
	}
	manager := realtime.New(provider, notes, realtime.Options{
		Auth:         channelAuth(client),
		ReconnectMin: cfg.ReconnectMin,
		ReconnectMax: cfg.ReconnectMax,
		OpTimeout:    cfg.RequestTimeout,
		Logger:       logger.With("component", "realtime"),
	})

	renderer := opts.Renderer
	if renderer == nil {
		renderer = popup.NewConsoleRenderer(out)
	}
	cue := opts.Cue
	if cue == nil {
		if cfg.Popups.PlaySound {
			cue = &popup.BellCue{W: out}
		} else {
			cue = popup.NopCue{}
		}
	}
	popups := popup.New(popupConfig(cfg.Popups), renderer, cue, popup.WithLogger(logger.With("component", "popup")))

	rt := &Runtime{
		Client:        client,
		Refresh:       coord,
		Session:       sess,
		Notifications: notes,
		Realtime:      manager,
		Popups:        popups,
		logger:        logger,
	}
	rt.cancels = append(rt.cancels, popups.Attach(notes), sess.OnChange(rt.onSession))
	return rt, nil
}

func popupConfig(c config.PopupConfig) popup.Config {
	return popup.Config{
		Enabled:   c.Enabled,
		MaxPopups: c.MaxPopups,
		Duration:  c.Duration,
		Position:  popup.Position(c.Position),
		PlaySound: c.PlaySound,
	}
}

const requestIDHeader = "X-Request-ID"

// tagRequest gives every attempt its own id; a replay after refresh gets a
// fresh one.
func tagRequest(req *http.Request, call httpclient.Call) error {
	if req.Header.Get(requestIDHeader) == "" {
		req.Header.Set(requestIDHeader, uuid.NewString())
	}
	return nil
}

// channelAuth signs private subscriptions through the shared client so a 401
// there goes through the same refresh path as any other call.
func channelAuth(client *httpclient.Client) realtime.AuthFunc {
	return func(ctx context.Context, socketID, channel string) (string, error) {
		var reply wire.ChannelAuthReply
		err := client.PostJSON(ctx, channelAuthPath, wire.ChannelAuthRequest{SocketID: socketID, ChannelName: channel}, &reply)
		if err != nil {
			return "", err
		}
		return reply.Auth, nil
	}
}

// onSession runs inside the session store's dispatch; it must not call back
// into session mutations.
func (r *Runtime) onSession(snap session.Snapshot) {
	if snap.Loading {
		return
	}
	r.Realtime.SetIdentity(snap.Identity)

	r.mu.Lock()
	wasSignedIn := r.signedIn
	r.signedIn = snap.Identity != nil
	r.mu.Unlock()

	if wasSignedIn && snap.Identity == nil {
		r.Popups.DismissAll()
		r.Notifications.ClearAllNotifications()
	}
}

// Start runs the session boot sequence. It returns once the session is ready.
func (r *Runtime) Start(ctx context.Context) {
	r.Session.Boot(ctx)
}

func (r *Runtime) Login(ctx context.Context, email, password string) (model.Identity, error) {
	return r.Session.Login(ctx, session.Credentials{Email: email, Password: password})
}

func (r *Runtime) Logout(ctx context.Context) {
	r.Session.Logout(ctx)
}

// Close detaches listeners and shuts the realtime connection down.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		cancels := r.cancels
		r.cancels = nil
		r.mu.Unlock()
		for _, cancel := range cancels {
			cancel()
		}
		r.Realtime.Close()
		r.Popups.DismissAll()
	})
}
