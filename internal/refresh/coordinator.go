// Package refresh recovers requests rejected with 401 by refreshing the
// session once and replaying everything that failed meanwhile.
package refresh

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"storefront-live/internal/apperr"
	"storefront-live/internal/httpclient"
	"storefront-live/internal/logging"
	"storefront-live/internal/model"
)

const DefaultRefreshPath = "/refresh"

// DefaultSkipPaths never trigger a refresh; a 401 from them is final.
var DefaultSkipPaths = []string{"/login", "/register", "/register-seller", "/logout", "/refresh"}

type Doer interface {
	Do(ctx context.Context, call httpclient.Call) (*httpclient.Response, error)
}

// Session is the identity owner. Both methods must be the store's own
// mutation entry points.
type Session interface {
	Restore(identity model.Identity)
	Expire()
}

type Options struct {
	RefreshPath string
	SkipPaths   []string
	Logger      *slog.Logger
}

type Coordinator struct {
	doer        Doer
	session     Session
	refreshPath string
	skip        map[string]struct{}
	logger      *slog.Logger

	mu         sync.Mutex
	refreshing bool
	queue      []chan error

	episodes atomic.Int64
}

func New(doer Doer, session Session, opts Options) *Coordinator {
	path := opts.RefreshPath
	if path == "" {
		path = DefaultRefreshPath
	}
	skipPaths := opts.SkipPaths
	if skipPaths == nil {
		skipPaths = DefaultSkipPaths
	}
	skip := make(map[string]struct{}, len(skipPaths)+1)
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}
	skip[path] = struct{}{}

	return &Coordinator{
		doer:        doer,
		session:     session,
		refreshPath: path,
		skip:        skip,
		logger:      logging.OrDiscard(opts.Logger),
	}
}

// Attach installs the coordinator as a response hook on client and returns it.
func Attach(client *httpclient.Client, session Session, opts Options) *Coordinator {
	c := New(client, session, opts)
	client.OnResponse(c.Intercept)
	return c
}

// Episodes is the number of refresh calls issued so far.
func (c *Coordinator) Episodes() int64 { return c.episodes.Load() }

func (c *Coordinator) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshing
}

func (c *Coordinator) Intercept(ctx context.Context, call httpclient.Call, resp *httpclient.Response, err error) (*httpclient.Response, error) {
	if !httpclient.IsStatus(err, http.StatusUnauthorized) || call.Retried || c.skipped(call.Path) {
		return resp, err
	}
	retry := call.MarkRetried()

	// The check and the set of refreshing happen under one lock so two
	// concurrent 401s can never both start a refresh.
	c.mu.Lock()
	if c.refreshing {
		wait := make(chan error, 1)
		c.queue = append(c.queue, wait)
		depth := len(c.queue)
		c.mu.Unlock()

		c.logger.Debug("request queued behind refresh", "path", call.Path, "queue", depth)
		select {
		case rerr := <-wait:
			if rerr != nil {
				return nil, rerr
			}
			return c.doer.Do(ctx, retry)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.refreshing = true
	c.mu.Unlock()

	rerr := c.refresh(ctx)

	c.mu.Lock()
	c.refreshing = false
	queued := c.queue
	c.queue = nil
	c.mu.Unlock()

	if rerr != nil {
		c.logger.Warn("session refresh failed", "queued", len(queued), "err", rerr)
		c.session.Expire()
	} else {
		c.logger.Info("session refreshed", "queued", len(queued))
	}
	for _, wait := range queued {
		wait <- rerr
	}
	if rerr != nil {
		return nil, rerr
	}
	return c.doer.Do(ctx, retry)
}

type refreshResponse struct {
	User *model.Identity `json:"user"`
}

func (c *Coordinator) refresh(ctx context.Context) error {
	c.episodes.Add(1)
	// The refresh outlives the request that triggered it; other callers are
	// waiting on its outcome.
	ctx = context.WithoutCancel(ctx)

	resp, err := c.doer.Do(ctx, httpclient.Call{Method: http.MethodPost, Path: c.refreshPath, Retried: true})
	if err != nil {
		return apperr.NewAuthError(apperr.AuthSessionExpired, err)
	}
	var body refreshResponse
	if len(resp.Body) > 0 && resp.Decode(&body) == nil && body.User != nil {
		c.session.Restore(*body.User)
	}
	return nil
}

func (c *Coordinator) skipped(path string) bool {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	_, ok := c.skip[path]
	return ok
}
