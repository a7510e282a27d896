package realtime

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"storefront-live/internal/apperr"
	"storefront-live/internal/logging"
	"storefront-live/internal/model"
	"storefront-live/internal/realtime/wire"
)

const (
	DefaultReconnectMin = time.Second
	DefaultReconnectMax = 30 * time.Second
	defaultOpTimeout    = 10 * time.Second
)

type Sink interface {
	Ingest(n model.Notification) bool
}

type Options struct {
	Auth         AuthFunc
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	OpTimeout    time.Duration
	Logger       *slog.Logger
}

type dialResult struct {
	attempt int
	conn    Conn
	err     error
}

type stateListener struct {
	id int
	fn func(model.ConnectionState)
}

// Manager owns the realtime connection for the current identity. All
// connection state is driven by a single goroutine; the exported methods only
// hand it work.
type Manager struct {
	provider  Provider
	sink      Sink
	auth      AuthFunc
	logger    *slog.Logger
	opTimeout time.Duration
	maxDelay  time.Duration
	bo        *backoff.ExponentialBackOff
	subBo     *backoff.ExponentialBackOff

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	kick   chan struct{}
	dialed chan dialResult

	mu         sync.Mutex
	want       *model.Identity
	wantDirty  bool
	reconnect  bool
	state      model.ConnectionState
	allowed    map[string]bool
	active     map[string]bool
	listeners  []stateListener
	nextListen int

	identity   *model.Identity
	conn       Conn
	subscribed map[string]bool
	attempt    int
	dialing    bool
	retry      *time.Timer
	retryC     <-chan time.Time
	resub      *time.Timer
	resubC     <-chan time.Time
}

func New(provider Provider, sink Sink, opts Options) *Manager {
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = DefaultReconnectMin
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = DefaultReconnectMax
		if opts.ReconnectMax < opts.ReconnectMin {
			opts.ReconnectMax = opts.ReconnectMin
		}
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultOpTimeout
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.ReconnectMin
	bo.MaxInterval = opts.ReconnectMax
	bo.Reset()
	subBo := backoff.NewExponentialBackOff()
	subBo.InitialInterval = opts.ReconnectMin
	subBo.MaxInterval = opts.ReconnectMax
	subBo.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		provider:   provider,
		sink:       sink,
		auth:       opts.Auth,
		logger:     logging.OrDiscard(opts.Logger),
		opTimeout:  opts.OpTimeout,
		maxDelay:   opts.ReconnectMax,
		bo:         bo,
		subBo:      subBo,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		kick:       make(chan struct{}, 1),
		dialed:     make(chan dialResult),
		allowed:    make(map[string]bool),
		active:     make(map[string]bool),
		subscribed: make(map[string]bool),
	}
	go m.run()
	return m
}

// SetIdentity switches the subscription set. A nil identity disconnects.
func (m *Manager) SetIdentity(id *model.Identity) {
	var cp *model.Identity
	if id != nil {
		v := *id
		cp = &v
	}
	m.mu.Lock()
	m.want = cp
	m.wantDirty = true
	m.mu.Unlock()
	m.signal()
}

// Reconnect retries immediately from the disconnected or failed state.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	m.reconnect = true
	m.mu.Unlock()
	m.signal()
}

// Close stops the manager and closes the connection. It must not be called
// from a state listener.
func (m *Manager) Close() {
	m.cancel()
	<-m.done
}

func (m *Manager) State() model.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) IsConnected() bool { return m.State() == model.StateConnected }

// Channels returns the currently subscribed channels, sorted.
func (m *Manager) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.active))
	for ch := range m.active {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// OnStateChange registers fn for state transitions. Listeners run on the
// manager goroutine in registration order.
func (m *Manager) OnStateChange(fn func(model.ConnectionState)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextListen++
	id := m.nextListen
	m.listeners = append(m.listeners, stateListener{id: id, fn: fn})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, l := range m.listeners {
			if l.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) signal() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		var connDone <-chan struct{}
		if m.conn != nil {
			connDone = m.conn.Done()
		}
		select {
		case <-m.ctx.Done():
			m.disconnect()
			return
		case <-m.kick:
			m.drain()
		case res := <-m.dialed:
			m.onDialed(res)
		case <-connDone:
			m.onDrop()
		case <-m.retryC:
			m.retry, m.retryC = nil, nil
			m.dial()
		case <-m.resubC:
			m.resub, m.resubC = nil, nil
			if m.conn != nil {
				m.syncChannels()
			}
		}
	}
}

func (m *Manager) drain() {
	m.mu.Lock()
	dirty, want := m.wantDirty, m.want
	reconnect := m.reconnect
	m.wantDirty, m.reconnect = false, false
	m.mu.Unlock()

	if dirty {
		m.applyIdentity(want)
	}
	if reconnect {
		m.manualReconnect()
	}
}

func sameIdentity(a, b *model.Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID && a.Role == b.Role
}

func (m *Manager) applyIdentity(next *model.Identity) {
	if sameIdentity(m.identity, next) {
		return
	}
	m.identity = next
	m.setAllowed(Channels(next))

	if m.conn != nil {
		for ch := range m.subscribed {
			m.unsubscribe(ch)
		}
	}
	if next == nil {
		m.disconnect()
		return
	}

	switch {
	case m.conn != nil:
		m.syncChannels()
	case m.dialing:
	default:
		m.stopRetry()
		m.bo.Reset()
		m.dial()
	}
}

func (m *Manager) manualReconnect() {
	if m.identity == nil || m.conn != nil || m.dialing {
		return
	}
	m.logger.Info("realtime manual reconnect", "from", m.State().String())
	m.stopRetry()
	m.bo.Reset()
	m.dial()
}

func (m *Manager) dial() {
	if m.identity == nil {
		return
	}
	m.attempt++
	attempt := m.attempt
	m.dialing = true
	m.setState(model.StateConnecting)

	go func() {
		ctx, cancel := context.WithTimeout(m.ctx, m.opTimeout)
		conn, err := m.provider.Connect(ctx)
		cancel()
		select {
		case m.dialed <- dialResult{attempt: attempt, conn: conn, err: err}:
		case <-m.ctx.Done():
			if conn != nil {
				_ = conn.Close()
			}
		}
	}()
}

func (m *Manager) onDialed(res dialResult) {
	if res.attempt != m.attempt {
		if res.conn != nil {
			_ = res.conn.Close()
		}
		return
	}
	m.dialing = false

	if res.err != nil {
		if apperr.IsAuthFailure(res.err) {
			m.logger.Warn("realtime auth rejected", "error", res.err)
			m.setState(model.StateFailed)
			return
		}
		m.logger.Warn("realtime connect failed", "attempt", res.attempt, "error", res.err)
		m.setState(model.StateDisconnected)
		m.scheduleRetry()
		return
	}

	m.conn = res.conn
	m.subscribed = make(map[string]bool)
	for _, ev := range BoundEvents {
		m.conn.Bind(ev, m.deliver)
	}
	m.bo.Reset()
	m.subBo.Reset()
	m.setState(model.StateConnected)
	m.syncChannels()
}

func (m *Manager) onDrop() {
	err := m.conn.Err()
	m.conn = nil
	m.stopResubscribe()
	m.subscribed = make(map[string]bool)
	m.publishActive()

	if apperr.IsAuthFailure(err) {
		m.logger.Warn("realtime auth revoked", "error", err)
		m.setState(model.StateFailed)
		return
	}
	m.logger.Warn("realtime connection dropped", "error", err)
	m.setState(model.StateDisconnected)
	m.scheduleRetry()
}

func (m *Manager) scheduleRetry() {
	if m.identity == nil {
		return
	}
	m.stopRetry()
	delay := m.bo.NextBackOff()
	if delay > m.maxDelay || delay < 0 {
		delay = m.maxDelay
	}
	m.logger.Info("realtime reconnect scheduled", "attempt", m.attempt+1, "delay", delay)
	m.retry = time.NewTimer(delay)
	m.retryC = m.retry.C
}

func (m *Manager) stopRetry() {
	if m.retry != nil {
		m.retry.Stop()
	}
	m.retry, m.retryC = nil, nil
}

// disconnect drops the connection and invalidates any dial in flight.
func (m *Manager) disconnect() {
	m.stopRetry()
	m.stopResubscribe()
	m.attempt++
	m.dialing = false
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.subscribed = make(map[string]bool)
	m.publishActive()
	m.setState(model.StateDisconnected)
}

func (m *Manager) syncChannels() {
	want := Channels(m.identity)
	keep := make(map[string]bool, len(want))
	for _, ch := range want {
		keep[ch] = true
	}
	for ch := range m.subscribed {
		if !keep[ch] {
			m.unsubscribe(ch)
		}
	}
	failed := 0
	for _, ch := range want {
		if !m.subscribe(ch) {
			failed++
		}
	}
	if failed == 0 {
		m.stopResubscribe()
		m.subBo.Reset()
		return
	}
	m.scheduleResubscribe(failed)
}

// scheduleResubscribe retries channels whose subscribe failed on the live
// connection. The connection itself is kept.
func (m *Manager) scheduleResubscribe(pending int) {
	m.stopResubscribe()
	delay := m.subBo.NextBackOff()
	if delay > m.maxDelay || delay < 0 {
		delay = m.maxDelay
	}
	m.logger.Info("realtime resubscribe scheduled", "pending", pending, "delay", delay)
	m.resub = time.NewTimer(delay)
	m.resubC = m.resub.C
}

func (m *Manager) stopResubscribe() {
	if m.resub != nil {
		m.resub.Stop()
	}
	m.resub, m.resubC = nil, nil
}

// subscribe reports whether channel is subscribed afterwards.
func (m *Manager) subscribe(channel string) bool {
	if m.subscribed[channel] {
		return true
	}
	ctx, cancel := context.WithTimeout(m.ctx, m.opTimeout)
	defer cancel()
	if err := m.conn.Subscribe(ctx, channel, m.auth); err != nil {
		m.logger.Warn("realtime subscribe failed", "channel", channel, "error", err)
		return false
	}
	m.subscribed[channel] = true
	m.publishActive()
	m.logger.Info("realtime subscribed", "channel", channel)
	return true
}

func (m *Manager) unsubscribe(channel string) {
	ctx, cancel := context.WithTimeout(m.ctx, m.opTimeout)
	defer cancel()
	if err := m.conn.Unsubscribe(ctx, channel); err != nil {
		m.logger.Warn("realtime unsubscribe failed", "channel", channel, "error", err)
	}
	delete(m.subscribed, channel)
	m.publishActive()
	m.logger.Info("realtime unsubscribed", "channel", channel)
}

func (m *Manager) setAllowed(channels []string) {
	allowed := make(map[string]bool, len(channels))
	for _, ch := range channels {
		allowed[ch] = true
	}
	m.mu.Lock()
	m.allowed = allowed
	m.mu.Unlock()
}

func (m *Manager) publishActive() {
	active := make(map[string]bool, len(m.subscribed))
	for ch := range m.subscribed {
		active[ch] = true
	}
	m.mu.Lock()
	m.active = active
	m.mu.Unlock()
}

func (m *Manager) setState(s model.ConnectionState) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.state = s
	listeners := append([]stateListener(nil), m.listeners...)
	m.mu.Unlock()

	m.logger.Info("realtime state", "from", prev.String(), "to", s.String(), "attempt", m.attempt)
	for _, l := range listeners {
		l.fn(s)
	}
}

// deliver runs on the connection's read goroutine. Events for channels that
// do not belong to the current identity are dropped.
func (m *Manager) deliver(ev wire.ChannelEvent) {
	m.mu.Lock()
	ok := m.allowed[ev.Channel]
	m.mu.Unlock()
	if !ok {
		m.logger.Debug("dropping event for stale channel", "channel", ev.Channel, "event", ev.Event)
		return
	}
	n, ok := ToNotification(ev)
	if !ok {
		m.logger.Debug("dropping malformed event", "channel", ev.Channel, "event", ev.Event)
		return
	}
	m.sink.Ingest(n)
}
