package popup

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"storefront-live/internal/logging"
	"storefront-live/internal/model"
	"storefront-live/internal/notify"
)

type Position string

const (
	TopRight    Position = "top-right"
	TopLeft     Position = "top-left"
	BottomRight Position = "bottom-right"
	BottomLeft  Position = "bottom-left"
)

type Config struct {
	Enabled   bool
	MaxPopups int
	Duration  time.Duration
	Position  Position
	PlaySound bool
}

func DefaultConfig() Config {
	return Config{Enabled: true, MaxPopups: 3, Duration: 5 * time.Second, Position: TopRight, PlaySound: true}
}

// Renderer presents popups. Calls are made with the dispatcher lock held, so
// implementations must not call back into the Dispatcher synchronously.
type Renderer interface {
	Show(p model.Popup, n model.Notification, pos Position)
	Hide(p model.Popup)
}

type Timer interface {
	Stop() bool
}

type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type Option func(*Dispatcher)

func WithAfterFunc(fn AfterFunc) Option { return func(d *Dispatcher) { d.after = fn } }

func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logging.OrDiscard(l) }
}

type instance struct {
	popup model.Popup
	timer Timer
}

type Dispatcher struct {
	renderer Renderer
	cue      SoundCue
	after    AfterFunc
	now      func() time.Time
	logger   *slog.Logger

	mu      sync.Mutex
	cfg     Config
	active  []*instance
	lastSeq uint64
}

func New(cfg Config, renderer Renderer, cue SoundCue, opts ...Option) *Dispatcher {
	if cfg.MaxPopups <= 0 {
		cfg.MaxPopups = 1
	}
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultConfig().Duration
	}
	if cfg.Position == "" {
		cfg.Position = TopRight
	}
	if cue == nil {
		cue = NopCue{}
	}
	d := &Dispatcher{
		renderer: renderer,
		cue:      cue,
		after:    realAfterFunc,
		now:      time.Now,
		logger:   logging.Discard(),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Attach subscribes to store. Records already present do not pop up.
func (d *Dispatcher) Attach(store *notify.Store) func() {
	d.mu.Lock()
	d.lastSeq = store.Snapshot().LastSeq
	d.mu.Unlock()
	return store.Subscribe(d.Observe)
}

// Observe admits a popup for every unread record ingested since the last
// observed snapshot.
func (d *Dispatcher) Observe(snap notify.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var fresh []notify.Entry
	for i := len(snap.Entries) - 1; i >= 0; i-- {
		if e := snap.Entries[i]; e.Seq > d.lastSeq {
			fresh = append(fresh, e)
		}
	}
	if snap.LastSeq > d.lastSeq {
		d.lastSeq = snap.LastSeq
	}
	if !d.cfg.Enabled {
		return
	}
	for _, e := range fresh {
		if e.Read || d.showingLocked(e.ID) {
			continue
		}
		d.admitLocked(e.Notification)
	}
}

func (d *Dispatcher) showingLocked(notificationID string) bool {
	for _, in := range d.active {
		if in.popup.NotificationID == notificationID {
			return true
		}
	}
	return false
}

func (d *Dispatcher) admitLocked(n model.Notification) {
	for len(d.active) >= d.cfg.MaxPopups {
		oldest := d.active[0]
		d.logger.Debug("evicting popup", "popup", oldest.popup.ID, "notification", oldest.popup.NotificationID)
		d.removeLocked(0)
	}

	p := model.Popup{ID: uuid.NewString(), NotificationID: n.ID, CreatedAt: d.now()}
	in := &instance{popup: p}
	d.active = append(d.active, in)
	d.renderer.Show(p, n, d.cfg.Position)
	if d.cfg.PlaySound {
		d.cue.Play(ToneFor(n))
	}
	id := p.ID
	in.timer = d.after(d.cfg.Duration, func() { d.Dismiss(id) })
}

func (d *Dispatcher) removeLocked(i int) {
	in := d.active[i]
	if in.timer != nil {
		in.timer.Stop()
	}
	d.active = append(d.active[:i], d.active[i+1:]...)
	d.renderer.Hide(in.popup)
}

// Dismiss removes exactly one popup. The notification record is untouched.
func (d *Dispatcher) Dismiss(popupID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, in := range d.active {
		if in.popup.ID == popupID {
			d.removeLocked(i)
			return true
		}
	}
	return false
}

func (d *Dispatcher) DismissAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.active) > 0 {
		d.removeLocked(0)
	}
}

// Active returns the showing popups, oldest first.
func (d *Dispatcher) Active() []model.Popup {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.Popup, len(d.active))
	for i, in := range d.active {
		out[i] = in.popup
	}
	return out
}

func (d *Dispatcher) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.Enabled = enabled
	if !enabled {
		for len(d.active) > 0 {
			d.removeLocked(0)
		}
	}
}

func (d *Dispatcher) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}
