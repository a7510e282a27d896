package popup

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"storefront-live/internal/model"
	"storefront-live/internal/notify"
)

type fakeRenderer struct {
	mu     sync.Mutex
	shown  []string
	hidden []string
}

func (f *fakeRenderer) Show(p model.Popup, n model.Notification, pos Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shown = append(f.shown, n.ID)
}

func (f *fakeRenderer) Hide(p model.Popup) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hidden = append(f.hidden, p.NotificationID)
}

type recordingCue struct{ tones []Tone }

func (r *recordingCue) Play(t Tone) { r.tones = append(r.tones, t) }

type fakeTimer struct {
	fn      func()
	d       time.Duration
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct{ timers []*fakeTimer }

func (c *fakeClock) after(d time.Duration, fn func()) Timer {
	t := &fakeTimer{fn: fn, d: d}
	c.timers = append(c.timers, t)
	return t
}

func newHarness(t *testing.T, cfg Config) (*notify.Store, *Dispatcher, *fakeRenderer, *recordingCue, *fakeClock) {
	t.Helper()
	store := notify.New(nil)
	r := &fakeRenderer{}
	cue := &recordingCue{}
	clock := &fakeClock{}
	d := New(cfg, r, cue, WithAfterFunc(clock.after))
	t.Cleanup(d.Attach(store))
	return store, d, r, cue, clock
}

func activeIDs(d *Dispatcher) []string {
	var ids []string
	for _, p := range d.Active() {
		ids = append(ids, p.NotificationID)
	}
	return ids
}

func TestCapacityEvictsOldest(t *testing.T) {
	store, d, r, _, _ := newHarness(t, DefaultConfig())
	for _, id := range []string{"A", "B", "C", "D"} {
		store.Ingest(model.Notification{ID: id, Type: "notification", Title: id})
	}
	got := strings.Join(activeIDs(d), ",")
	if got != "B,C,D" {
		t.Fatalf("expected B,C,D active, got %s", got)
	}
	if len(r.hidden) != 1 || r.hidden[0] != "A" {
		t.Fatalf("expected A hidden, got %v", r.hidden)
	}
	if n, ok := store.Get("A"); !ok || n.Read {
		t.Fatalf("evicted popup must not touch the record: %+v %v", n, ok)
	}
}

func TestAutoDismissAfterDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Duration = 2 * time.Second
	store, d, _, _, clock := newHarness(t, cfg)

	store.Ingest(model.Notification{ID: "1", Type: "notification"})
	if len(clock.timers) != 1 || clock.timers[0].d != 2*time.Second {
		t.Fatalf("expected one 2s timer, got %+v", clock.timers)
	}
	clock.timers[0].fn()
	if len(d.Active()) != 0 {
		t.Fatalf("expected popup dismissed by timer")
	}
	if store.UnreadCount() != 1 {
		t.Fatalf("timer dismissal must leave the record unread")
	}
}

func TestManualDismissKeepsRecordUnread(t *testing.T) {
	store, d, _, _, clock := newHarness(t, DefaultConfig())
	store.Ingest(model.Notification{ID: "1"})
	store.Ingest(model.Notification{ID: "2"})

	p := d.Active()[0]
	if !d.Dismiss(p.ID) {
		t.Fatalf("expected dismiss to succeed")
	}
	if d.Dismiss(p.ID) {
		t.Fatalf("second dismiss should report false")
	}
	if got := activeIDs(d); len(got) != 1 || got[0] != "2" {
		t.Fatalf("expected only popup 2 active, got %v", got)
	}
	if !clock.timers[0].stopped {
		t.Fatalf("expected timer stopped on dismiss")
	}
	if store.UnreadCount() != 2 {
		t.Fatalf("expected both records unread, got %d", store.UnreadCount())
	}

	d.DismissAll()
	if len(d.Active()) != 0 {
		t.Fatalf("expected no popups after DismissAll")
	}
}

func TestNoPopupForDuplicatesOrMutations(t *testing.T) {
	store, d, r, _, _ := newHarness(t, DefaultConfig())
	store.Ingest(model.Notification{ID: "1"})
	store.Ingest(model.Notification{ID: "1"})
	store.MarkAsRead("1")
	store.MarkAsUnread("1")
	if len(r.shown) != 1 {
		t.Fatalf("expected a single popup, got %v", r.shown)
	}
	if len(d.Active()) != 1 {
		t.Fatalf("expected one active popup")
	}
}

func TestAttachIgnoresExistingRecords(t *testing.T) {
	store := notify.New(nil)
	store.Ingest(model.Notification{ID: "old"})
	r := &fakeRenderer{}
	clock := &fakeClock{}
	d := New(DefaultConfig(), r, nil, WithAfterFunc(clock.after))
	defer d.Attach(store)()

	store.Ingest(model.Notification{ID: "new"})
	if len(r.shown) != 1 || r.shown[0] != "new" {
		t.Fatalf("expected only the new record to pop up, got %v", r.shown)
	}
}

func TestReadOnArrivalDoesNotPopUp(t *testing.T) {
	store, _, r, _, _ := newHarness(t, DefaultConfig())
	store.Ingest(model.Notification{ID: "1", Read: true})
	if len(r.shown) != 0 {
		t.Fatalf("expected no popup, got %v", r.shown)
	}
}

func TestDisabledAndSound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	store, d, r, cue, _ := newHarness(t, cfg)
	store.Ingest(model.Notification{ID: "1"})
	if len(r.shown) != 0 {
		t.Fatalf("expected no popups while disabled")
	}

	d.SetEnabled(true)
	store.Ingest(model.Notification{ID: "2", Urgent: true})
	if len(r.shown) != 1 || r.shown[0] != "2" {
		t.Fatalf("expected popup 2, got %v", r.shown)
	}
	if len(cue.tones) != 1 || cue.tones[0] != toneUrgent {
		t.Fatalf("expected urgent tone, got %+v", cue.tones)
	}

	d.SetEnabled(false)
	if len(d.Active()) != 0 {
		t.Fatalf("disabling should clear active popups")
	}
}

func TestSoundOff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PlaySound = false
	store, _, _, cue, _ := newHarness(t, cfg)
	store.Ingest(model.Notification{ID: "1"})
	if len(cue.tones) != 0 {
		t.Fatalf("expected silence, got %+v", cue.tones)
	}
}

func TestToneFor(t *testing.T) {
	cases := []struct {
		n    model.Notification
		want Tone
	}{
		{model.Notification{Type: "order-created", Urgent: true}, toneUrgent},
		{model.Notification{Type: "order-status-updated"}, toneOrder},
		{model.Notification{Type: "payment-received"}, tonePayment},
		{model.Notification{Type: "product-rejected"}, toneWarning},
		{model.Notification{Type: "seller-verified"}, toneDefault},
	}
	for _, tc := range cases {
		if got := ToneFor(tc.n); got != tc.want {
			t.Fatalf("%s: expected %+v, got %+v", tc.n.Type, tc.want, got)
		}
	}
}

func TestBellCue(t *testing.T) {
	var buf bytes.Buffer
	cue := &BellCue{W: &buf}
	cue.Play(toneDefault)
	cue.Play(toneUrgent)
	if buf.String() != "\a\a\a" {
		t.Fatalf("unexpected bell output %q", buf.String())
	}
}

func TestConsoleRenderer(t *testing.T) {
	var buf bytes.Buffer
	r := NewConsoleRenderer(&buf)
	r.Show(model.Popup{ID: "0123456789"}, model.Notification{Type: "low-stock", Title: "Stock", Message: "2 left", ActionURL: "/seller/products"}, TopRight)
	r.Hide(model.Popup{ID: "0123456789"})
	out := buf.String()
	for _, want := range []string{"[low-stock] Stock", "2 left", "/seller/products", "popup 01234567 closed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
}
