package popup

import (
	"io"
	"sync"
	"time"

	"storefront-live/internal/model"
)

type Tone struct {
	Frequency float64
	Duration  time.Duration
	Wave      string
}

var (
	toneUrgent  = Tone{Frequency: 880, Duration: 300 * time.Millisecond, Wave: "square"}
	toneOrder   = Tone{Frequency: 660, Duration: 200 * time.Millisecond, Wave: "sine"}
	tonePayment = Tone{Frequency: 784, Duration: 200 * time.Millisecond, Wave: "sine"}
	toneWarning = Tone{Frequency: 440, Duration: 250 * time.Millisecond, Wave: "triangle"}
	toneDefault = Tone{Frequency: 523, Duration: 150 * time.Millisecond, Wave: "sine"}
)

// ToneFor picks the cue for a notification. Urgency wins over type.
func ToneFor(n model.Notification) Tone {
	if n.Urgent {
		return toneUrgent
	}
	switch n.Type {
	case "order-created", "order-status-updated":
		return toneOrder
	case "payment-received":
		return tonePayment
	case "low-stock", "refund-requested", "product-rejected":
		return toneWarning
	default:
		return toneDefault
	}
}

type SoundCue interface {
	Play(tone Tone)
}

type NopCue struct{}

func (NopCue) Play(Tone) {}

// BellCue rings the terminal bell, once for normal tones and twice for urgent.
type BellCue struct {
	mu sync.Mutex
	W  io.Writer
}

func (b *BellCue) Play(tone Tone) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bell := "\a"
	if tone == toneUrgent {
		bell = "\a\a"
	}
	_, _ = io.WriteString(b.W, bell)
}
