package popup

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"storefront-live/internal/model"
)

// ConsoleRenderer prints popups as lines on a terminal.
type ConsoleRenderer struct {
	mu     sync.Mutex
	w      io.Writer
	urgent *color.Color
	normal *color.Color
	faint  *color.Color
}

func NewConsoleRenderer(w io.Writer) *ConsoleRenderer {
	return &ConsoleRenderer{
		w:      w,
		urgent: color.New(color.FgRed, color.Bold),
		normal: color.New(color.FgCyan, color.Bold),
		faint:  color.New(color.Faint),
	}
}

func (c *ConsoleRenderer) Show(p model.Popup, n model.Notification, pos Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	head := c.normal
	if n.Urgent {
		head = c.urgent
	}
	head.Fprintf(c.w, "[%s] %s", n.Type, n.Title)
	if n.Message != "" {
		fmt.Fprintf(c.w, ": %s", n.Message)
	}
	if n.ActionURL != "" {
		c.faint.Fprintf(c.w, " -> %s", n.ActionURL)
	}
	fmt.Fprintln(c.w)
}

func (c *ConsoleRenderer) Hide(p model.Popup) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := p.ID
	if len(id) > 8 {
		id = id[:8]
	}
	c.faint.Fprintf(c.w, "popup %s closed\n", id)
}
