package hub

import (
	"sort"
	"sync"
)

type Writer interface {
	Write(message []byte) error
	Close() error
}

type Connection struct {
	SocketID string
	Writer   Writer
}

// Hub maps channel names to the connections subscribed to them.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*Connection]struct{}
}

func New() *Hub {
	return &Hub{channels: make(map[string]map[*Connection]struct{})}
}

// Subscribe adds conn to channel and reports whether it was newly added.
func (h *Hub) Subscribe(channel string, conn *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.channels[channel]
	if set == nil {
		set = make(map[*Connection]struct{})
		h.channels[channel] = set
	}
	if _, ok := set[conn]; ok {
		return false
	}
	set[conn] = struct{}{}
	return true
}

func (h *Hub) Unsubscribe(channel string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(channel, conn)
}

func (h *Hub) unsubscribeLocked(channel string, conn *Connection) {
	set := h.channels[channel]
	if set == nil {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.channels, channel)
	}
}

// Remove drops conn from every channel.
func (h *Hub) Remove(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for channel := range h.channels {
		h.unsubscribeLocked(channel, conn)
	}
}

// Broadcast writes message to every subscriber of channel and returns the
// number of successful deliveries. Failed connections are closed and removed.
func (h *Hub) Broadcast(channel string, message []byte) int {
	h.mu.RLock()
	set := h.channels[channel]
	conns := make([]*Connection, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	var failed []*Connection
	delivered := 0
	for _, c := range conns {
		if err := c.Writer.Write(message); err != nil {
			failed = append(failed, c)
			continue
		}
		delivered++
	}
	for _, c := range failed {
		_ = c.Writer.Close()
		h.Remove(c)
	}
	return delivered
}

func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Channels lists the channels conn is subscribed to, sorted.
func (h *Hub) Channels(conn *Connection) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []string
	for channel, set := range h.channels {
		if _, ok := set[conn]; ok {
			out = append(out, channel)
		}
	}
	sort.Strings(out)
	return out
}
