// Package hub fans view updates out to every connected dashboard client.
package hub

import (
	"sync"

	"github.com/google/uuid"
)

type Writer interface {
	Write(message []byte) error
	Close() error
}

type Client struct {
	ID     string
	Writer Writer

	mu sync.Mutex
	// seq is the broadcast sequence last written to this client.
	seq uint64
}

func NewClient(w Writer) *Client {
	return &Client{ID: uuid.NewString(), Writer: w}
}

// deliver writes message unless the client already has seq or a later one.
func (c *Client) deliver(seq uint64, message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq <= c.seq {
		return nil
	}
	if err := c.Writer.Write(message); err != nil {
		return err
	}
	c.seq = seq
	return nil
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	seq     uint64
	last    []byte
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

// Register adds c and replays the most recent broadcast to it, so a new
// client starts from the current view. A replay never overtakes a newer
// broadcast that reached c first.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	h.clients[c.ID] = c
	seq, last := h.seq, h.last
	h.mu.Unlock()

	if last == nil {
		return nil
	}
	if err := c.deliver(seq, last); err != nil {
		h.Unregister(c)
		return err
	}
	return nil
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c.ID)
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Broadcast(message []byte) {
	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.last = message
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	var failed []*Client
	for _, c := range clients {
		if err := c.deliver(seq, message); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		_ = c.Writer.Close()
		h.Unregister(c)
	}
}
