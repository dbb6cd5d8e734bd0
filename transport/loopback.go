package transport

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/kartikbazzad/raftkv/wire"
)

// Hub is an in-process stand-in for the simulated network substrate,
// which is an external collaborator and out of scope here: it frames
// nothing (messages are passed as values), routes by destination id, and
// fans out Broadcast destinations to every other registered participant.
// Tests build one Hub per cluster and Register each replica and client
// against it.
type Hub struct {
	mu      sync.Mutex
	inboxes map[string]chan wire.Message
	closed  map[string]bool
}

// NewHub creates an empty substrate.
func NewHub() *Hub {
	return &Hub{
		inboxes: make(map[string]chan wire.Message),
		closed:  make(map[string]bool),
	}
}

// Register gives id an inbox on the hub and returns its Substrate handle.
func (h *Hub) Register(id string) *Loopback {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inboxes[id] = make(chan wire.Message, 256)
	h.closed[id] = false
	return &Loopback{id: id, hub: h}
}

// Drop closes id's inbox; any Loopback blocked in Poll observes io.EOF,
// same as a real socket read returning zero bytes.
func (h *Hub) Drop(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed[id] {
		return
	}
	h.closed[id] = true
	close(h.inboxes[id])
}

func (h *Hub) deliver(dst string, m wire.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed[dst] {
		return fmt.Errorf("loopback: %s is gone", dst)
	}
	inbox, ok := h.inboxes[dst]
	if !ok {
		return fmt.Errorf("loopback: unknown destination %s", dst)
	}
	select {
	case inbox <- m:
		return nil
	default:
		return fmt.Errorf("loopback: inbox for %s is full", dst)
	}
}

func (h *Hub) participants(except string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.inboxes))
	for id, gone := range h.closed {
		if id == except || gone {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Loopback is one participant's Substrate handle on a Hub.
type Loopback struct {
	id  string
	hub *Hub
}

func (l *Loopback) Send(m wire.Message) error {
	if m.Dst != wire.Broadcast {
		return l.hub.deliver(m.Dst, m)
	}

	var errs *multierror.Error
	for _, peer := range l.hub.participants(l.id) {
		if err := l.hub.deliver(peer, m); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (l *Loopback) Poll(timeout time.Duration) ([]wire.Message, error) {
	l.hub.mu.Lock()
	inbox := l.hub.inboxes[l.id]
	l.hub.mu.Unlock()

	var out []wire.Message

	select {
	case m, ok := <-inbox:
		if !ok {
			return nil, io.EOF
		}
		out = append(out, m)
	case <-time.After(timeout):
		return nil, nil
	}

	// Drain whatever else has already arrived without waiting further,
	// so a burst of messages is dispatched in one loop iteration.
	for {
		select {
		case m, ok := <-inbox:
			if !ok {
				return out, nil
			}
			out = append(out, m)
		default:
			return out, nil
		}
	}
}

func (l *Loopback) Close() error {
	l.hub.Drop(l.id)
	return nil
}
