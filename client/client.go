// Package client is a thin get/put library for talking to a raftkv
// cluster: dial any replica, send a request, and follow redirect replies
// until a leader answers.
package client

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kartikbazzad/raftkv/transport"
	"github.com/kartikbazzad/raftkv/wire"
)

// Sentinel errors a caller can check with errors.Is.
var (
	// ErrTimeout is returned when no reply matching the request's MID
	// arrives within the client's timeout.
	ErrTimeout = errors.New("client: timed out waiting for a reply")
	// ErrNoLeader is returned when the cluster keeps redirecting past
	// maxRedirects, or a redirect names no leader, without ever answering.
	ErrNoLeader = errors.New("client: no leader found within redirect budget")
	// ErrClosed is returned by Get/Put when called on a Client that has
	// already been closed. Close itself returns nil on a second call.
	ErrClosed = errors.New("client: connection closed")
)

// Client holds one connection to a replica and follows leader redirects
// as they're discovered. It is safe for concurrent use; requests are
// serialized the same way bundoc's client serializes request/reply pairs
// over its single connection.
type Client struct {
	mu      sync.Mutex
	stream  *transport.Stream
	replica string
	timeout time.Duration
	closed  bool
}

// Connect dials replica by id. Any replica can be used as the initial
// contact point; Get and Put will redial toward the leader as needed.
func Connect(replica string) (*Client, error) {
	s, err := transport.Dial(replica)
	if err != nil {
		return nil, fmt.Errorf("client: connect to %s: %w", replica, err)
	}
	return &Client{stream: s, replica: replica, timeout: 2 * time.Second}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.stream.Close()
}

// Get reads key from the cluster, following redirects to the leader.
func (c *Client) Get(key string) (string, error) {
	reply, err := c.roundTrip(wire.Message{Type: wire.Get, Key: key})
	if err != nil {
		return "", err
	}
	if reply.Type == wire.Fail {
		return "", fmt.Errorf("client: get %q failed", key)
	}
	return reply.Value, nil
}

// Put writes key=value to the cluster, following redirects to the
// leader, and returns once the write has reached quorum and committed.
func (c *Client) Put(key, value string) error {
	reply, err := c.roundTrip(wire.Message{Type: wire.Put, Key: key, Value: value})
	if err != nil {
		return err
	}
	if reply.Type == wire.Fail {
		return fmt.Errorf("client: put %q failed", key)
	}
	return nil
}

// roundTrip sends req to the currently connected replica, waits for a
// reply matching its MID, and transparently redials and retries once per
// redirect the cluster hands back.
func (c *Client) roundTrip(req wire.Message) (wire.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return wire.Message{}, ErrClosed
	}

	for attempt := 0; attempt < maxRedirects; attempt++ {
		req.Src = "client"
		req.Dst = c.replica
		req.Leader = wire.Broadcast
		req.MID = uuid.NewString()

		if err := c.stream.Send(req); err != nil {
			return wire.Message{}, fmt.Errorf("client: send: %w", err)
		}

		reply, err := c.awaitReply(req.MID)
		if err != nil {
			return wire.Message{}, err
		}

		if reply.Type != wire.Redirect {
			return reply, nil
		}
		if err := c.redialTo(reply.Leader); err != nil {
			return wire.Message{}, err
		}
	}
	return wire.Message{}, fmt.Errorf("%w: exceeded %d redirects", ErrNoLeader, maxRedirects)
}

// maxRedirects bounds the follow-the-leader retry loop so a cluster
// stuck in an election cannot spin a caller forever.
const maxRedirects = 8

func (c *Client) awaitReply(mid string) (wire.Message, error) {
	deadline := time.Now().Add(c.timeout)
	for time.Now().Before(deadline) {
		msgs, err := c.stream.Poll(100 * time.Millisecond)
		if err != nil {
			return wire.Message{}, fmt.Errorf("client: poll: %w", err)
		}
		for _, m := range msgs {
			if m.MID == mid {
				return m, nil
			}
		}
	}
	return wire.Message{}, ErrTimeout
}

func (c *Client) redialTo(replica string) error {
	if replica == "" || replica == wire.Broadcast {
		return ErrNoLeader
	}
	next, err := transport.Dial(replica)
	if err != nil {
		return fmt.Errorf("client: redial %s: %w", replica, err)
	}
	c.stream.Close()
	c.stream = next
	c.replica = replica
	return nil
}
