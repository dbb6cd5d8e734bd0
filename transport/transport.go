// Package transport adapts the raft event loop to the one bidirectional
// connection each replica keeps open to the network substrate. The
// substrate itself — the process that frames, routes, and fans out
// broadcasts between replicas and clients — is an external collaborator
// and is not implemented here; Stream only dials into it, and Loopback
// stands in for it in tests.
package transport

import (
	"time"

	"github.com/kartikbazzad/raftkv/wire"
)

// Substrate is the interface the raft event loop polls and sends through.
// Implementations are not required to be safe for concurrent use — the
// event loop is single-threaded and is the only caller.
type Substrate interface {
	// Poll blocks for up to timeout waiting for inbound bytes, decodes
	// whatever complete frames have arrived, and returns them. A nil,
	// empty return with a nil error means the poll quantum elapsed with
	// nothing to read. Poll returns io.EOF once the underlying stream is
	// closed by the peer, which the event loop treats as terminal.
	Poll(timeout time.Duration) ([]wire.Message, error)

	// Send serializes and writes m. It is fire-and-forget: a nil error
	// means the bytes were handed to the stream, not that any peer
	// received or acknowledged them.
	Send(m wire.Message) error

	// Close releases the underlying connection.
	Close() error
}
