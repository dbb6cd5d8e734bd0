package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/kartikbazzad/raftkv/wire"
)

// socketDirEnv overrides where Dial looks for the substrate's per-replica
// unix sockets; it exists for tests and local multi-process runs on one
// machine. Production deployments point every replica at the same
// substrate process, which owns this directory.
const socketDirEnv = "RAFTKV_SOCKET_DIR"

// Stream adapts a single full-duplex byte stream — a connection to the
// network substrate — into a Substrate. It frames outbound JSON with a
// trailing newline and re-assembles inbound bytes with a wire.Framer.
type Stream struct {
	conn   net.Conn
	framer wire.Framer
	onBad  func(line []byte, err error)
}

// Dial opens the one connection a replica makes to the network substrate,
// addressed by the replica's own id.
func Dial(id string) (*Stream, error) {
	dir := os.Getenv(socketDirEnv)
	if dir == "" {
		dir = os.TempDir()
	}
	addr := filepath.Join(dir, fmt.Sprintf("raftkv-%s.sock", id))

	conn, err := net.Dial("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial substrate for %s: %w", id, err)
	}
	return NewStream(conn), nil
}

// NewStream wraps an already-established connection.
func NewStream(conn net.Conn) *Stream {
	return &Stream{conn: conn}
}

// OnMalformedFrame registers a callback invoked whenever Poll discards an
// unparseable line, for logging.
func (s *Stream) OnMalformedFrame(f func(line []byte, err error)) {
	s.onBad = f
}

func (s *Stream) Poll(timeout time.Duration) ([]wire.Message, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("transport: set read deadline: %w", err)
	}

	buf := make([]byte, 64*1024)
	n, err := s.conn.Read(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil
		}
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("transport: read: %w", err)
	}
	if n == 0 {
		return nil, io.EOF
	}

	return s.framer.Push(buf[:n], s.onBad), nil
}

func (s *Stream) Send(m wire.Message) error {
	b, err := wire.Encode(m)
	if err != nil {
		return fmt.Errorf("transport: encode: %w", err)
	}
	if _, err := s.conn.Write(b); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

func (s *Stream) Close() error {
	return s.conn.Close()
}
