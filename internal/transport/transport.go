// Package transport implements the local, connection-oriented,
// bidirectional byte stream rooted at a filesystem path (spec.md
// §4.E): a unix-domain-socket listener/dialer, read-exactly-N /
// write-exactly-N helpers with an absolute deadline, and the
// sibling-lockfile startup lock. Grounded on the teacher's own use of
// advisory file locking (syscall.Flock in file_store.go), lifted here
// to golang.org/x/sys/unix — already present in the pack's dependency
// graph via modernc.org/sqlite — and applied to a unix socket instead
// of an append-only log.
package transport

import (
	"io"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"credentiald/internal/frame"
)

// Sentinel errors matching the transport-facing slice of the closed
// error taxonomy (spec.md §7): SOCKET and TIMEOUT.
var (
	ErrSocket  = errors.New("transport: socket failure")
	ErrTimeout = errors.New("transport: deadline exceeded")
)

// Conn wraps a unix-domain connection with the absolute-deadline
// read/write discipline spec.md §4.E requires: the deadline is
// computed once per call, not reset on every partial read or write.
type Conn struct {
	raw       *net.UnixConn
	ioTimeout time.Duration
}

// NewConn wraps an already-established unix connection.
func NewConn(raw *net.UnixConn, ioTimeout time.Duration) *Conn {
	return &Conn{raw: raw, ioTimeout: ioTimeout}
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.raw.Close() }

// SendFrame writes a complete frame under a single absolute deadline.
func (c *Conn) SendFrame(f frame.Frame) error {
	deadline := time.Now().Add(c.ioTimeout)
	if err := c.raw.SetWriteDeadline(deadline); err != nil {
		return errors.Wrap(ErrSocket, err.Error())
	}
	if err := frame.WriteFrame(c.raw, f); err != nil {
		return classifyIOErr(err)
	}
	return nil
}

// RecvFrame reads a complete frame under a single absolute deadline.
func (c *Conn) RecvFrame(maxBodyLen uint32) (frame.Frame, error) {
	deadline := time.Now().Add(c.ioTimeout)
	if err := c.raw.SetReadDeadline(deadline); err != nil {
		return frame.Frame{}, errors.Wrap(ErrSocket, err.Error())
	}
	f, err := frame.ReadFrame(c.raw, maxBodyLen)
	if err != nil && err != frame.ErrBadLength {
		return frame.Frame{}, classifyIOErr(err)
	}
	return f, err
}

// PeerConn exposes the raw file descriptor for peer-credential lookup
// (internal/peerid's kernel-supplied strategy) and for fd-passing
// handshakes (its fallback strategy).
func (c *Conn) PeerConn() *net.UnixConn { return c.raw }

func classifyIOErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errors.Wrap(ErrSocket, err.Error())
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return ErrTimeout
	}
	return errors.Wrap(ErrSocket, err.Error())
}

// Listen creates the unix-domain listener at path. Any stale socket
// file left by a prior, non-graceful exit is removed first — the
// lockfile, not the socket path, is what actually guarantees
// single-writer ownership (spec.md §4.E: "world-reachable addressing
// but with the lockfile ... guaranteeing single-writer ownership").
func Listen(path string) (*net.UnixListener, error) {
	if fi, err := os.Stat(path); err == nil && fi.Mode()&os.ModeSocket != 0 {
		_ = os.Remove(path)
	}
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, errors.Wrap(ErrSocket, err.Error())
	}
	return l, nil
}

// Dial connects to the daemon endpoint with a single connect-phase
// deadline.
func Dial(path string, ioTimeout time.Duration) (*Conn, error) {
	raw, err := net.DialTimeout("unix", path, ioTimeout)
	if err != nil {
		return nil, errors.Wrap(ErrSocket, err.Error())
	}
	return NewConn(raw.(*net.UnixConn), ioTimeout), nil
}

// DialWithRetry retries Dial up to attempts times with linear
// back-off starting at retryBase (spec.md §5: "Clients retry failed
// exchanges up to a fixed attempt count with linear back-off").
func DialWithRetry(path string, ioTimeout, retryBase time.Duration, attempts int) (*Conn, error) {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		conn, err := Dial(path, ioTimeout)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if attempt < attempts-1 {
			time.Sleep(retryBase * time.Duration(attempt+1))
		}
	}
	return nil, lastErr
}
