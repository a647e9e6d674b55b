// Package peerid determines the effective uid/gid of the process on
// the other end of a local connection (spec.md §4.F), via either of
// two interchangeable strategies: asking the kernel for the socket's
// peer credentials, or a file-descriptor-passing handshake when the
// kernel cannot supply them.
package peerid

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"credentiald/internal/transport"
)

// Identity is the authenticated peer's effective uid/gid, the values
// that become cred_uid/cred_gid in a minted credential.
type Identity struct {
	UID uint32
	GID uint32
}

// Verifier is the narrow interface both strategies implement (Design
// Note "Provider indirection"): callers observe only the resulting
// Identity, never which strategy produced it.
type Verifier interface {
	Verify(conn *transport.Conn) (Identity, error)
}

// ErrNoPeerCred is returned when the kernel has no peer-credential
// answer for this connection (e.g. the platform does not support
// SO_PEERCRED, or the socket is not a unix-domain socket).
var ErrNoPeerCred = errors.New("peerid: kernel does not provide peer credentials for this connection")

// KernelVerifier asks the kernel for the connection's peer
// credentials via SO_PEERCRED, the default and cheapest strategy on
// platforms that support it.
type KernelVerifier struct{}

// Verify implements Verifier.
func (KernelVerifier) Verify(conn *transport.Conn) (Identity, error) {
	raw := conn.PeerConn()
	sc, err := raw.SyscallConn()
	if err != nil {
		return Identity{}, errors.Wrap(ErrNoPeerCred, err.Error())
	}

	var ucred *unix.Ucred
	var controlErr error
	err = sc.Control(func(fd uintptr) {
		ucred, controlErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return Identity{}, errors.Wrap(ErrNoPeerCred, err.Error())
	}
	if controlErr != nil {
		return Identity{}, errors.Wrap(ErrNoPeerCred, controlErr.Error())
	}
	return Identity{UID: ucred.Uid, GID: ucred.Gid}, nil
}
