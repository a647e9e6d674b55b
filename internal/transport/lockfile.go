package transport

import (
	"fmt"
	"os"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Sentinel errors for the startup lock (spec.md §4.E "Startup lock").
var (
	ErrLockHeld    = errors.New("transport: lockfile held by another daemon")
	ErrBadLockFile = errors.New("transport: lockfile is not a user-owned, user-only-writable regular file")
)

// Lockfile is the sibling lockfile the daemon acquires an exclusive
// advisory lock on before binding its transport endpoint. The lock is a
// whole-file flock(2) lock, not a byte-range (fcntl) lock.
type Lockfile struct {
	path string
	f    *os.File
}

// AcquireLockfile opens path, validates it is a regular file owned by
// the calling process's effective uid with only-user-writable
// permissions, and takes a non-blocking exclusive lock on it. Any
// other state aborts startup, per spec.md §4.E.
func AcquireLockfile(path string) (*Lockfile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, errors.Wrap(ErrBadLockFile, err.Error())
	}

	if err := validateLockFileMode(f); err != nil {
		f.Close()
		return nil, err
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, ErrLockHeld
		}
		return nil, errors.Wrap(ErrBadLockFile, err.Error())
	}

	if err := f.Truncate(0); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, errors.Wrap(ErrBadLockFile, err.Error())
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, errors.Wrap(ErrBadLockFile, err.Error())
	}

	return &Lockfile{path: path, f: f}, nil
}

// Release unlocks and closes the lockfile. It does not remove the
// file: the next daemon startup reuses it.
func (l *Lockfile) Release() error {
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}

// ProbePid queries the lockfile's pid without holding it, for a client
// diagnostic tool to identify a running daemon (spec.md §4.E: "A
// client diagnostic tool may query the lock without holding it in
// order to identify a running daemon by pid"). held is false if the
// lockfile was not exclusively locked by anyone at the moment of the
// probe.
func ProbePid(path string) (pid int, held bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No lockfile yet: nobody holds it.
			return 0, false, nil
		}
		return 0, false, errors.Wrap(ErrBadLockFile, err.Error())
	}
	defer f.Close()

	probeErr := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if probeErr == nil {
		// Nobody held the lock; release what we just speculatively took.
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		return 0, false, nil
	}
	if probeErr != unix.EWOULDBLOCK {
		return 0, false, errors.Wrap(ErrBadLockFile, probeErr.Error())
	}

	buf := make([]byte, 32)
	n, readErr := f.ReadAt(buf, 0)
	if readErr != nil && n == 0 {
		return 0, true, nil
	}
	pid, convErr := strconv.Atoi(trimNulls(buf[:n]))
	if convErr != nil {
		return 0, true, nil
	}
	return pid, true, nil
}

func trimNulls(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func validateLockFileMode(f *os.File) error {
	fi, err := f.Stat()
	if err != nil {
		return errors.Wrap(ErrBadLockFile, err.Error())
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%w: not a regular file", ErrBadLockFile)
	}
	if fi.Mode().Perm()&0o077 != 0 {
		return fmt.Errorf("%w: group/other permission bits set", ErrBadLockFile)
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return fmt.Errorf("%w: cannot determine file owner", ErrBadLockFile)
	}
	if st.Uid != uint32(os.Geteuid()) {
		return fmt.Errorf("%w: not owned by the effective uid", ErrBadLockFile)
	}
	return nil
}
