package primitive

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"sync"
)

// ReadEntropy fills buf with n bytes from the kernel CSPRNG, matching the
// teacher's own crypto/rand.Read use in logger.go (New, salt/key
// generation). It does not retry: any error from crypto/rand, or n
// larger than buf, is returned as ErrEntropy.
func ReadEntropy(buf []byte, n int) error {
	if n > len(buf) {
		return ErrEntropy
	}
	if _, err := io.ReadFull(rand.Reader, buf[:n]); err != nil {
		return ErrEntropy
	}
	return nil
}

// RandomBytes is a convenience allocator around ReadEntropy.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := ReadEntropy(buf, n); err != nil {
		return nil, err
	}
	return buf, nil
}

// Pool is a forward-secure entropy mixer: every draw folds fresh kernel
// CSPRNG output together with the pool's internal state via HMAC-SHA256,
// then forwards that state one-way by self-hashing it (the same
// self-folding idiom the corpus uses to advance its forward-secure MAC
// key chains). A seed loaded from an on-disk seed file is mixed into the
// initial state once, at NewPool, so a daemon restart carries forward
// entropy collected since it last shut down without ever letting a
// compromise of the current state recover bytes already handed out.
type Pool struct {
	mu    sync.Mutex
	state [sha256.Size]byte
}

// NewPool seeds a Pool from fresh kernel entropy folded together with
// seed (the prior run's seed-file contents; nil or empty is fine, it
// just means the pool starts from kernel entropy alone).
func NewPool(seed []byte) (*Pool, error) {
	var fresh [sha256.Size]byte
	if err := ReadEntropy(fresh[:], sha256.Size); err != nil {
		return nil, err
	}
	defer Wipe(fresh[:])

	h := sha256.New()
	h.Write(fresh[:])
	h.Write(seed)

	p := &Pool{}
	copy(p.state[:], h.Sum(nil))
	return p, nil
}

// RandomBytes draws n mixed bytes from the pool, forwarding its internal
// state after every HMAC block drawn.
func (p *Pool) RandomBytes(n int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]byte, 0, n)
	fresh := make([]byte, sha256.Size)
	for len(out) < n {
		if err := ReadEntropy(fresh, sha256.Size); err != nil {
			return nil, err
		}
		mac := hmac.New(sha256.New, p.state[:])
		mac.Write(fresh)
		out = append(out, mac.Sum(nil)...)

		folded := sha256.Sum256(p.state[:])
		p.state = folded
	}
	Wipe(fresh)
	return out[:n], nil
}
