package primitive

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
)

// MAC is a keyed message authentication code. It generalizes the
// teacher's one-shot mac(key, chunks...) helper (protocol.go) into a
// streaming interface so the credential codec can feed it the
// serialized record incrementally instead of concatenating buffers.
type MAC interface {
	Write(p []byte) (int, error)
	// Sum returns the MAC tag over everything written so far. It does
	// not reset the underlying state.
	Sum() []byte
	// Size is the tag length in bytes.
	Size() int
}

type hmacMAC struct {
	h hash.Hash
}

func newHash(id MACID) (func() hash.Hash, error) {
	switch id {
	case MACSHA256:
		return sha256.New, nil
	case MACSHA512:
		return sha512.New, nil
	default:
		return nil, ErrUnknownMAC
	}
}

// NewMAC constructs a streaming MAC of the given algorithm over key.
func NewMAC(id MACID, key []byte) (MAC, error) {
	newh, err := newHash(id)
	if err != nil {
		return nil, err
	}
	return &hmacMAC{h: hmac.New(newh, key)}, nil
}

func (m *hmacMAC) Write(p []byte) (int, error) { return m.h.Write(p) }
func (m *hmacMAC) Sum() []byte                 { return m.h.Sum(nil) }
func (m *hmacMAC) Size() int                   { return m.h.Size() }

// MACBlock is the one-shot form spec.md §4.A requires: mac_init + N
// mac_update + mac_final in a single call.
func MACBlock(id MACID, key []byte, chunks ...[]byte) ([]byte, error) {
	m, err := NewMAC(id, key)
	if err != nil {
		return nil, err
	}
	for _, c := range chunks {
		if _, err := m.Write(c); err != nil {
			return nil, err
		}
	}
	return m.Sum(), nil
}

// HashFor returns the hash constructor underlying a MAC family (spec.md
// §4.B: "the hash underlying the chosen MAC"). The key schedule does not
// call it; it builds its HMAC through the MAC constructors instead.
func HashFor(id MACID) (func() hash.Hash, error) {
	return newHash(id)
}

// ConstantTimeEqual compares two MAC tags in constant time, generalizing
// the teacher's constantTimeEqual (verify.go) / hmacEqual (transport.go)
// helpers, which existed twice in slightly different forms; this package
// gives the decode engine (internal/daemon) a single shared implementation.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
