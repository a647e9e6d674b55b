// Package daemon implements the encode and decode engines (spec.md
// §4.I/§4.J) and the startup/shutdown orchestrator (§4.K). It is the
// one package that wires together every lower-level component:
// primitive, kdf, credential, frame, replay, and groupmap.
package daemon

import "credentiald/internal/primitive"

// Defaults and ceilings, grounded in the original daemon's own
// compile-time constants (its defaults for TTL and the replay-purge
// interval are kept verbatim; its clock-skew tolerance is made
// configurable per Design Note "Clock skew" and given the same
// starting value it always shipped with).
const (
	DefaultTTLSeconds = 300
	MaxTTLSeconds      = 3600
	DefaultSkewSeconds = 80
	ReplayPurgeSecs    = 60

	// MinKeyBytes and MaxKeyBytes bound the shared master keyfile's
	// length (spec.md §3/§6 "Keyfile").
	MinKeyBytes = 32
	MaxKeyBytes = 1024

	// SeedFileBytes is the width of the PRNG seed file mixed in on
	// startup and rewritten on shutdown.
	SeedFileBytes = 1024
)

// Config holds every daemon-side policy knob the encode/decode engines
// consult (Design Note "Cyclic/global state": these were process
// globals in the source; here they are explicit fields threaded
// through every engine call instead).
type Config struct {
	MasterKey []byte

	DefaultCipher primitive.CipherID
	DefaultMAC    primitive.MACID
	DefaultZip    primitive.ZipID

	DefaultTTL uint32
	MaxTTL     uint32
	SkewSecs   uint32

	// OriginAddr is this daemon host's primary IPv4 address, recorded
	// on every credential it mints.
	OriginAddr [4]byte

	// Realms lists every realm label this daemon recognizes on
	// decode. A nil or empty set means "accept any realm" (including
	// the empty/default realm).
	Realms map[string]struct{}
}

// WithDefaults fills any zero-valued policy field with its compiled-in
// default.
func (c Config) WithDefaults() Config {
	if c.DefaultCipher == primitive.CipherNone {
		c.DefaultCipher = primitive.DefaultCipher
	}
	if c.DefaultMAC == primitive.MACNone {
		c.DefaultMAC = primitive.DefaultMAC
	}
	if c.DefaultZip == primitive.ZipNone {
		c.DefaultZip = primitive.DefaultZip
	}
	if c.DefaultTTL == 0 {
		c.DefaultTTL = DefaultTTLSeconds
	}
	if c.MaxTTL == 0 {
		c.MaxTTL = MaxTTLSeconds
	}
	if c.SkewSecs == 0 {
		c.SkewSecs = DefaultSkewSeconds
	}
	return c
}
