package credentiald

import (
	"time"

	"credentiald/internal/credential"
	"credentiald/internal/primitive"
)

// AnyID is the "any" sentinel for AuthUID/AuthGID: no uid/gid
// restriction on who may decode a credential (spec.md §3).
const AnyID uint32 = credential.AnyID

// DefaultSocketPath is the daemon endpoint a Context dials when
// SocketPath is left empty (spec.md §6 "Endpoint layout").
const DefaultSocketPath = "/var/run/credentiald/credentiald.sock"

// Context is the mutable per-call configuration handle of spec.md §3:
// a plain Go struct rather than the original's opaque handle with
// get/set accessors, since every option here is just a field. Encode
// and Decode read the "On encode"/"On decode" columns of that option
// table directly off Context; Decode overwrites the fields the
// daemon populates from the validated credential's metadata.
type Context struct {
	// Cipher, MAC, and Zip request specific algorithms on encode (zero
	// value requests the daemon's compiled-in default). Decode does not
	// populate them: the DEC_RSP body carries no algorithm fields, so
	// they keep whatever value the caller set.
	Cipher primitive.CipherID
	MAC    primitive.MACID
	Zip    primitive.ZipID

	// Realm requests a named trust realm on encode; on decode it is
	// populated with the realm the credential was minted under.
	Realm string

	// TTL requests a validity window on encode (clamped to the
	// daemon's configured maximum); on decode it is populated with the
	// TTL the credential was minted with.
	TTL time.Duration

	// AuthUID and AuthGID restrict who may decode a credential (AnyID
	// means no restriction); on decode they are populated with the
	// restriction the credential carries.
	AuthUID uint32
	AuthGID uint32

	// OriginAddr is unset on encode (the daemon fills in its own
	// address) and populated on decode with the minting host's address.
	OriginAddr [4]byte

	// EncodeTime and DecodeTime are unset on encode and populated on
	// decode with both timestamps.
	EncodeTime time.Time
	DecodeTime time.Time

	// SocketPath overrides DefaultSocketPath for both encode and
	// decode.
	SocketPath string

	// IgnoreTTL and IgnoreReplay disable freshness/replay checks on
	// decode; diagnostic-only (spec.md §3 "diagnostic").
	IgnoreTTL    bool
	IgnoreReplay bool

	// IOTimeout, RetryAttempts, and RetryBase tune the client's
	// transport behavior (spec.md §5 "Clients retry failed exchanges
	// up to a fixed attempt count with linear back-off").
	IOTimeout     time.Duration
	RetryAttempts int
	RetryBase     time.Duration
}

// NewContext builds a Context with every option at its zero value
// (meaning "use the daemon's default") except the socket path and
// client-side transport tuning, which take sensible standing defaults.
func NewContext() *Context {
	return &Context{
		AuthUID:       AnyID,
		AuthGID:       AnyID,
		SocketPath:    DefaultSocketPath,
		IOTimeout:     5 * time.Second,
		RetryAttempts: 3,
		RetryBase:     100 * time.Millisecond,
	}
}

// Option mutates a Context at construction time, in the same spirit as
// the teacher's plain Config struct for Logger — a thin functional
// wrapper over direct field assignment, for callers who prefer
// constructing a Context in one expression.
type Option func(*Context)

// With applies a sequence of Options to a Context returned by
// NewContext.
func (c *Context) With(opts ...Option) *Context {
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithSocketPath(path string) Option { return func(c *Context) { c.SocketPath = path } }
func WithRealm(realm string) Option     { return func(c *Context) { c.Realm = realm } }
func WithTTL(ttl time.Duration) Option  { return func(c *Context) { c.TTL = ttl } }
func WithAuthUID(uid uint32) Option     { return func(c *Context) { c.AuthUID = uid } }
func WithAuthGID(gid uint32) Option     { return func(c *Context) { c.AuthGID = gid } }
func WithCipher(id primitive.CipherID) Option {
	return func(c *Context) { c.Cipher = id }
}
func WithMAC(id primitive.MACID) Option { return func(c *Context) { c.MAC = id } }
func WithZip(id primitive.ZipID) Option { return func(c *Context) { c.Zip = id } }
func WithIgnoreTTL(ignore bool) Option  { return func(c *Context) { c.IgnoreTTL = ignore } }
func WithIgnoreReplay(ignore bool) Option {
	return func(c *Context) { c.IgnoreReplay = ignore }
}

// ttlSeconds clamps a Context's TTL duration to the 32-bit wire field,
// treating zero as "use the daemon's default".
func (c *Context) ttlSeconds() uint32 {
	if c.TTL <= 0 {
		return 0
	}
	secs := c.TTL / time.Second
	if secs > 1<<32-1 {
		return 1<<32 - 1
	}
	return uint32(secs)
}
