// Package errs implements the closed, exhaustive error taxonomy of
// spec.md §7: a typed Code enum, an Error carrying an optional
// human-readable detail, and sticky first-error semantics so root
// causes are preferred over downstream symptoms. Shared by
// internal/daemon and the root credentiald package to avoid an import
// cycle between them.
package errs

// Code is the closed set of outcomes an encode or decode call can
// report. Unlike the sentinel errors used inside individual internal
// packages (package-local, for errors.Is comparisons), Code is the one
// value that crosses the wire in a frame's error_num field and reaches
// the client library's caller.
type Code uint8

const (
	Success Code = iota
	Snafu
	BadArg
	BadLength
	Overflow
	NoMemory
	Socket
	Timeout
	BadCred
	BadVersion
	BadCipher
	BadMAC
	BadZip
	BadRealm
	CredExpired
	CredRewound
	CredReplayed
	CredUnauthorized
)

// String names each code using the spec's own wire vocabulary.
func (c Code) String() string {
	switch c {
	case Success:
		return "SUCCESS"
	case Snafu:
		return "SNAFU"
	case BadArg:
		return "BAD_ARG"
	case BadLength:
		return "BAD_LENGTH"
	case Overflow:
		return "OVERFLOW"
	case NoMemory:
		return "NO_MEMORY"
	case Socket:
		return "SOCKET"
	case Timeout:
		return "TIMEOUT"
	case BadCred:
		return "BAD_CRED"
	case BadVersion:
		return "BAD_VERSION"
	case BadCipher:
		return "BAD_CIPHER"
	case BadMAC:
		return "BAD_MAC"
	case BadZip:
		return "BAD_ZIP"
	case BadRealm:
		return "BAD_REALM"
	case CredExpired:
		return "CRED_EXPIRED"
	case CredRewound:
		return "CRED_REWOUND"
	case CredReplayed:
		return "CRED_REPLAYED"
	case CredUnauthorized:
		return "CRED_UNAUTHORIZED"
	default:
		return "UNKNOWN"
	}
}

// Error pairs a Code with an optional human-readable detail (spec.md
// §7: "a human-readable string that may include context such as the
// credential's origin address"). It implements the error interface so
// it composes with errors.Is/errors.As via Code equality.
type Error struct {
	Code   Code
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Detail
}

// Is lets errors.Is(err, New(BadCred)) match any *Error with the same
// Code regardless of Detail.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// New builds an Error with no detail.
func New(code Code) *Error { return &Error{Code: code} }

// Newf builds an Error carrying a detail string.
func Newf(code Code, detail string) *Error { return &Error{Code: code, Detail: detail} }

// Slot holds at most one Error and enforces the sticky-first-error
// policy of spec.md §7: "The first error set on a message is sticky:
// subsequent set-error calls on the same message are ignored."
type Slot struct {
	err *Error
}

// Set records err unless a prior call already recorded one.
func (s *Slot) Set(code Code, detail string) {
	if s.err != nil {
		return
	}
	s.err = &Error{Code: code, Detail: detail}
}

// Get returns the sticky error, or nil if none was set.
func (s *Slot) Get() *Error { return s.err }
