package credentiald

import "credentiald/internal/errs"

// Code is the closed taxonomy of outcomes an Encode or Decode call can
// report (spec.md §7). It is a type alias for internal/errs.Code so the
// daemon and client share one definition without an import cycle
// (internal/daemon depends on internal/errs, not on this package).
type Code = errs.Code

// The closed set of result codes, re-exported at the taxonomy's
// canonical names.
const (
	Success          = errs.Success
	Snafu            = errs.Snafu
	BadArg           = errs.BadArg
	BadLength        = errs.BadLength
	Overflow         = errs.Overflow
	NoMemory         = errs.NoMemory
	Socket           = errs.Socket
	Timeout          = errs.Timeout
	BadCred          = errs.BadCred
	BadVersion       = errs.BadVersion
	BadCipher        = errs.BadCipher
	BadMAC           = errs.BadMAC
	BadZip           = errs.BadZip
	BadRealm         = errs.BadRealm
	CredExpired      = errs.CredExpired
	CredRewound      = errs.CredRewound
	CredReplayed     = errs.CredReplayed
	CredUnauthorized = errs.CredUnauthorized
)

// Error is the error type every Encode/Decode call returns on anything
// but success: a Code plus an optional human-readable Detail (spec.md
// §7: "a human-readable string that may include context such as the
// credential's origin address").
type Error = errs.Error

// Strerror renders code using the wire vocabulary of spec.md §7,
// matching the teacher's own preference for a dedicated string-of-enum
// helper alongside Go's usual Error() string method.
func Strerror(code Code) string {
	return code.String()
}
