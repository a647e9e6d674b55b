package primitive

import "github.com/pkg/errors"

// Sentinel provider errors. Callers above this package translate these
// into the closed Code taxonomy of spec.md §7 (BAD_CIPHER/BAD_MAC/BAD_ZIP);
// they carry enough detail to log without leaking key material.
var (
	ErrUnknownCipher = errors.New("primitive: unknown cipher algorithm")
	ErrUnknownMAC    = errors.New("primitive: unknown mac algorithm")
	ErrUnknownZip    = errors.New("primitive: unknown compressor algorithm")
	ErrBadKeyLength  = errors.New("primitive: key length does not match algorithm")
	ErrBadBlockAlign = errors.New("primitive: ciphertext is not a multiple of the block size")
	ErrBadPadding    = errors.New("primitive: PKCS-7 padding is malformed")
	ErrOutputTooBig  = errors.New("primitive: decompressed output would exceed expected length")
	ErrTrailingData  = errors.New("primitive: trailing bytes after compressed stream")
	ErrEntropy       = errors.New("primitive: entropy source starved")
)
