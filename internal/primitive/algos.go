// Package primitive offers a uniform surface over the symmetric cipher,
// MAC, compressor and entropy primitives the credential codec and key
// schedule build on, each with one default implementation. Only the MAC
// is an interface (MAC); the cipher is the concrete Cipher type, and
// compression and entropy are plain functions (see DESIGN.md, "Provider
// indirection").
package primitive

import "fmt"

// CipherID identifies a symmetric cipher usable for credential encryption.
type CipherID uint8

const (
	// CipherNone means no cipher was chosen: the encoder substitutes the
	// configured default for it, and NewCipher builds no cipher for it.
	CipherNone CipherID = iota
	// CipherAES128 is AES in CBC mode with a 128-bit key.
	CipherAES128
	// CipherAES256 is AES in CBC mode with a 256-bit key.
	CipherAES256
)

func (c CipherID) String() string {
	switch c {
	case CipherNone:
		return "none"
	case CipherAES128:
		return "aes128"
	case CipherAES256:
		return "aes256"
	default:
		return fmt.Sprintf("cipher(%d)", uint8(c))
	}
}

// KeyLen returns the cipher key length in bytes for this identifier.
func (c CipherID) KeyLen() int {
	switch c {
	case CipherAES128:
		return 16
	case CipherAES256:
		return 32
	default:
		return 0
	}
}

// MACID identifies a MAC/hash family usable for credential authentication
// and as the hash underlying the key schedule's HMAC.
type MACID uint8

const (
	// MACNone means no MAC was chosen: the encoder substitutes the
	// configured default for it, and no MAC can be built for it.
	MACNone MACID = iota
	// MACSHA256 is HMAC-SHA256.
	MACSHA256
	// MACSHA512 is HMAC-SHA512.
	MACSHA512
)

func (m MACID) String() string {
	switch m {
	case MACNone:
		return "none"
	case MACSHA256:
		return "sha256"
	case MACSHA512:
		return "sha512"
	default:
		return fmt.Sprintf("mac(%d)", uint8(m))
	}
}

// Size returns the MAC output length in bytes for this identifier.
func (m MACID) Size() int {
	switch m {
	case MACSHA256:
		return 32
	case MACSHA512:
		return 64
	default:
		return 0
	}
}

// ZipID identifies a compressor usable for the credential payload.
type ZipID uint8

const (
	// ZipNone stores the payload uncompressed.
	ZipNone ZipID = iota
	// ZipDeflate compresses the payload with DEFLATE.
	ZipDeflate
)

func (z ZipID) String() string {
	switch z {
	case ZipNone:
		return "none"
	case ZipDeflate:
		return "deflate"
	default:
		return fmt.Sprintf("zip(%d)", uint8(z))
	}
}

// DefaultCipher, DefaultMAC and DefaultZip are used whenever a caller's
// Context leaves the corresponding option unset (spec.md §4.I step 1).
const (
	DefaultCipher = CipherAES256
	DefaultMAC    = MACSHA256
	DefaultZip    = ZipDeflate
)
