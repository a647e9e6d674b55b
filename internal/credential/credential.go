// Package credential implements the plaintext credential record of §3
// and its binary (de)serialization and text armor (§4.C), grounded on
// the teacher's manual binary packing in file_store.go
// (writeRecordLocked/readRecordAt) but driven from a single field-order
// table instead of hand-rolled pack/unpack on each side (Design Note
// "Byte-level packing").
package credential

import (
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"

	"credentiald/internal/primitive"
)

// AnyID is the "any" sentinel for AuthUID/AuthGID: no restriction.
const AnyID uint32 = 0xFFFFFFFF

const (
	// MaxRealmLen bounds the realm field to what fits in its one-byte
	// length prefix.
	MaxRealmLen = 255

	// MaxPayloadLen bounds the payload field independently of the
	// 4-byte length prefix's theoretical range, matching the closed
	// request-size budget the transport enforces end to end.
	MaxPayloadLen = 1 << 20

	// SaltLen is the width of the per-credential salt (§3: "8 bytes").
	SaltLen = 8

	// WireVersion is the only credential format version this codec
	// emits or accepts.
	WireVersion uint8 = 1
)

var (
	// ErrBadVersion is returned for any version tag other than WireVersion.
	ErrBadVersion = errors.New("credential: unsupported version")
	// ErrBadRealm is returned when realm exceeds MaxRealmLen.
	ErrBadRealm = errors.New("credential: realm too long")
	// ErrBadPayload is returned when payload exceeds MaxPayloadLen.
	ErrBadPayload = errors.New("credential: payload too long")
	// ErrTruncated is returned when the buffer ends before a field is
	// fully read.
	ErrTruncated = errors.New("credential: truncated field")
	// ErrTrailingData is returned when bytes remain after the last
	// field is deserialized.
	ErrTrailingData = errors.New("credential: trailing data after last field")
	// ErrBadArmor is returned when the text armor is missing a
	// delimiter or has non-base64 interior bytes.
	ErrBadArmor = errors.New("credential: malformed armor")
)

// Header is the cleartext prefix of a credential: the algorithm tags
// and the per-credential salt. It must be readable before the rest of
// the buffer can be decrypted, so it precedes the encrypted section
// rather than being folded into it (spec.md §4.J step 2: "the
// version/cipher/mac/zip prefix ... must remain outside the encrypted
// section"; the salt joins it here because deriving subkeys (§4.J
// step 3) likewise requires it before decryption can begin).
type Header struct {
	Version uint8
	Cipher  primitive.CipherID
	MAC     primitive.MACID
	Zip     primitive.ZipID
	Salt    [SaltLen]byte
}

// HeaderLen is the fixed wire length of a Header.
const HeaderLen = 1 + 1 + 1 + 1 + SaltLen

// Marshal packs the header in field order, big-endian (trivial here
// since every field is one byte or a raw byte array).
func (h Header) Marshal() []byte {
	buf := make([]byte, 0, HeaderLen)
	buf = append(buf, h.Version, byte(h.Cipher), byte(h.MAC), byte(h.Zip))
	buf = append(buf, h.Salt[:]...)
	return buf
}

// UnmarshalHeader reads a Header from the front of buf and returns the
// remaining bytes.
func UnmarshalHeader(buf []byte) (Header, []byte, error) {
	if len(buf) < HeaderLen {
		return Header{}, nil, ErrTruncated
	}
	h := Header{
		Version: buf[0],
		Cipher:  primitive.CipherID(buf[1]),
		MAC:     primitive.MACID(buf[2]),
		Zip:     primitive.ZipID(buf[3]),
	}
	copy(h.Salt[:], buf[4:4+SaltLen])
	if h.Version != WireVersion {
		return Header{}, nil, ErrBadVersion
	}
	return h, buf[HeaderLen:], nil
}

// Fields is the portion of the credential that is MAC-protected and
// encrypted: every §3 field other than version/cipher/mac/zip (carried
// in Header, outside the encrypted section) and mac_tag (appended
// after Fields by the caller once the MAC is computed over this
// serialization).
type Fields struct {
	Realm      []byte
	EncodeTime uint32
	TTL        uint32
	OriginAddr [4]byte
	CredUID    uint32
	CredGID    uint32
	AuthUID    uint32
	AuthGID    uint32
	Payload    []byte
}

// Marshal serializes Fields in the declared §3 order: realm is
// length-prefixed with one byte, payload with four, every integer is
// big-endian, and the serializer rejects any field wider than its
// declared width before writing a single byte.
func (f Fields) Marshal() ([]byte, error) {
	if len(f.Realm) > MaxRealmLen {
		return nil, ErrBadRealm
	}
	if len(f.Payload) > MaxPayloadLen {
		return nil, ErrBadPayload
	}

	buf := make([]byte, 0, 1+len(f.Realm)+4+4+4+4+4+4+4+4+len(f.Payload))
	buf = append(buf, byte(len(f.Realm)))
	buf = append(buf, f.Realm...)
	buf = putU32(buf, f.EncodeTime)
	buf = putU32(buf, f.TTL)
	buf = append(buf, f.OriginAddr[:]...)
	buf = putU32(buf, f.CredUID)
	buf = putU32(buf, f.CredGID)
	buf = putU32(buf, f.AuthUID)
	buf = putU32(buf, f.AuthGID)
	buf = putU32(buf, uint32(len(f.Payload)))
	buf = append(buf, f.Payload...)
	return buf, nil
}

// UnmarshalFields deserializes Fields from the front of buf. It
// verifies monotone consumption (no field reads past the end) and
// returns the number of bytes consumed so the caller — which also
// owns the trailing mac_tag — can detect trailing data itself.
func UnmarshalFields(buf []byte) (Fields, int, error) {
	var f Fields
	pos := 0

	realmLen, ok := readU8(buf, pos)
	if !ok {
		return Fields{}, 0, ErrTruncated
	}
	pos++
	if pos+int(realmLen) > len(buf) {
		return Fields{}, 0, ErrTruncated
	}
	if realmLen > 0 {
		f.Realm = append([]byte(nil), buf[pos:pos+int(realmLen)]...)
	}
	pos += int(realmLen)

	var err error
	if f.EncodeTime, pos, err = readU32(buf, pos); err != nil {
		return Fields{}, 0, err
	}
	if f.TTL, pos, err = readU32(buf, pos); err != nil {
		return Fields{}, 0, err
	}
	if pos+4 > len(buf) {
		return Fields{}, 0, ErrTruncated
	}
	copy(f.OriginAddr[:], buf[pos:pos+4])
	pos += 4
	if f.CredUID, pos, err = readU32(buf, pos); err != nil {
		return Fields{}, 0, err
	}
	if f.CredGID, pos, err = readU32(buf, pos); err != nil {
		return Fields{}, 0, err
	}
	if f.AuthUID, pos, err = readU32(buf, pos); err != nil {
		return Fields{}, 0, err
	}
	if f.AuthGID, pos, err = readU32(buf, pos); err != nil {
		return Fields{}, 0, err
	}
	var payloadLen uint32
	if payloadLen, pos, err = readU32(buf, pos); err != nil {
		return Fields{}, 0, err
	}
	if payloadLen > MaxPayloadLen {
		return Fields{}, 0, ErrBadPayload
	}
	if pos+int(payloadLen) > len(buf) {
		return Fields{}, 0, ErrTruncated
	}
	if payloadLen > 0 {
		f.Payload = append([]byte(nil), buf[pos:pos+int(payloadLen)]...)
	}
	pos += int(payloadLen)

	return f, pos, nil
}

func putU32(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func readU8(buf []byte, pos int) (uint8, bool) {
	if pos >= len(buf) {
		return 0, false
	}
	return buf[pos], true
}

func readU32(buf []byte, pos int) (uint32, int, error) {
	if pos+4 > len(buf) {
		return 0, 0, ErrTruncated
	}
	v := uint32(buf[pos])<<24 | uint32(buf[pos+1])<<16 | uint32(buf[pos+2])<<8 | uint32(buf[pos+3])
	return v, pos + 4, nil
}

const (
	armorPrefix = "CREDENTIALD:"
	armorSuffix = ":"
)

// Armor brackets raw with the fixed ASCII prefix/suffix pair and
// base64-encodes the interior using the standard RFC 4648 alphabet
// (Design Note "Text armor": the original source mixes a base32-like and
// a base64-like encoding across two call sites; this codec standardizes
// on one).
func Armor(raw []byte) string {
	var b strings.Builder
	b.Grow(len(armorPrefix) + len(armorSuffix) + base64.StdEncoding.EncodedLen(len(raw)))
	b.WriteString(armorPrefix)
	b.WriteString(base64.StdEncoding.EncodeToString(raw))
	b.WriteString(armorSuffix)
	return b.String()
}

// Dearmor strips the prefix/suffix and base64-decodes the interior,
// rejecting credentials missing either delimiter or containing
// non-base64 characters inside them.
func Dearmor(s string) ([]byte, error) {
	if !strings.HasPrefix(s, armorPrefix) {
		return nil, ErrBadArmor
	}
	rest := s[len(armorPrefix):]
	if !strings.HasSuffix(rest, armorSuffix) {
		return nil, ErrBadArmor
	}
	interior := rest[:len(rest)-len(armorSuffix)]
	raw, err := base64.StdEncoding.DecodeString(interior)
	if err != nil {
		return nil, ErrBadArmor
	}
	return raw, nil
}
