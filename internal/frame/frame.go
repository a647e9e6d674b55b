// Package frame implements the fixed 11-byte header and the five body
// types of the daemon/client wire protocol (spec.md §3/§4.D), packing
// and unpacking them the same manual big-endian way the teacher packs
// its log records in file_store.go, but against a single schema per
// body type instead of one-off field lists.
package frame

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Magic is the fixed 32-bit constant that opens every frame header.
// Grounded on the original daemon's on-wire magic (a munged build-time
// constant); this codec keeps the same role with its own value.
const Magic uint32 = 0x4d554e47 // "MUNG" in ASCII, in keeping with the lineage this protocol descends from

// Version is the only frame protocol version this codec emits or
// accepts.
const Version uint8 = 1

// HeaderLen is the fixed wire length of a frame header:
// magic(4) + version(1) + type(1) + retry(1) + body_len(4).
const HeaderLen = 4 + 1 + 1 + 1 + 4

// DefaultMaxBodyLen is the default ceiling on body_len (§6: "a small
// multiple of a megabyte (default 1 MiB)").
const DefaultMaxBodyLen = 1 << 20

// Type identifies which body schema follows the header.
type Type uint8

const (
	TypeEncReq Type = iota + 1
	TypeEncRsp
	TypeDecReq
	TypeDecRsp
	TypeAuthFDReq
)

func (t Type) String() string {
	switch t {
	case TypeEncReq:
		return "ENC_REQ"
	case TypeEncRsp:
		return "ENC_RSP"
	case TypeDecReq:
		return "DEC_REQ"
	case TypeDecRsp:
		return "DEC_RSP"
	case TypeAuthFDReq:
		return "AUTH_FD_REQ"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrBadMagic is returned when a header's magic does not match Magic.
	ErrBadMagic = errors.New("frame: bad magic")
	// ErrBadVersion is returned when a header's version does not match Version.
	ErrBadVersion = errors.New("frame: unsupported version")
	// ErrBadLength is returned when body_len exceeds the configured maximum.
	ErrBadLength = errors.New("frame: body length exceeds maximum")
	// ErrTruncated mirrors the credential codec's truncation error for body fields.
	ErrTruncated = errors.New("frame: truncated field")
	// ErrTrailingData is returned when a body has bytes left over after
	// every declared field has been read.
	ErrTrailingData = errors.New("frame: trailing data after last field")
)

// Header is the fixed-size frame prefix.
type Header struct {
	Magic   uint32
	Version uint8
	Type    Type
	Retry   uint8
	BodyLen uint32
}

func (h Header) marshal() []byte {
	buf := make([]byte, HeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = byte(h.Type)
	buf[6] = h.Retry
	binary.BigEndian.PutUint32(buf[7:11], h.BodyLen)
	return buf
}

func unmarshalHeader(buf []byte) Header {
	return Header{
		Magic:   binary.BigEndian.Uint32(buf[0:4]),
		Version: buf[4],
		Type:    Type(buf[5]),
		Retry:   buf[6],
		BodyLen: binary.BigEndian.Uint32(buf[7:11]),
	}
}

// Frame is a header paired with its raw (already-packed) body.
type Frame struct {
	Type  Type
	Retry uint8
	Body  []byte
}

// WriteFrame packs and writes a complete frame: header then body.
func WriteFrame(w io.Writer, f Frame) error {
	h := Header{Magic: Magic, Version: Version, Type: f.Type, Retry: f.Retry, BodyLen: uint32(len(f.Body))}
	if _, err := w.Write(h.marshal()); err != nil {
		return err
	}
	if len(f.Body) == 0 {
		return nil
	}
	_, err := w.Write(f.Body)
	return err
}

// ReadFrame reads exactly the header, validates magic and version, and
// only then reads body_len more bytes (spec.md §4.D). When body_len
// exceeds maxBodyLen the oversized body is drained up to maxBodyLen
// bytes — enough for the caller to log the attempt — before the
// exchange fails with ErrBadLength.
func ReadFrame(r io.Reader, maxBodyLen uint32) (Frame, error) {
	hdrBuf := make([]byte, HeaderLen)
	if _, err := io.ReadFull(r, hdrBuf); err != nil {
		return Frame{}, err
	}
	h := unmarshalHeader(hdrBuf)
	if h.Magic != Magic {
		return Frame{}, ErrBadMagic
	}
	if h.Version != Version {
		return Frame{}, ErrBadVersion
	}
	if h.BodyLen > maxBodyLen {
		drain := io.LimitReader(r, int64(maxBodyLen))
		_, _ = io.Copy(io.Discard, drain)
		return Frame{Type: h.Type, Retry: h.Retry}, ErrBadLength
	}
	body := make([]byte, h.BodyLen)
	if h.BodyLen > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Type: h.Type, Retry: h.Retry, Body: body}, nil
}

// --- shared body-field helpers, mirroring internal/credential's style ---

func putU8(buf []byte, v uint8) []byte  { return append(buf, v) }
func putU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}
func putShortString(buf []byte, s []byte) []byte {
	buf = putU8(buf, uint8(len(s)))
	return append(buf, s...)
}
func putLongString(buf []byte, s []byte) []byte {
	buf = putU32(buf, uint32(len(s)))
	return append(buf, s...)
}

type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) u8() (uint8, error) {
	if c.pos+1 > len(c.buf) {
		return 0, ErrTruncated
	}
	v := c.buf[c.pos]
	c.pos++
	return v, nil
}

func (c *cursor) u32() (uint32, error) {
	if c.pos+4 > len(c.buf) {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint32(c.buf[c.pos : c.pos+4])
	c.pos += 4
	return v, nil
}

func (c *cursor) bytes(n int) ([]byte, error) {
	if n < 0 || c.pos+n > len(c.buf) {
		return nil, ErrTruncated
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return append([]byte(nil), b...), nil
}

func (c *cursor) shortString() ([]byte, error) {
	n, err := c.u8()
	if err != nil {
		return nil, err
	}
	return c.bytes(int(n))
}

func (c *cursor) longString() ([]byte, error) {
	n, err := c.u32()
	if err != nil {
		return nil, err
	}
	return c.bytes(int(n))
}

func (c *cursor) finish() error {
	if c.pos != len(c.buf) {
		return ErrTrailingData
	}
	return nil
}
