package frame

import (
	"bytes"
	"testing"
)

func TestWriteReadFrame_RoundTrip(t *testing.T) {
	body := EncReq{Cipher: 2, MAC: 1, Zip: 1, Realm: []byte("r"), TTL: 300, AuthUID: 0xFFFFFFFF, AuthGID: 0xFFFFFFFF, Payload: []byte("hi")}.Marshal()

	var buf bytes.Buffer
	if err := WriteFrame(&buf, Frame{Type: TypeEncReq, Retry: 3, Body: body}); err != nil {
		t.Fatal(err)
	}

	got, err := ReadFrame(&buf, DefaultMaxBodyLen)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != TypeEncReq || got.Retry != 3 {
		t.Fatalf("header mismatch: got type=%v retry=%d", got.Type, got.Retry)
	}
	if !bytes.Equal(got.Body, body) {
		t.Fatalf("body mismatch: got %x want %x", got.Body, body)
	}
}

// Invariant 6 (spec.md §8): the framed codec is a bijection on all
// well-formed bodies up to the maximum length.
func TestBodyCodec_Bijection(t *testing.T) {
	encReq := EncReq{Cipher: 1, MAC: 2, Zip: 0, Realm: []byte("example"), TTL: 600, AuthUID: 5, AuthGID: 6, Payload: []byte("payload data")}
	if back, err := UnmarshalEncReq(encReq.Marshal()); err != nil || !equalEncReq(back, encReq) {
		t.Fatalf("EncReq round trip failed: %v %+v", err, back)
	}

	encRsp := EncRsp{ErrorNum: 0, Credential: []byte("CREDENTIALD:abc:")}
	if back, err := UnmarshalEncRsp(encRsp.Marshal()); err != nil || !bytes.Equal(back.Credential, encRsp.Credential) {
		t.Fatalf("EncRsp round trip failed: %v %+v", err, back)
	}

	decReq := DecReq{Credential: []byte("CREDENTIALD:abc:"), IgnoreTTL: true, IgnoreReplay: false}
	if back, err := UnmarshalDecReq(decReq.Marshal()); err != nil || back.IgnoreTTL != true || back.IgnoreReplay != false {
		t.Fatalf("DecReq round trip failed: %v %+v", err, back)
	}

	decRsp := DecRsp{Payload: []byte("p"), CredUID: 1, CredGID: 2, AuthUID: 0xFFFFFFFF, AuthGID: 0xFFFFFFFF, EncodeTime: 10, DecodeTime: 20, TTL: 300, OriginAddr: [4]byte{10, 0, 0, 1}, Realm: []byte("r")}
	if back, err := UnmarshalDecRsp(decRsp.Marshal()); err != nil || back.OriginAddr != decRsp.OriginAddr || back.EncodeTime != decRsp.EncodeTime {
		t.Fatalf("DecRsp round trip failed: %v %+v", err, back)
	}

	authFD := AuthFDReq{PipeName: []byte("pipe-1"), ClientDir: []byte("/run/credentiald/client")}
	if back, err := UnmarshalAuthFDReq(authFD.Marshal()); err != nil || !bytes.Equal(back.PipeName, authFD.PipeName) {
		t.Fatalf("AuthFDReq round trip failed: %v %+v", err, back)
	}
}

func equalEncReq(a, b EncReq) bool {
	return a.Cipher == b.Cipher && a.MAC == b.MAC && a.Zip == b.Zip &&
		bytes.Equal(a.Realm, b.Realm) && a.TTL == b.TTL &&
		a.AuthUID == b.AuthUID && a.AuthGID == b.AuthGID && bytes.Equal(a.Payload, b.Payload)
}

func TestUnmarshalEncReq_RejectsTrailingData(t *testing.T) {
	body := EncReq{Payload: []byte("x")}.Marshal()
	body = append(body, 0x00)
	if _, err := UnmarshalEncReq(body); err != ErrTrailingData {
		t.Fatalf("expected ErrTrailingData, got %v", err)
	}
}

func TestUnmarshalEncReq_RejectsTruncation(t *testing.T) {
	body := EncReq{Cipher: 1, MAC: 1, Zip: 1, Realm: []byte("realm"), Payload: []byte("x")}.Marshal()
	if _, err := UnmarshalEncReq(body[:len(body)-3]); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestReadFrame_RejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0, Version, byte(TypeEncReq), 0, 0, 0, 0, 0})
	if _, err := ReadFrame(&buf, DefaultMaxBodyLen); err != ErrBadMagic {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestReadFrame_RejectsBadVersion(t *testing.T) {
	h := Header{Magic: Magic, Version: 99, Type: TypeEncReq}
	var buf bytes.Buffer
	buf.Write(h.marshal())
	if _, err := ReadFrame(&buf, DefaultMaxBodyLen); err != ErrBadVersion {
		t.Fatalf("expected ErrBadVersion, got %v", err)
	}
}

// E7 (spec.md §8): send a frame with body_len = max + 1; expect
// BAD_LENGTH, with the oversized body drained so the caller can log
// the attempt.
func TestReadFrame_E7Scenario_BadLength(t *testing.T) {
	const max = 64
	oversized := bytes.Repeat([]byte("x"), max+1)

	var buf bytes.Buffer
	if err := WriteFrame(&buf, Frame{Type: TypeDecReq, Body: oversized}); err != nil {
		t.Fatal(err)
	}
	buf.WriteString("next-frame-marker")

	_, err := ReadFrame(&buf, max)
	if err != ErrBadLength {
		t.Fatalf("expected ErrBadLength, got %v", err)
	}
	if buf.Len() != len("next-frame-marker")+1 {
		t.Fatalf("expected drain to consume exactly max bytes of the oversized body, %d bytes left", buf.Len())
	}
}
