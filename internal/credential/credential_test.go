package credential

import (
	"bytes"
	"strings"
	"testing"

	"credentiald/internal/primitive"
)

func TestHeader_RoundTrip(t *testing.T) {
	h := Header{
		Version: WireVersion,
		Cipher:  primitive.CipherAES256,
		MAC:     primitive.MACSHA256,
		Zip:     primitive.ZipDeflate,
	}
	copy(h.Salt[:], []byte("abcdefgh"))

	buf := h.Marshal()
	if len(buf) != HeaderLen {
		t.Fatalf("expected %d bytes, got %d", HeaderLen, len(buf))
	}

	got, rest, err := UnmarshalHeader(append(buf, 0xAA, 0xBB))
	if err != nil {
		t.Fatal(err)
	}
	if got != h {
		t.Fatalf("header mismatch: got %+v want %+v", got, h)
	}
	if !bytes.Equal(rest, []byte{0xAA, 0xBB}) {
		t.Fatalf("expected remainder [0xAA 0xBB], got %x", rest)
	}
}

func TestHeader_RejectsUnknownVersion(t *testing.T) {
	h := Header{Version: 99}
	buf := h.Marshal()
	if _, _, err := UnmarshalHeader(buf); err != ErrBadVersion {
		t.Fatalf("expected ErrBadVersion, got %v", err)
	}
}

func TestHeader_RejectsTruncatedBuffer(t *testing.T) {
	if _, _, err := UnmarshalHeader([]byte{1, 2, 3}); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestFields_RoundTrip(t *testing.T) {
	f := Fields{
		Realm:      []byte("example.org"),
		EncodeTime: 1700000000,
		TTL:        300,
		OriginAddr: [4]byte{127, 0, 0, 1},
		CredUID:    1000,
		CredGID:    1000,
		AuthUID:    AnyID,
		AuthGID:    AnyID,
		Payload:    []byte("squeamish ossifrage"),
	}
	buf, err := f.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	got, n, err := UnmarshalFields(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(buf) {
		t.Fatalf("expected to consume all %d bytes, consumed %d", len(buf), n)
	}
	if !bytes.Equal(got.Realm, f.Realm) || !bytes.Equal(got.Payload, f.Payload) {
		t.Fatalf("byte-string fields mismatch: got %+v want %+v", got, f)
	}
	if got.EncodeTime != f.EncodeTime || got.TTL != f.TTL || got.OriginAddr != f.OriginAddr {
		t.Fatalf("scalar fields mismatch: got %+v want %+v", got, f)
	}
	if got.CredUID != f.CredUID || got.CredGID != f.CredGID || got.AuthUID != f.AuthUID || got.AuthGID != f.AuthGID {
		t.Fatalf("identity fields mismatch: got %+v want %+v", got, f)
	}
}

func TestFields_RoundTrip_EmptyRealmAndPayload(t *testing.T) {
	f := Fields{EncodeTime: 1, TTL: 1, AuthUID: AnyID, AuthGID: AnyID}
	buf, err := f.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	got, n, err := UnmarshalFields(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(buf) {
		t.Fatalf("expected full consumption, got %d of %d", n, len(buf))
	}
	if len(got.Realm) != 0 || len(got.Payload) != 0 {
		t.Fatalf("expected empty realm/payload, got %+v", got)
	}
}

func TestFields_RejectsOversizeRealm(t *testing.T) {
	f := Fields{Realm: bytes.Repeat([]byte("x"), MaxRealmLen+1)}
	if _, err := f.Marshal(); err != ErrBadRealm {
		t.Fatalf("expected ErrBadRealm, got %v", err)
	}
}

func TestFields_RejectsOversizePayload(t *testing.T) {
	f := Fields{Payload: bytes.Repeat([]byte("x"), MaxPayloadLen+1)}
	if _, err := f.Marshal(); err != ErrBadPayload {
		t.Fatalf("expected ErrBadPayload, got %v", err)
	}
}

func TestUnmarshalFields_RejectsTruncation(t *testing.T) {
	f := Fields{Realm: []byte("r"), EncodeTime: 1, TTL: 1}
	buf, err := f.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := UnmarshalFields(buf[:len(buf)-2]); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestUnmarshalFields_DetectsTrailingData(t *testing.T) {
	f := Fields{EncodeTime: 1, TTL: 1}
	buf, err := f.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	buf = append(buf, 0x00)
	_, n, err := UnmarshalFields(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n == len(buf) {
		t.Fatal("caller must be able to detect the extra trailing byte")
	}
}

func TestArmor_RoundTrip(t *testing.T) {
	raw := []byte{0x01, 0x02, 0x03, 0xFF, 0x00}
	s := Armor(raw)
	if !strings.HasPrefix(s, armorPrefix) || !strings.HasSuffix(s, armorSuffix) {
		t.Fatalf("armored string missing delimiters: %q", s)
	}
	back, err := Dearmor(s)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back, raw) {
		t.Fatalf("dearmor mismatch: got %x want %x", back, raw)
	}
}

func TestDearmor_RejectsMissingPrefix(t *testing.T) {
	if _, err := Dearmor("NOTPFX:YWJj:"); err != ErrBadArmor {
		t.Fatalf("expected ErrBadArmor, got %v", err)
	}
}

func TestDearmor_RejectsMissingSuffix(t *testing.T) {
	if _, err := Dearmor(armorPrefix + "YWJj"); err != ErrBadArmor {
		t.Fatalf("expected ErrBadArmor, got %v", err)
	}
}

func TestDearmor_RejectsNonBase64Interior(t *testing.T) {
	if _, err := Dearmor(armorPrefix + "not base64!!" + armorSuffix); err != ErrBadArmor {
		t.Fatalf("expected ErrBadArmor, got %v", err)
	}
}
