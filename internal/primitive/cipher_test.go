package primitive

import (
	"bytes"
	"testing"
)

func TestCipher_RoundTrip(t *testing.T) {
	for _, id := range []CipherID{CipherAES128, CipherAES256} {
		key, err := RandomBytes(KeySize(id))
		if err != nil {
			t.Fatal(err)
		}
		iv, err := RandomBytes(IVSize(id))
		if err != nil {
			t.Fatal(err)
		}
		plaintexts := [][]byte{
			nil,
			[]byte("a"),
			[]byte("exactly-16-bytes"),
			bytes.Repeat([]byte("x"), 33),
		}
		for _, pt := range plaintexts {
			enc, err := NewCipher(id, key, iv, Encrypt)
			if err != nil {
				t.Fatalf("%v: NewCipher encrypt: %v", id, err)
			}
			ct, err := enc.Seal(pt)
			if err != nil {
				t.Fatalf("%v: Seal: %v", id, err)
			}
			if len(ct)%enc.BlockSize() != 0 {
				t.Fatalf("%v: ciphertext not block aligned", id)
			}
			dec, err := NewCipher(id, key, iv, Decrypt)
			if err != nil {
				t.Fatalf("%v: NewCipher decrypt: %v", id, err)
			}
			got, err := dec.Open(ct)
			if err != nil {
				t.Fatalf("%v: Open: %v", id, err)
			}
			if !bytes.Equal(got, pt) {
				t.Fatalf("%v: round trip mismatch: got %q want %q", id, got, pt)
			}
		}
	}
}

// E4 (spec.md §8): flipping a bit of the ciphertext must not silently
// decrypt to the original plaintext; either padding fails or the bytes
// differ, and in either case the caller (decode engine) must surface
// BAD_CRED.
func TestCipher_BitFlipDetected(t *testing.T) {
	key, _ := RandomBytes(KeySize(CipherAES256))
	iv, _ := RandomBytes(IVSize(CipherAES256))
	enc, _ := NewCipher(CipherAES256, key, iv, Encrypt)
	ct, err := enc.Seal([]byte("squeamish ossifrage over sixteen bytes"))
	if err != nil {
		t.Fatal(err)
	}
	flipped := append([]byte(nil), ct...)
	flipped[0] ^= 0x01

	dec, _ := NewCipher(CipherAES256, key, iv, Decrypt)
	got, err := dec.Open(flipped)
	if err == nil && bytes.Equal(got, []byte("squeamish ossifrage over sixteen bytes")) {
		t.Fatal("bit flip must not decrypt to the original plaintext")
	}
}

func TestCipher_BadKeyLength(t *testing.T) {
	if _, err := NewCipher(CipherAES256, make([]byte, 10), make([]byte, 16), Encrypt); err != ErrBadKeyLength {
		t.Fatalf("expected ErrBadKeyLength, got %v", err)
	}
}

func TestPKCS7_RejectsGarbagePadding(t *testing.T) {
	// 16 zero bytes is not valid PKCS-7 padding for a 16-byte block.
	_, err := pkcs7Unpad(make([]byte, 16), 16)
	if err != ErrBadPadding {
		t.Fatalf("expected ErrBadPadding, got %v", err)
	}
}
