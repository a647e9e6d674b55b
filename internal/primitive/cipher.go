package primitive

import (
	"crypto/aes"
	"crypto/cipher"
)

// Direction selects whether a Cipher context encrypts or decrypts.
type Direction int

const (
	Encrypt Direction = iota
	Decrypt
)

// Cipher wraps a symmetric block cipher in CBC mode. PKCS-7 padding is
// applied on encrypt and verified/stripped on decrypt by the wrapper, so
// callers never see raw block boundaries (spec.md §4.A).
type Cipher struct {
	id  CipherID
	dir Direction
	blk cipher.Block
	iv  []byte
}

// BlockSize returns the underlying block cipher's block size in bytes.
func (c *Cipher) BlockSize() int { return c.blk.BlockSize() }

// KeySize returns the key length in bytes this cipher identifier requires.
func KeySize(id CipherID) int { return id.KeyLen() }

// IVSize returns the IV length in bytes, equal to the block size for CBC.
func IVSize(id CipherID) int {
	switch id {
	case CipherAES128, CipherAES256:
		return aes.BlockSize
	default:
		return 0
	}
}

// NewCipher constructs a CBC-mode cipher context for encryption or
// decryption. iv must be exactly IVSize(id) bytes.
func NewCipher(id CipherID, key, iv []byte, dir Direction) (*Cipher, error) {
	if id.KeyLen() == 0 || len(key) != id.KeyLen() {
		return nil, ErrBadKeyLength
	}
	blk, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != blk.BlockSize() {
		return nil, ErrBadKeyLength
	}
	ivCopy := make([]byte, len(iv))
	copy(ivCopy, iv)
	return &Cipher{id: id, dir: dir, blk: blk, iv: ivCopy}, nil
}

// Seal encrypts plaintext under PKCS-7 padding and returns the full
// ciphertext in one call (the wrapper's cipher_update + cipher_final).
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	if c.dir != Encrypt {
		return nil, ErrBadKeyLength
	}
	bs := c.blk.BlockSize()
	padded := pkcs7Pad(plaintext, bs)
	out := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(c.blk, c.iv)
	mode.CryptBlocks(out, padded)
	return out, nil
}

// Open decrypts ciphertext and strips PKCS-7 padding. A malformed padding
// byte or a ciphertext that is not block-aligned is reported distinctly so
// the decode engine can fold both into BAD_CRED without distinguishing the
// precise cause to an attacker.
func (c *Cipher) Open(ciphertext []byte) ([]byte, error) {
	if c.dir != Decrypt {
		return nil, ErrBadKeyLength
	}
	bs := c.blk.BlockSize()
	if len(ciphertext) == 0 || len(ciphertext)%bs != 0 {
		return nil, ErrBadBlockAlign
	}
	out := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(c.blk, c.iv)
	mode.CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out, bs)
}

func pkcs7Pad(in []byte, blockSize int) []byte {
	padLen := blockSize - (len(in) % blockSize)
	out := make([]byte, len(in)+padLen)
	copy(out, in)
	for i := len(in); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	return out
}

func pkcs7Unpad(in []byte, blockSize int) ([]byte, error) {
	if len(in) == 0 || len(in)%blockSize != 0 {
		return nil, ErrBadPadding
	}
	padLen := int(in[len(in)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(in) {
		return nil, ErrBadPadding
	}
	for _, b := range in[len(in)-padLen:] {
		if int(b) != padLen {
			return nil, ErrBadPadding
		}
	}
	return in[:len(in)-padLen], nil
}
