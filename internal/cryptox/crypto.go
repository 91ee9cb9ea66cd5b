// Package cryptox wraps the AEAD primitives used by the key hierarchy and
// the share cipher: AES-256-GCM encryption with detached authentication tags
// and envelope encryption (key wrapping) with inline tags.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/dkarpov/calvault/internal/common"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// WrapIVSize is the nonce length for key wrapping (GCM default).
	WrapIVSize = 12
	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16
)

// GenerateKey returns a fresh random 256-bit symmetric key.
func GenerateKey() []byte {
	return common.GenerateRandByteArray(KeySize)
}

// GenerateIV returns size random bytes for use as a nonce.
func GenerateIV(size int) []byte {
	return common.GenerateRandByteArray(size)
}

// Encrypt seals plaintext with AES-256-GCM under the given key and IV and
// returns the ciphertext and the detached authentication tag separately.
// The IV may be any length >= 12; the share cipher uses 16-byte IVs.
// aad, when non-nil, is bound to the ciphertext and must be supplied
// unchanged on decryption.
func Encrypt(key, iv, plaintext, aad []byte) (ciphertext, tag []byte, err error) {
	aead, err := newGCM(key, len(iv))
	if err != nil {
		return nil, nil, err
	}

	sealed := aead.Seal(nil, iv, plaintext, aad)

	// Seal appends the tag to the ciphertext; split it off so the tag can
	// be stored in its own column.
	n := len(sealed) - TagSize
	return sealed[:n], sealed[n:], nil
}

// Decrypt opens ciphertext sealed by Encrypt. Any failure (wrong key, wrong
// IV, altered ciphertext, tag or aad) yields common.ErrDecryptFailed; the
// causes are deliberately not distinguished.
func Decrypt(key, iv, ciphertext, tag, aad []byte) ([]byte, error) {
	aead, err := newGCM(key, len(iv))
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, iv, sealed, aad)
	if err != nil {
		return nil, common.ErrDecryptFailed
	}
	return plaintext, nil
}

// Wrap encrypts key material under a key-encryption key, producing the
// wrapped form stored in envelopes (ciphertext with inline tag, plus IV).
func Wrap(kek, key []byte) (ciphertext, iv []byte, err error) {
	aead, err := newGCM(kek, WrapIVSize)
	if err != nil {
		return nil, nil, err
	}

	iv = GenerateIV(WrapIVSize)
	ciphertext = aead.Seal(nil, iv, key, nil)
	return ciphertext, iv, nil
}

// Unwrap reverses Wrap. A failed unwrap means the wrong key-encryption key
// was supplied or the envelope was tampered with; both surface as
// common.ErrDecryptFailed.
func Unwrap(kek, ciphertext, iv []byte) ([]byte, error) {
	aead, err := newGCM(kek, len(iv))
	if err != nil {
		return nil, err
	}

	key, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, common.ErrDecryptFailed
	}
	return key, nil
}

func newGCM(key []byte, nonceSize int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if nonceSize == WrapIVSize {
		return cipher.NewGCM(block)
	}
	return cipher.NewGCMWithNonceSize(block, nonceSize)
}
