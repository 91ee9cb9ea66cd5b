// Package sharecipher derives per-share symmetric keys and encrypts share
// payloads. It is deliberately independent of the account key hierarchy:
// a share key is derived from the share id (and optionally a password),
// never from the owner's data key.
//
// Scheme selection:
//   - legacy: scrypt(shareID, serverSalt). Retained only to decrypt rows
//     written before the scheme split.
//   - unprotected: sha256(shareID). Anyone holding the link can derive this
//     key; it provides opacity at rest, not secrecy against a link holder.
//     Secrecy rests entirely on the share id being an unguessable token.
//   - protected: scrypt(passwordHash, shareID). Binds secrecy to an
//     out-of-band password in addition to the id.
package sharecipher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dkarpov/calvault/internal/common"
	"github.com/dkarpov/calvault/internal/cryptox"
	"github.com/dkarpov/calvault/internal/server/models"
	"golang.org/x/crypto/scrypt"
)

// IVSize is the nonce length for share encryption. Kept at 16 bytes for
// compatibility with rows written by earlier releases.
const IVSize = 16

const (
	scryptN = 32768
	scryptR = 8
	scryptP = 1
)

// Cipher derives share keys and seals/opens share payloads. serverSalt is
// only consulted for legacy rows.
type Cipher struct {
	serverSalt []byte
}

func New(serverSalt []byte) *Cipher {
	return &Cipher{serverSalt: serverSalt}
}

// PasswordHash normalizes a share password into the key-derivation material
// used everywhere a password participates: hex(sha256(password)). Both the
// direct-password path and the access-token path feed this same value into
// DeriveKey, so the two can never diverge.
func PasswordHash(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// DeriveKey produces the 256-bit key for a share under the given scheme.
// passwordHash must be the PasswordHash output; it is ignored except for
// the protected scheme.
func (c *Cipher) DeriveKey(scheme int, shareID, passwordHash string) ([]byte, error) {
	switch scheme {
	case models.SchemeLegacy:
		return scrypt.Key([]byte(shareID), c.serverSalt, scryptN, scryptR, scryptP, cryptox.KeySize)
	case models.SchemeUnprotected:
		sum := sha256.Sum256([]byte(shareID))
		return sum[:], nil
	case models.SchemeProtected:
		if passwordHash == "" {
			return nil, common.ErrPasswordRequired
		}
		return scrypt.Key([]byte(passwordHash), []byte(shareID), scryptN, scryptR, scryptP, cryptox.KeySize)
	default:
		return nil, fmt.Errorf("%w: unknown share scheme %d", common.ErrValidation, scheme)
	}
}

// Encrypt seals the payload with AES-256-GCM under the derived key, using a
// fresh random 16-byte IV and returning the authentication tag detached.
func (c *Cipher) Encrypt(key, plaintext []byte) (ciphertext, iv, tag []byte, err error) {
	iv = cryptox.GenerateIV(IVSize)
	ciphertext, tag, err = cryptox.Encrypt(key, iv, plaintext, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	return ciphertext, iv, tag, nil
}

// Decrypt opens a share row. A wrong password, a wrong key, or a tampered
// row all surface as common.ErrDecryptFailed.
func (c *Cipher) Decrypt(key, iv, ciphertext, tag []byte) ([]byte, error) {
	return cryptox.Decrypt(key, iv, ciphertext, tag, nil)
}
