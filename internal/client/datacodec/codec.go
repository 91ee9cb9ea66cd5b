// Package datacodec encrypts calendar record payloads under the unlocked
// data key. Payloads are JSON-encoded, then sealed with AES-256-GCM using a
// fresh 12-byte IV per record, with the record id bound as associated data
// so an envelope cannot be silently moved between records.
package datacodec

import (
	"encoding/json"
	"fmt"

	"github.com/dkarpov/calvault/internal/common"
	"github.com/dkarpov/calvault/internal/cryptox"
)

// Envelope is the encrypted form of one record payload. Ciphertext carries
// the authentication tag inline.
type Envelope struct {
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
}

// Encrypt seals payload under dataKey for the given record id.
func Encrypt(dataKey []byte, recordID string, payload any) (*Envelope, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	iv := cryptox.GenerateIV(cryptox.WrapIVSize)
	ciphertext, tag, err := cryptox.Encrypt(dataKey, iv, plaintext, []byte(recordID))
	if err != nil {
		return nil, err
	}

	return &Envelope{Ciphertext: append(ciphertext, tag...), IV: iv}, nil
}

// Decrypt opens an envelope for the given record id into out. A wrong key,
// a tampered envelope, or a mismatched record id all yield
// common.ErrDecryptFailed.
func Decrypt(dataKey []byte, recordID string, envelope *Envelope, out any) error {
	if len(envelope.Ciphertext) < cryptox.TagSize {
		return common.ErrDecryptFailed
	}
	n := len(envelope.Ciphertext) - cryptox.TagSize
	ciphertext := envelope.Ciphertext[:n]
	tag := envelope.Ciphertext[n:]

	plaintext, err := cryptox.Decrypt(dataKey, envelope.IV, ciphertext, tag, []byte(recordID))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(plaintext, out); err != nil {
		return common.ErrDecryptFailed
	}
	return nil
}
