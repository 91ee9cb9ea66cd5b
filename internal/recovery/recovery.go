// Package recovery implements the recovery secret codec: a 256-bit random
// secret rendered as a grouped, human-transcribable display string.
//
// The secret is user-custodied and must never reach the server in any form.
package recovery

import (
	"encoding/base32"
	"strings"

	"github.com/dkarpov/calvault/internal/common"
)

// SecretSize is the raw recovery secret length in bytes.
const SecretSize = 32

const groupLen = 4

// base32 without padding: 32 bytes encode to exactly 52 characters.
var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Generate returns a fresh random recovery secret together with its display
// form: base32, dash-separated in groups of four for transcription.
func Generate() (secret []byte, display string, err error) {
	secret = common.GenerateRandByteArray(SecretSize)
	return secret, Format(secret), nil
}

// Format renders raw secret bytes in the grouped display form.
func Format(secret []byte) string {
	encoded := encoding.EncodeToString(secret)

	var b strings.Builder
	for i := 0; i < len(encoded); i += groupLen {
		if i > 0 {
			b.WriteByte('-')
		}
		end := i + groupLen
		if end > len(encoded) {
			end = len(encoded)
		}
		b.WriteString(encoded[i:end])
	}
	return b.String()
}

// Parse decodes a display string back into the raw 32-byte secret. It is
// tolerant of case, dashes, and whitespace, but anything that does not
// decode to exactly 32 bytes yields common.ErrInvalidRecoveryKey.
func Parse(display string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, display)
	cleaned = strings.ToUpper(cleaned)

	secret, err := encoding.DecodeString(cleaned)
	if err != nil {
		return nil, common.ErrInvalidRecoveryKey
	}
	if len(secret) != SecretSize {
		return nil, common.ErrInvalidRecoveryKey
	}
	return secret, nil
}
