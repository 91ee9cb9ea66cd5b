package models

import "time"

// Share cipher scheme versions. The scheme recorded on a row selects the
// key-derivation used to decrypt it; legacy exists only for rows written
// before the scheme split.
const (
	SchemeLegacy      = 0
	SchemeUnprotected = 1
	SchemeProtected   = 2
)

// Share is a single shared item's ciphertext row. A burn row is deleted by
// its first successful decrypt; at most one reader ever sees the plaintext.
type Share struct {
	ID          string
	OwnerID     string
	Ciphertext  []byte
	IV          []byte
	Tag         []byte
	Scheme      int
	IsProtected bool
	IsBurn      bool
	CreatedAt   time.Time
}
