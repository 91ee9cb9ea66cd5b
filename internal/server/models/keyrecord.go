package models

import "time"

// KeyRecord is the account's single wrapped-data-key envelope as stored by
// the key registry. Exactly one live row exists per user; initialization and
// rotation overwrite it in place.
type KeyRecord struct {
	UserID     string
	Alg        string
	Ciphertext []byte
	IV         []byte
	KeyVersion int64
	UpdatedAt  time.Time
}
