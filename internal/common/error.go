// Package common defines shared constants and sentinel errors used across
// client and server layers of calvault. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Key hierarchy flow control. Each value maps to a recovery action:
	// ErrNotInitialized -> run Initialize, ErrUnlockRequired -> prompt for
	// the recovery secret, ErrInvalidRecoveryKey -> re-enter the secret.
	ErrNotInitialized     = errors.New("account not initialized")
	ErrUnlockRequired     = errors.New("recovery unlock required")
	ErrInvalidRecoveryKey = errors.New("invalid recovery key")
	ErrNotUnlocked        = errors.New("session not unlocked")

	// Registry transport errors. Surfaced as-is, callers decide on retry.
	ErrRegistryLoad = errors.New("key registry load failed")
	ErrRegistrySave = errors.New("key registry save failed")

	// ErrTrustSave means the device trust record could not be persisted
	// after the registry already accepted the new envelope. The operation's
	// result is still valid and must reach the caller.
	ErrTrustSave = errors.New("device trust save failed")

	// ErrDecryptFailed covers every AEAD failure. Wrong password and
	// tampered ciphertext are intentionally indistinguishable.
	ErrDecryptFailed = errors.New("decryption failed")

	// Share access errors.
	ErrUnauthorized     = errors.New("unauthorized")
	ErrPasswordRequired = errors.New("password required")
	ErrInvalidToken     = errors.New("invalid token")

	// Validation / request shape errors.
	ErrValidation = errors.New("validation error")

	// Service-level errors (generic/internal flow control).
	ErrInternal = errors.New("internal error")
)
