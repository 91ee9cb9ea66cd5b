// Package unlock composes the recovery codec, the device keystore, and the
// server key registry into an unlocked in-memory data key.
//
// The key hierarchy: the recovery secret's 32 bytes are imported directly as
// the master key; the master key wraps the long-lived data key; the server
// stores only the wrapped form. A trusted device additionally holds the
// master key wrapped under a device-bound key, so it can unlock without the
// recovery secret as long as its record matches the server's key version.
package unlock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkarpov/calvault/internal/client/keystore"
	"github.com/dkarpov/calvault/internal/client/registry"
	"github.com/dkarpov/calvault/internal/common"
	"github.com/dkarpov/calvault/internal/cryptox"
	"github.com/dkarpov/calvault/internal/recovery"
)

// State is the orchestrator's lifecycle position.
type State int

const (
	StateUninitialized State = iota
	StateNeedRecovery
	StateSetupRecovery
	StateReady
	StateError
)

// Unlock sources.
const (
	SourceDevice   = "device"
	SourceRecovery = "recovery"
)

// Registry is the server key registry surface the session needs.
type Registry interface {
	FetchRecord(ctx context.Context, userID string) (*registry.KeyRecord, error)
	SaveRecord(ctx context.Context, userID string, envelope *registry.WrappedDataKey) error
}

// TrustStore is the device wrapping key store surface the session needs.
type TrustStore interface {
	SaveTrustedDevice(ctx context.Context, userID string, version int64, ciphertext, iv []byte, key *keystore.DeviceKey) error
	LoadTrustedDevice(ctx context.Context, userID string) (*keystore.TrustedDevice, error)
	DeleteTrustedDevice(ctx context.Context, userID string) error
}

// InitResult reports a completed initialization. RecoveryDisplay is shown
// to the user exactly once and never stored.
type InitResult struct {
	RecoveryDisplay string
	Version         int64
}

// UnlockResult reports a completed unlock and which path produced it.
type UnlockResult struct {
	Source  string
	Version int64
}

// RotateResult reports a completed rotation. The new recovery display is
// shown once; the old secret stopped working the moment the registry save
// succeeded.
type RotateResult struct {
	OldVersion      int64
	NewVersion      int64
	RecoveryDisplay string
}

// Session owns the unlocked data key for one account on one device. It is
// an explicit object rather than package state so independent sessions can
// coexist and tests stay deterministic.
//
// All mutating operations serialize on an internal mutex: two UI triggers
// racing an unlock against a rotation cannot interleave, and cannot write
// divergent trust records.
type Session struct {
	mu sync.Mutex

	registry Registry
	store    TrustStore

	state   State
	dataKey []byte
	version int64
}

func NewSession(reg Registry, store TrustStore) *Session {
	return &Session{registry: reg, store: store, state: StateUninitialized}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// DataKey returns the unlocked data key, or ErrNotUnlocked. Callers must
// treat the returned slice as read-only.
func (s *Session) DataKey() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return nil, common.ErrNotUnlocked
	}
	return s.dataKey, nil
}

// Version returns the key version the session is unlocked at.
func (s *Session) Version() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return 0, common.ErrNotUnlocked
	}
	return s.version, nil
}

// Initialize creates the account's key hierarchy from scratch: a fresh
// recovery secret (imported as the master key), a fresh data key wrapped
// under it at version 1, and a trust record for this device.
//
// The trust record is written only after the registry save succeeds, so a
// failed save never leaves local state pointing at an envelope the server
// does not hold.
//
// Once the registry save succeeds the recovery display is the only copy of
// the secret: a trust-store failure after that point returns the result
// alongside an ErrTrustSave error, and the caller must still show the
// display. The session is unlocked either way.
func (s *Session) Initialize(ctx context.Context, userID string) (*InitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateSetupRecovery

	masterKey, display, err := recovery.Generate()
	if err != nil {
		s.state = StateError
		return nil, err
	}
	defer common.WipeByteArray(masterKey)

	dataKey := cryptox.GenerateKey()

	ciphertext, iv, err := cryptox.Wrap(masterKey, dataKey)
	if err != nil {
		s.state = StateError
		return nil, fmt.Errorf("wrapping data key: %w", err)
	}

	const initialVersion = 1
	err = s.registry.SaveRecord(ctx, userID, &registry.WrappedDataKey{
		Alg:        "AES-GCM",
		Ciphertext: ciphertext,
		IV:         iv,
		KeyVersion: initialVersion,
	})
	if err != nil {
		s.state = StateError
		return nil, err
	}

	res := &InitResult{RecoveryDisplay: display, Version: initialVersion}
	s.setReady(dataKey, initialVersion)

	if err := s.trustThisDevice(ctx, userID, initialVersion, masterKey); err != nil {
		// The server already holds the envelope; losing the display here
		// would leave an initialized account whose secret was never shown.
		return res, fmt.Errorf("%w: %v", common.ErrTrustSave, err)
	}

	return res, nil
}

// UnlockWithDevice is the fast path: unwrap the master key with this
// device's trust record, then unwrap the data key from the server envelope.
//
// Fails with ErrNotInitialized when the account has no envelope, and with
// ErrUnlockRequired when there is no usable trust record for the server's
// current key version (the caller should prompt for the recovery secret).
func (s *Session) UnlockWithDevice(ctx context.Context, userID string) (*UnlockResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.fetchRecord(ctx, userID)
	if err != nil {
		return nil, err
	}

	trusted, err := s.store.LoadTrustedDevice(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.state = StateNeedRecovery
			return nil, common.ErrUnlockRequired
		}
		return nil, err
	}

	if trusted.KeyVersion != record.KeyVersion {
		// Stale record from before a rotation elsewhere; discard it.
		_ = s.store.DeleteTrustedDevice(ctx, userID)
		s.state = StateNeedRecovery
		return nil, common.ErrUnlockRequired
	}

	masterKey, err := trusted.Open()
	if err != nil {
		s.state = StateNeedRecovery
		return nil, common.ErrUnlockRequired
	}
	defer common.WipeByteArray(masterKey)

	dataKey, err := cryptox.Unwrap(masterKey, record.WrappedDataKey.Ciphertext, record.WrappedDataKey.IV)
	if err != nil {
		s.state = StateError
		return nil, err
	}

	s.setReady(dataKey, record.KeyVersion)
	return &UnlockResult{Source: SourceDevice, Version: record.KeyVersion}, nil
}

// UnlockWithRecovery is the slow path: import the supplied recovery secret
// as the master key and unwrap the data key from the server envelope. On
// success this device becomes trusted at the server's current version; if
// persisting the trust record fails the session is still unlocked and the
// result is returned alongside an ErrTrustSave error.
//
// An AEAD failure is the only signal for a wrong secret; it is not
// distinguished from tampering so the error cannot serve as an oracle.
func (s *Session) UnlockWithRecovery(ctx context.Context, userID, recoveryInput string) (*UnlockResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.fetchRecord(ctx, userID)
	if err != nil {
		return nil, err
	}

	masterKey, err := recovery.Parse(recoveryInput)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(masterKey)

	dataKey, err := cryptox.Unwrap(masterKey, record.WrappedDataKey.Ciphertext, record.WrappedDataKey.IV)
	if err != nil {
		s.state = StateNeedRecovery
		return nil, err
	}

	s.setReady(dataKey, record.KeyVersion)
	res := &UnlockResult{Source: SourceRecovery, Version: record.KeyVersion}

	// The unwrap already succeeded; a trust-store failure only means the
	// next unlock will need the secret again.
	if err := s.trustThisDevice(ctx, userID, record.KeyVersion, masterKey); err != nil {
		return res, fmt.Errorf("%w: %v", common.ErrTrustSave, err)
	}

	return res, nil
}

// Rotate replaces the recovery secret: the already-unlocked data key keeps
// its identity but is rewrapped under a new master key at version+1. The
// old secret re-verifies against the current envelope first, as
// confirmation the caller holds it. The registry save is the point of no
// return for the old secret.
//
// Past that point the new recovery display is the only remaining
// credential, so a trust-store failure returns the result alongside an
// ErrTrustSave error rather than discarding it; the caller must still show
// the new display.
func (s *Session) Rotate(ctx context.Context, userID, oldRecoveryInput string) (*RotateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return nil, common.ErrNotUnlocked
	}

	record, err := s.fetchRecord(ctx, userID)
	if err != nil {
		return nil, err
	}

	oldMaster, err := recovery.Parse(oldRecoveryInput)
	if err != nil {
		return nil, err
	}
	confirm, err := cryptox.Unwrap(oldMaster, record.WrappedDataKey.Ciphertext, record.WrappedDataKey.IV)
	common.WipeByteArray(oldMaster)
	if err != nil {
		return nil, err
	}
	common.WipeByteArray(confirm)

	newMaster, display, err := recovery.Generate()
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(newMaster)

	ciphertext, iv, err := cryptox.Wrap(newMaster, s.dataKey)
	if err != nil {
		return nil, fmt.Errorf("wrapping data key: %w", err)
	}

	oldVersion := record.KeyVersion
	newVersion := oldVersion + 1

	err = s.registry.SaveRecord(ctx, userID, &registry.WrappedDataKey{
		Alg:        "AES-GCM",
		Ciphertext: ciphertext,
		IV:         iv,
		KeyVersion: newVersion,
	})
	if err != nil {
		return nil, err
	}

	s.version = newVersion
	res := &RotateResult{
		OldVersion:      oldVersion,
		NewVersion:      newVersion,
		RecoveryDisplay: display,
	}

	if err := s.trustThisDevice(ctx, userID, newVersion, newMaster); err != nil {
		// The old secret is already dead server-side; the new display must
		// reach the caller even though this device could not be re-trusted.
		return res, fmt.Errorf("%w: %v", common.ErrTrustSave, err)
	}

	return res, nil
}

// fetchRecord loads the server envelope, translating absence into
// ErrNotInitialized and transport failures into ErrRegistryLoad.
func (s *Session) fetchRecord(ctx context.Context, userID string) (*registry.KeyRecord, error) {
	record, err := s.registry.FetchRecord(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.state = StateUninitialized
			return nil, common.ErrNotInitialized
		}
		return nil, err
	}
	return record, nil
}

// trustThisDevice wraps the master key under a fresh device key and
// persists the trust record, replacing any prior one.
func (s *Session) trustThisDevice(ctx context.Context, userID string, version int64, masterKey []byte) error {
	deviceKey := keystore.GenerateDeviceKey()
	ciphertext, iv, err := deviceKey.Seal(masterKey)
	if err != nil {
		return fmt.Errorf("sealing master key: %w", err)
	}
	return s.store.SaveTrustedDevice(ctx, userID, version, ciphertext, iv, deviceKey)
}

func (s *Session) setReady(dataKey []byte, version int64) {
	common.WipeByteArray(s.dataKey)
	s.dataKey = dataKey
	s.version = version
	s.state = StateReady
}
