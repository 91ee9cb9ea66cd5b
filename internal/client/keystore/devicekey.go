package keystore

import (
	"github.com/dkarpov/calvault/internal/cryptox"
)

// DeviceKey is the per-device wrapping key. Its raw bytes are unexported and
// there is no export method: callers can only Seal and Open. Together with
// the device-local backing store, this is what makes a stolen trust record
// useless off-device.
type DeviceKey struct {
	raw []byte
}

// GenerateDeviceKey creates a fresh device wrapping key.
func GenerateDeviceKey() *DeviceKey {
	return &DeviceKey{raw: cryptox.GenerateKey()}
}

// Seal wraps key material (the master key) under the device key.
func (k *DeviceKey) Seal(key []byte) (ciphertext, iv []byte, err error) {
	return cryptox.Wrap(k.raw, key)
}

// Open unwraps material previously sealed with this device key. Failure
// surfaces as common.ErrDecryptFailed.
func (k *DeviceKey) Open(ciphertext, iv []byte) ([]byte, error) {
	return cryptox.Unwrap(k.raw, ciphertext, iv)
}
