package sharecipher

import (
	"testing"

	"github.com/dkarpov/calvault/internal/common"
	"github.com/dkarpov/calvault/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCipher() *Cipher {
	return New([]byte("legacy-server-salt"))
}

func TestDeriveKey_DistinctAcrossShareIDs(t *testing.T) {
	c := newTestCipher()

	a, err := c.DeriveKey(models.SchemeUnprotected, "share-a", "")
	require.NoError(t, err)
	b, err := c.DeriveKey(models.SchemeUnprotected, "share-b", "")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Len(t, a, 32)
}

func TestDeriveKey_Deterministic(t *testing.T) {
	c := newTestCipher()

	for _, scheme := range []int{models.SchemeLegacy, models.SchemeUnprotected, models.SchemeProtected} {
		a, err := c.DeriveKey(scheme, "share-1", PasswordHash("pw"))
		require.NoError(t, err)
		b, err := c.DeriveKey(scheme, "share-1", PasswordHash("pw"))
		require.NoError(t, err)
		assert.Equal(t, a, b, "scheme %d", scheme)
	}
}

func TestDeriveKey_ProtectedDependsOnPassword(t *testing.T) {
	c := newTestCipher()

	a, err := c.DeriveKey(models.SchemeProtected, "share-1", PasswordHash("pw-one"))
	require.NoError(t, err)
	b, err := c.DeriveKey(models.SchemeProtected, "share-1", PasswordHash("pw-two"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestDeriveKey_ProtectedRequiresPassword(t *testing.T) {
	c := newTestCipher()

	_, err := c.DeriveKey(models.SchemeProtected, "share-1", "")
	assert.ErrorIs(t, err, common.ErrPasswordRequired)
}

func TestDeriveKey_UnknownScheme(t *testing.T) {
	c := newTestCipher()

	_, err := c.DeriveKey(42, "share-1", "")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	c := newTestCipher()
	key, err := c.DeriveKey(models.SchemeProtected, "share-1", PasswordHash("pw"))
	require.NoError(t, err)

	plaintext := []byte(`{"title":"standup","start":"09:30"}`)
	ciphertext, iv, tag, err := c.Encrypt(key, plaintext)
	require.NoError(t, err)
	assert.Len(t, iv, IVSize)

	got, err := c.Decrypt(key, iv, ciphertext, tag)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestDecrypt_WrongPasswordFailsClosed(t *testing.T) {
	c := newTestCipher()

	rightKey, err := c.DeriveKey(models.SchemeProtected, "share-1", PasswordHash("right"))
	require.NoError(t, err)
	wrongKey, err := c.DeriveKey(models.SchemeProtected, "share-1", PasswordHash("wrong"))
	require.NoError(t, err)

	ciphertext, iv, tag, err := c.Encrypt(rightKey, []byte("secret"))
	require.NoError(t, err)

	_, err = c.Decrypt(wrongKey, iv, ciphertext, tag)
	assert.ErrorIs(t, err, common.ErrDecryptFailed)
}

func TestPasswordHash_StableAndHex(t *testing.T) {
	a := PasswordHash("hunter2")
	b := PasswordHash("hunter2")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, PasswordHash("hunter3"))
}
