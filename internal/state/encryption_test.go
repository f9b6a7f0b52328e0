package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt_NoKey(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "")

	content := []byte("version = 1\nserial = 0\n")
	encrypted, err := EncryptState(content)
	require.NoError(t, err)
	assert.Equal(t, content, encrypted)

	decrypted, err := DecryptState(content)
	require.NoError(t, err)
	assert.Equal(t, content, decrypted)
}

func TestEncryptDecrypt_WithKey(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "short key")

	content := []byte("version = 1\nserial = 42\nlineage = \"test-uuid\"\n")

	encrypted, err := EncryptState(content)
	require.NoError(t, err)
	assert.NotEqual(t, content, encrypted)
	assert.True(t, IsEncrypted(encrypted))
	assert.NotContains(t, string(encrypted), "test-uuid")

	decrypted, err := DecryptState(encrypted)
	require.NoError(t, err)
	assert.Equal(t, content, decrypted)
}

func TestIsEncrypted(t *testing.T) {
	assert.True(t, IsEncrypted([]byte("# APPHOST_ENCRYPTED_STATE\nbase64data")))
	assert.False(t, IsEncrypted([]byte("version = 1\n")))
	assert.False(t, IsEncrypted([]byte("")))
}

func TestDecryptState_WrongKey(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "correct-key")
	encrypted, err := EncryptState([]byte("test data"))
	require.NoError(t, err)

	t.Setenv(EncryptionKeyEnvVar, "wrong-key")
	_, err = DecryptState(encrypted)
	assert.ErrorContains(t, err, "wrong key")
}

func TestDecryptState_MissingKey(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "k")
	encrypted, err := EncryptState([]byte("test data"))
	require.NoError(t, err)

	t.Setenv(EncryptionKeyEnvVar, "")
	_, err = DecryptState(encrypted)
	assert.ErrorIs(t, err, ErrMissingKey)
}
