package state

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	// EncryptionKeyEnvVar is the environment variable for the state encryption key.
	EncryptionKeyEnvVar = "APPHOST_STATE_ENCRYPTION_KEY"

	encryptedHeader = "# APPHOST_ENCRYPTED_STATE\n"
)

// additionalData binds ciphertexts to this file format.
var additionalData = []byte("apphost-state-v1")

// ErrMissingKey is returned when encrypted state is read without a key.
var ErrMissingKey = errors.New("state file is encrypted but " + EncryptionKeyEnvVar + " is not set")

// EncryptState seals content with AES-256-GCM when a key is configured and
// returns it unchanged otherwise.
func EncryptState(content []byte) ([]byte, error) {
	gcm, err := stateCipher()
	if err != nil || gcm == nil {
		return content, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, content, additionalData)
	out := make([]byte, 0, len(encryptedHeader)+base64.StdEncoding.EncodedLen(len(sealed))+1)
	out = append(out, encryptedHeader...)
	out = base64.StdEncoding.AppendEncode(out, sealed)
	return append(out, '\n'), nil
}

// DecryptState opens content sealed by EncryptState. Plain content is
// returned as is.
func DecryptState(content []byte) ([]byte, error) {
	if !IsEncrypted(content) {
		return content, nil
	}

	gcm, err := stateCipher()
	if err != nil {
		return nil, err
	}
	if gcm == nil {
		return nil, ErrMissingKey
	}

	encoded := bytes.TrimSpace(content[len(encryptedHeader):])
	sealed, err := base64.StdEncoding.AppendDecode(nil, encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encrypted state: %w", err)
	}

	n := gcm.NonceSize()
	if len(sealed) < n {
		return nil, fmt.Errorf("ciphertext too short")
	}
	plaintext, err := gcm.Open(nil, sealed[:n], sealed[n:], additionalData)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt state (wrong key?): %w", err)
	}
	return plaintext, nil
}

// IsEncrypted checks if state content is encrypted.
func IsEncrypted(content []byte) bool {
	return bytes.HasPrefix(content, []byte(encryptedHeader))
}

// stateCipher returns nil when no key is configured. Any passphrase length
// is accepted; the AES key is its SHA-256 digest.
func stateCipher() (cipher.AEAD, error) {
	passphrase, ok := os.LookupEnv(EncryptionKeyEnvVar)
	if !ok || passphrase == "" {
		return nil, nil
	}
	key := sha256.Sum256([]byte(passphrase))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
