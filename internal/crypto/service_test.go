package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T, passphrase string) *Service {
	t.Helper()
	keyPath := filepath.Join(t.TempDir(), "encryption.key")
	svc, err := New(keyPath, passphrase, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	svc := newTestService(t, "")

	payload := []byte("the quick brown fox")
	blob, err := svc.Encrypt(payload)
	require.NoError(t, err)
	assert.NotEqual(t, payload, blob)

	plaintext, err := svc.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, payload, plaintext)
}

func TestDecryptMalformedCiphertext(t *testing.T) {
	svc := newTestService(t, "")

	_, err := svc.Decrypt([]byte("short"))
	assert.ErrorIs(t, err, ErrCrypto)

	blob, err := svc.Encrypt([]byte("payload"))
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xff
	_, err = svc.Decrypt(blob)
	assert.ErrorIs(t, err, ErrCrypto)
}

func TestKeyPersistsAcrossRestart(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "encryption.key")
	first, err := New(keyPath, "", zap.NewNop())
	require.NoError(t, err)

	blob, err := first.Encrypt([]byte("survives restart"))
	require.NoError(t, err)

	second, err := New(keyPath, "", zap.NewNop())
	require.NoError(t, err)

	plaintext, err := second.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, []byte("survives restart"), plaintext)
}

func TestPassphraseDerivedKey(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "encryption.key")
	svc, err := New(keyPath, "secret-passphrase", zap.NewNop())
	require.NoError(t, err)

	blob, err := svc.Encrypt([]byte("derived"))
	require.NoError(t, err)

	// same passphrase and salt file decrypts
	again, err := New(keyPath, "secret-passphrase", zap.NewNop())
	require.NoError(t, err)
	plaintext, err := again.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, []byte("derived"), plaintext)

	// wrong passphrase does not
	wrong, err := New(keyPath, "other-passphrase", zap.NewNop())
	require.NoError(t, err)
	_, err = wrong.Decrypt(blob)
	assert.ErrorIs(t, err, ErrCrypto)
}

func TestRotateKeyInvalidatesOldCiphertext(t *testing.T) {
	svc := newTestService(t, "")

	blob, err := svc.Encrypt([]byte("sealed under old key"))
	require.NoError(t, err)

	require.NoError(t, svc.RotateKey())

	// rotation does not re-encrypt: old ciphertext is gone for good
	_, err = svc.Decrypt(blob)
	assert.ErrorIs(t, err, ErrCrypto)

	fresh, err := svc.Encrypt([]byte("sealed under new key"))
	require.NoError(t, err)
	plaintext, err := svc.Decrypt(fresh)
	require.NoError(t, err)
	assert.Equal(t, []byte("sealed under new key"), plaintext)
}

func TestEncryptDecryptFile(t *testing.T) {
	svc := newTestService(t, "")

	dir := t.TempDir()
	path := filepath.Join(dir, "report.txt")
	require.NoError(t, os.WriteFile(path, []byte("file contents"), 0o600))

	encryptedPath, err := svc.EncryptFile(path)
	require.NoError(t, err)
	assert.Equal(t, path+EncryptedSuffix, encryptedPath)

	// original file untouched
	original, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("file contents"), original)

	require.NoError(t, os.Remove(path))

	decryptedPath, err := svc.DecryptFile(encryptedPath)
	require.NoError(t, err)
	assert.Equal(t, path, decryptedPath)

	restored, err := os.ReadFile(decryptedPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("file contents"), restored)
}
