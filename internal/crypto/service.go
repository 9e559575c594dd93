package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
)

// ErrCrypto wraps every encryption, decryption and key I/O failure so callers
// can branch on the kind without inspecting the cause.
var ErrCrypto = errors.New("crypto: operation failed")

const (
	keySize = 32 // AES-256
	// EncryptedSuffix is appended to file names produced by EncryptFile.
	EncryptedSuffix = ".enc"
)

// Service owns the lifecycle of the symmetric key and performs AES-GCM
// encryption of byte payloads and files. The key material file at keyPath is
// read at startup and rewritten wholesale on rotation; no other component
// touches it.
//
// With a passphrase configured the key is derived with argon2id from a
// persisted random salt; the key file then holds the salt, not the key.
// Without one the key file holds raw random key material.
type Service struct {
	mu         sync.RWMutex
	aead       cipher.AEAD
	keyPath    string
	passphrase string
	logger     *zap.Logger
}

// New loads the key material at keyPath, generating and persisting it when
// missing.
func New(keyPath, passphrase string, logger *zap.Logger) (*Service, error) {
	s := &Service{
		keyPath:    keyPath,
		passphrase: passphrase,
		logger:     logger,
	}

	material, err := os.ReadFile(keyPath)
	if errors.Is(err, os.ErrNotExist) {
		material, err = s.generateMaterial()
		if err != nil {
			return nil, err
		}
		logger.Info("Generated new encryption key", zap.String("path", keyPath))
	} else if err != nil {
		return nil, fmt.Errorf("%w: reading key file: %v", ErrCrypto, err)
	}

	aead, err := s.buildAEAD(material)
	if err != nil {
		return nil, err
	}
	s.aead = aead
	return s, nil
}

func (s *Service) generateMaterial() ([]byte, error) {
	material := make([]byte, keySize)
	if _, err := rand.Read(material); err != nil {
		return nil, fmt.Errorf("%w: generating key material: %v", ErrCrypto, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.keyPath), 0o700); err != nil {
		return nil, fmt.Errorf("%w: creating key directory: %v", ErrCrypto, err)
	}
	if err := os.WriteFile(s.keyPath, material, 0o600); err != nil {
		return nil, fmt.Errorf("%w: writing key file: %v", ErrCrypto, err)
	}
	return material, nil
}

func (s *Service) buildAEAD(material []byte) (cipher.AEAD, error) {
	key := material
	if s.passphrase != "" {
		// material is the salt in passphrase mode
		key = argon2.IDKey([]byte(s.passphrase), material, 1, 64*1024, 4, keySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return aead, nil
}

// Encrypt seals the payload under the active key. The random nonce is
// prepended to the returned ciphertext.
func (s *Service) Encrypt(plaintext []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: generating nonce: %v", ErrCrypto, err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a payload produced by Encrypt. Ciphertext sealed under a
// rotated-out key fails: rotation does not re-encrypt existing data.
func (s *Service) Decrypt(blob []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(blob) < s.aead.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrCrypto)
	}
	nonce, ciphertext := blob[:s.aead.NonceSize()], blob[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	return plaintext, nil
}

// EncryptFile encrypts the file at path into a sibling file with the
// EncryptedSuffix appended and returns the new path. The original file is
// left untouched.
func (s *Service) EncryptFile(path string) (string, error) {
	plaintext, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: reading %s: %v", ErrCrypto, path, err)
	}
	blob, err := s.Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	encryptedPath := path + EncryptedSuffix
	if err := os.WriteFile(encryptedPath, blob, 0o600); err != nil {
		return "", fmt.Errorf("%w: writing %s: %v", ErrCrypto, encryptedPath, err)
	}
	return encryptedPath, nil
}

// DecryptFile decrypts a file produced by EncryptFile into a sibling file
// with the suffix stripped and returns the new path.
func (s *Service) DecryptFile(path string) (string, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: reading %s: %v", ErrCrypto, path, err)
	}
	plaintext, err := s.Decrypt(blob)
	if err != nil {
		return "", err
	}
	decryptedPath := strings.TrimSuffix(path, EncryptedSuffix)
	if decryptedPath == path {
		decryptedPath = path + ".dec"
	}
	if err := os.WriteFile(decryptedPath, plaintext, 0o600); err != nil {
		return "", fmt.Errorf("%w: writing %s: %v", ErrCrypto, decryptedPath, err)
	}
	return decryptedPath, nil
}

// RotateKey generates fresh key material, persists it and swaps the active
// key atomically with respect to in-flight Encrypt/Decrypt calls. Payloads
// sealed under the previous key are not re-encrypted and stop being
// decryptable once rotation completes.
func (s *Service) RotateKey() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	material := make([]byte, keySize)
	if _, err := rand.Read(material); err != nil {
		return fmt.Errorf("%w: generating key material: %v", ErrCrypto, err)
	}
	aead, err := s.buildAEAD(material)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.keyPath, material, 0o600); err != nil {
		return fmt.Errorf("%w: writing key file: %v", ErrCrypto, err)
	}
	s.aead = aead
	s.logger.Info("Encryption key rotated", zap.String("path", s.keyPath))
	return nil
}
