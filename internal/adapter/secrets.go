package adapter

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
)

// EncryptedSecretStore is an authenticated-encryption-at-rest secret store
// keyed by config.AppSecretKey (spec.md §6: "APP_SECRET_KEY ... symmetric
// key for secret-at-rest encryption (authenticated encryption)").
// Grounded on original_source/app/secrets.py's encrypt-at-write,
// decrypt-at-read design; values are stored ciphertext-only in memory so a
// process dump never reveals plaintext secrets.
type EncryptedSecretStore struct {
	gcm cipher.AEAD

	mu         sync.RWMutex
	ciphertext map[string][]byte
}

// NewEncryptedSecretStore builds a store using key (must be 32 bytes, the
// AES-256 key size) as the AEAD key.
func NewEncryptedSecretStore(key []byte) (*EncryptedSecretStore, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("adapter: secret store cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("adapter: secret store gcm: %w", err)
	}
	return &EncryptedSecretStore{gcm: gcm, ciphertext: make(map[string][]byte)}, nil
}

// Put encrypts and stores plaintext under ref, returning the ref for
// convenience (callers typically generate ref themselves, e.g. a uuid).
func (s *EncryptedSecretStore) Put(ref, plaintext string) (string, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("adapter: secret nonce: %w", err)
	}
	sealed := s.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	s.mu.Lock()
	s.ciphertext[ref] = sealed
	s.mu.Unlock()
	return ref, nil
}

// Resolve decrypts and returns ref's plaintext, or a *SecretStoreError —
// per spec.md §4.10/§7, this is always fatal/non-retriable to the caller,
// never silently swallowed.
func (s *EncryptedSecretStore) Resolve(_ context.Context, ref string) (string, error) {
	s.mu.RLock()
	sealed, ok := s.ciphertext[ref]
	s.mu.RUnlock()
	if !ok {
		return "", &SecretStoreError{Ref: ref, Err: fmt.Errorf("no secret stored for ref")}
	}
	nonceSize := s.gcm.NonceSize()
	if len(sealed) < nonceSize {
		return "", &SecretStoreError{Ref: ref, Err: fmt.Errorf("corrupt ciphertext")}
	}
	nonce, ct := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := s.gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", &SecretStoreError{Ref: ref, Err: err}
	}
	return string(plaintext), nil
}

// EncodeKey base64-urlsafe-encodes a raw key, the accepted APP_SECRET_KEY
// alternate form spec.md §6 names.
func EncodeKey(key []byte) string { return base64.URLEncoding.EncodeToString(key) }
