package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// LocalStorage is a content-addressed filesystem Storage implementation —
// the "local filesystem adapter" SPEC_FULL.md §4.11 names as the
// USE_DB=0-equivalent default for the storage boundary.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage returns a Storage rooted at baseDir, creating it if
// necessary.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("adapter: create storage dir: %w", err)
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

func (l *LocalStorage) keyPath(workspaceID, key string) string {
	return filepath.Join(l.baseDir, workspaceID, key[:2], key)
}

// StoreBytes writes data under a path derived from its sha256, so storing
// the same bytes twice is idempotent and the returned sha256 matches the
// on-disk key.
func (l *LocalStorage) StoreBytes(_ context.Context, workspaceID, filename string, data []byte, mime, bucket string) (StoredObject, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	path := l.keyPath(workspaceID, hash)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return StoredObject{}, fmt.Errorf("adapter: mkdir: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return StoredObject{}, fmt.Errorf("adapter: write: %w", err)
		}
	}
	if bucket == "" {
		bucket = "default"
	}
	return StoredObject{StorageKey: workspaceID + "/" + hash, SHA256: hash, Size: int64(len(data)), Bucket: bucket, Path: path}, nil
}

// ReadBytes reads back a previously stored blob by its storage key
// ("workspaceID/hash").
func (l *LocalStorage) ReadBytes(_ context.Context, storageKey string) ([]byte, error) {
	ws, hash, err := splitKey(storageKey)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(l.keyPath(ws, hash))
}

// Delete removes the blob at storageKey.
func (l *LocalStorage) Delete(_ context.Context, storageKey string) error {
	ws, hash, err := splitKey(storageKey)
	if err != nil {
		return err
	}
	return os.Remove(l.keyPath(ws, hash))
}

func splitKey(storageKey string) (workspaceID, hash string, err error) {
	idx := len(storageKey) - 1
	for idx >= 0 && storageKey[idx] != '/' {
		idx--
	}
	if idx < 0 {
		return "", "", fmt.Errorf("adapter: malformed storage key %q", storageKey)
	}
	return storageKey[:idx], storageKey[idx+1:], nil
}
