package adapter

import (
	"context"
	"testing"
)

func testKey() []byte { return []byte("0123456789abcdef0123456789abcdef") }

func TestEncryptedSecretStorePutResolveRoundTrip(t *testing.T) {
	s, err := NewEncryptedSecretStore(testKey())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ref, err := s.Put("conn-1", "sk_live_abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := s.Resolve(context.Background(), ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "sk_live_abc" {
		t.Fatalf("got %q", got)
	}
}

func TestEncryptedSecretStoreResolveUnknownRefIsFatal(t *testing.T) {
	s, err := NewEncryptedSecretStore(testKey())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = s.Resolve(context.Background(), "missing")
	var secretErr *SecretStoreError
	if err == nil {
		t.Fatal("expected an error for an unknown ref")
	}
	if !asSecretStoreError(err, &secretErr) {
		t.Fatalf("expected a *SecretStoreError, got %T", err)
	}
}

func asSecretStoreError(err error, target **SecretStoreError) bool {
	if se, ok := err.(*SecretStoreError); ok {
		*target = se
		return true
	}
	return false
}
