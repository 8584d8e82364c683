package adapter

import (
	"context"
	"testing"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()
	obj, err := s.StoreBytes(ctx, "ws1", "doc.pdf", []byte("hello"), "application/pdf", "documents")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj.Size != 5 {
		t.Fatalf("expected size 5, got %d", obj.Size)
	}

	got, err := s.ReadBytes(ctx, obj.StorageKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestLocalStorageIsContentAddressedIdempotent(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()
	a, _ := s.StoreBytes(ctx, "ws1", "a.pdf", []byte("same"), "application/pdf", "documents")
	b, _ := s.StoreBytes(ctx, "ws1", "b.pdf", []byte("same"), "application/pdf", "documents")
	if a.StorageKey != b.StorageKey {
		t.Fatalf("expected identical bytes to share a storage key, got %q and %q", a.StorageKey, b.StorageKey)
	}
}

func TestLocalStorageDelete(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()
	obj, _ := s.StoreBytes(ctx, "ws1", "doc.pdf", []byte("hello"), "application/pdf", "documents")
	if err := s.Delete(ctx, obj.StorageKey); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.ReadBytes(ctx, obj.StorageKey); err == nil {
		t.Fatal("expected an error reading a deleted blob")
	}
}
