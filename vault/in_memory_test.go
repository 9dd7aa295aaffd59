package vault

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hupe1980/securemesh/core"
)

// Interface compliance (compile-time assertion)
var _ core.SecretStore = (*InMemoryStore)(nil)

func TestInMemoryStorePutAndGet(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if _, err := s.Secret(ctx, "missing"); !errors.Is(err, core.ErrSecretNotFound) {
		t.Fatalf("expected ErrSecretNotFound, got %v", err)
	}

	s.Put("signing-secret", []byte("s3cr3t"))
	got, err := s.Secret(ctx, "signing-secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "s3cr3t" {
		t.Fatalf("unexpected secret: %q", got)
	}

	// mutation safety (returned slice is a copy)
	got[0] = 'X'
	got2, _ := s.Secret(ctx, "signing-secret")
	if string(got2) != "s3cr3t" {
		t.Fatalf("expected copy isolation, got %q", got2)
	}
}

func TestInMemoryStoreDelete(t *testing.T) {
	s := NewInMemoryStore()
	s.Put("k", []byte("v"))
	s.Delete("k")
	if _, err := s.Secret(context.Background(), "k"); !errors.Is(err, core.ErrSecretNotFound) {
		t.Fatalf("expected ErrSecretNotFound after delete, got %v", err)
	}
}

func TestInMemoryStoreConcurrentAccess(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Put("shared", []byte("value"))
		}()
		go func() {
			defer wg.Done()
			_, _ = s.Secret(ctx, "shared")
		}()
	}
	wg.Wait()
}
