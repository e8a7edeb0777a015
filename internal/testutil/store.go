package testutil

import (
	"context"
	"strings"
	"testing"

	"github.com/docshare/linkdrive/internal/storage"
)

// NewTestStore creates an empty in-memory store.
func NewTestStore() *storage.Memory {
	return storage.NewMemory()
}

// WriteFile adds content and links it at p, creating parent folders.
func WriteFile(t *testing.T, s storage.Store, p, content string) string {
	t.Helper()
	ctx := context.Background()

	if idx := strings.LastIndex(p, "/"); idx > 0 {
		if err := s.Mkdir(ctx, p[:idx], true); err != nil {
			t.Fatalf("mkdir %s: %v", p[:idx], err)
		}
	}
	hash, _, err := s.Add(ctx, strings.NewReader(content))
	if err != nil {
		t.Fatalf("add %s: %v", p, err)
	}
	if err := s.LinkByHash(ctx, hash, p); err != nil {
		t.Fatalf("link %s: %v", p, err)
	}
	return hash
}
