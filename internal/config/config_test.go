package config

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func unsetEnv(t *testing.T, key string) {
	t.Helper()
	if val, ok := os.LookupEnv(key); ok {
		t.Cleanup(func() { os.Setenv(key, val) })
	}
	os.Unsetenv(key)
}

func TestLoad(t *testing.T) {
	t.Run("returns config with defaults when no env vars set", func(t *testing.T) {
		for _, key := range []string{"DB_DRIVER", "STORE_BACKEND", "TREE_LOCKING", "STORE_TIMEOUT", "DEFAULT_OWNER_ID", "SERVER_PORT"} {
			unsetEnv(t, key)
		}

		cfg := Load()
		if cfg == nil {
			t.Fatal("expected non-nil config")
		}
		if cfg.DB.Driver != "postgres" {
			t.Errorf("expected DB.Driver 'postgres', got %s", cfg.DB.Driver)
		}
		if cfg.Store.Backend != "ipfs" {
			t.Errorf("expected Store.Backend 'ipfs', got %s", cfg.Store.Backend)
		}
		if cfg.Store.Timeout != 30*time.Second {
			t.Errorf("expected Store.Timeout 30s, got %v", cfg.Store.Timeout)
		}
		if cfg.Tree.Locking {
			t.Errorf("expected Tree.Locking to default to false")
		}
		if cfg.Server.Port != "8080" {
			t.Errorf("expected Server.Port '8080', got %s", cfg.Server.Port)
		}
		if cfg.Owner.DefaultID != uuid.MustParse("00000000-0000-0000-0000-000000000001") {
			t.Errorf("unexpected default owner %s", cfg.Owner.DefaultID)
		}
	})

	t.Run("reads environment variables", func(t *testing.T) {
		t.Setenv("DB_DRIVER", "SQLite")
		t.Setenv("DB_SQLITE_PATH", "/tmp/mirror.db")
		t.Setenv("STORE_BACKEND", "memory")
		t.Setenv("STORE_TIMEOUT", "5s")
		t.Setenv("TREE_LOCKING", "true")
		t.Setenv("ARCHIVE_MAX_DEPTH", "8")
		t.Setenv("GATEWAY_PATH_URL", "http://gateway.local")
		t.Setenv("DEFAULT_OWNER_ID", "22222222-2222-2222-2222-222222222222")

		cfg := Load()

		if cfg.DB.Driver != "sqlite" {
			t.Errorf("expected DB.Driver 'sqlite', got %s", cfg.DB.Driver)
		}
		if cfg.DB.SQLitePath != "/tmp/mirror.db" {
			t.Errorf("expected DB.SQLitePath '/tmp/mirror.db', got %s", cfg.DB.SQLitePath)
		}
		if cfg.Store.Backend != "memory" {
			t.Errorf("expected Store.Backend 'memory', got %s", cfg.Store.Backend)
		}
		if cfg.Store.Timeout != 5*time.Second {
			t.Errorf("expected Store.Timeout 5s, got %v", cfg.Store.Timeout)
		}
		if !cfg.Tree.Locking {
			t.Errorf("expected Tree.Locking true")
		}
		if cfg.Tree.ArchiveMaxDepth != 8 {
			t.Errorf("expected Tree.ArchiveMaxDepth 8, got %d", cfg.Tree.ArchiveMaxDepth)
		}
		if cfg.Gateway.PathURL != "http://gateway.local" {
			t.Errorf("expected Gateway.PathURL 'http://gateway.local', got %s", cfg.Gateway.PathURL)
		}
		if cfg.Owner.DefaultID.String() != "22222222-2222-2222-2222-222222222222" {
			t.Errorf("unexpected owner %s", cfg.Owner.DefaultID)
		}
	})

	t.Run("falls back on unparsable values", func(t *testing.T) {
		t.Setenv("STORE_TIMEOUT", "soon")
		t.Setenv("TREE_LOCKING", "maybe")
		t.Setenv("ARCHIVE_MAX_DEPTH", "deep")
		t.Setenv("DEFAULT_OWNER_ID", "not-a-uuid")

		cfg := Load()

		if cfg.Store.Timeout != 30*time.Second {
			t.Errorf("expected fallback Store.Timeout 30s, got %v", cfg.Store.Timeout)
		}
		if cfg.Tree.Locking {
			t.Errorf("expected fallback Tree.Locking false")
		}
		if cfg.Tree.ArchiveMaxDepth != 64 {
			t.Errorf("expected fallback ArchiveMaxDepth 64, got %d", cfg.Tree.ArchiveMaxDepth)
		}
		if cfg.Owner.DefaultID != uuid.MustParse("00000000-0000-0000-0000-000000000001") {
			t.Errorf("expected fallback owner, got %s", cfg.Owner.DefaultID)
		}
	})
}
