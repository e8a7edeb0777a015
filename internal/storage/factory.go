package storage

import (
	"context"
	"fmt"

	"github.com/docshare/linkdrive/internal/config"
)

// NewFromConfig builds the configured backend wrapped with the store
// timeouts.
func NewFromConfig(ctx context.Context, cfg config.StoreConfig, minioCfg config.MinIOConfig) (Store, error) {
	var backend Store
	switch cfg.Backend {
	case "memory":
		backend = NewMemory()
	case "ipfs":
		if cfg.IPFSAPIURL == "" {
			return nil, fmt.Errorf("ipfs store requires IPFS_API_URL to be set")
		}
		backend = NewIPFS(cfg.IPFSAPIURL, cfg.Root)
	case "minio":
		client, err := NewMinIOClient(minioCfg)
		if err != nil {
			return nil, fmt.Errorf("failed creating minio client: %w", err)
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		backend = client
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
	return WithTimeout(backend, cfg.Timeout, cfg.StreamTimeout), nil
}
