package blob

import (
	"context"
	"fmt"
)

// Config selects and configures a disk.
type Config struct {
	Disk      string // "local" or "minio"
	LocalRoot string
	MinIO     MinIOConfig
}

// Open returns the Storage named by cfg.Disk.
func Open(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Disk {
	case "", "local":
		root := cfg.LocalRoot
		if root == "" {
			root = "storage"
		}
		return NewLocal(root)
	case "minio", "s3":
		return NewMinIO(ctx, cfg.MinIO)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDisk, cfg.Disk)
	}
}
