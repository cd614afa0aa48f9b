package storage

import (
	"context"
	"fmt"
)

// Select constructs the configured backend. All binaries that touch blobs go
// through this so a deployment cannot mix backends by accident.
func Select(ctx context.Context, backend Backend, basePath string, s3 S3Options) (Store, error) {
	switch backend {
	case BackendLocal:
		return NewFileStore(basePath)
	case BackendRemote:
		return NewS3Store(ctx, s3)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", backend)
	}
}
