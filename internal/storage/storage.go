package storage

import (
	"context"
	"errors"
	"time"
)

// Backend names a storage implementation. The choice is made once at
// construction; callers only ever see the Store interface.
type Backend string

const (
	BackendLocal  Backend = "local"
	BackendRemote Backend = "s3"
)

// ErrNotFound is returned when a locator does not resolve to stored bytes.
var ErrNotFound = errors.New("storage: object not found")

// Store is the uniform contract over blob backends. Locators are opaque to
// callers; objects are immutable once written.
type Store interface {
	// Put persists data under a key derived from suggestedKey and returns the
	// canonical locator.
	Put(ctx context.Context, suggestedKey string, data []byte) (string, error)
	// Get resolves a locator to its bytes.
	Get(ctx context.Context, locator string) ([]byte, error)
	// Delete removes the object. Deleting an absent locator is not an error.
	Delete(ctx context.Context, locator string) error
	// LinkFor issues a download URL valid for ttl. The local backend has no
	// native TTL, so it returns an internal path whose expiry the serving
	// layer enforces against the owning job.
	LinkFor(ctx context.Context, locator string, ttl time.Duration) (string, error)
}
