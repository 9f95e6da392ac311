// Package metadata is a small key/value store in the client database. The
// session manager keeps the signed-in session here.
package metadata

import (
	"context"
)

// Keys used by the client.
const (
	KeySession  = "session"
	KeyLastSync = "last_sync"
)

type Repository interface {
	// Get returns (nil, nil) when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)
}
