package persist

import (
	"errors"
)

// ErrNotFound is returned by Get when no blob exists under the given key.
// Expired-and-purged records surface the same way.
var ErrNotFound = errors.New("record not found")

// Store is the backing store adapter contract. Implementations delegate to a
// platform secure keystore (Keychain), a local filesystem, or a remote backend.
//
// Keys handed to a Store are already normalized to the [A-Za-z0-9._-]+ charset
// (see NewNormalizer). Blobs are opaque to the store; encryption happens above
// this layer. A store advertising a non-zero MaxBlobSize rejects nothing
// itself - the engine enforces the ceiling so callers can degrade gracefully
// instead of crashing mid-write.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, blob []byte) error
	Delete(key string) error

	// List returns all stored keys beginning with prefix.
	List(prefix string) ([]string, error)

	// Ping tests connectivity without side effects.
	Ping() error
	Close() error

	GetType() string

	// MaxBlobSize is the per-entry payload ceiling in bytes, 0 for unbounded.
	MaxBlobSize() int
}

type StoreType string

const (
	StoreTypeMemory     StoreType = "memory"
	StoreTypeFileSystem StoreType = "filesystem"
	StoreTypeRedis      StoreType = "redis"
	StoreTypeKeychain   StoreType = "keychain"
	StoreTypeS3         StoreType = "s3"
)

// StoreConfig selects and parameterizes a Store implementation.
type StoreConfig struct {
	Type   StoreType              `json:"type"`
	Config map[string]interface{} `json:"config"`
}
