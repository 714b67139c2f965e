package persist

import (
	"fmt"
)

// NewStore builds a Store from configuration. Unknown types are an error
// rather than a silent fallback so a misconfigured deployment fails loudly at
// startup instead of writing secrets to the wrong place.
func NewStore(config StoreConfig) (Store, error) {
	switch config.Type {
	case StoreTypeMemory:
		maxBlobSize := 0
		if v, ok := config.Config["max_blob_size"].(float64); ok {
			maxBlobSize = int(v)
		} else if v, ok := config.Config["max_blob_size"].(int); ok {
			maxBlobSize = v
		}
		return NewMemoryStore(maxBlobSize), nil
	case StoreTypeFileSystem:
		basePath, ok := config.Config["base_path"].(string)
		if !ok {
			return nil, fmt.Errorf("filesystem storage requires 'base_path' in config")
		}
		return NewFileSystemStore(basePath)
	case StoreTypeRedis:
		cfg := RedisConfig{}
		if v, ok := config.Config["addr"].(string); ok {
			cfg.Addr = v
		}
		if v, ok := config.Config["password"].(string); ok {
			cfg.Password = v
		}
		if v, ok := config.Config["db"].(float64); ok {
			cfg.DB = int(v)
		} else if v, ok := config.Config["db"].(int); ok {
			cfg.DB = v
		}
		if v, ok := config.Config["key_prefix"].(string); ok {
			cfg.KeyPrefix = v
		}
		return NewRedisStore(cfg)
	case StoreTypeKeychain:
		service, ok := config.Config["service"].(string)
		if !ok {
			return nil, fmt.Errorf("keychain storage requires 'service' in config")
		}
		return NewKeychainStore(service)
	case StoreTypeS3:
		return NewS3StoreFromConfig(config)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}
