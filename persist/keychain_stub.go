//go:build !darwin

package persist

import "fmt"

// KeychainStore is only available on darwin; other platforms use the
// filesystem or a remote backend.
type KeychainStore struct{}

func NewKeychainStore(service string) (*KeychainStore, error) {
	return nil, fmt.Errorf("keychain storage is not supported on this platform")
}

func (k *KeychainStore) Get(key string) ([]byte, error)       { return nil, ErrNotFound }
func (k *KeychainStore) Set(key string, blob []byte) error    { return fmt.Errorf("keychain unavailable") }
func (k *KeychainStore) Delete(key string) error              { return fmt.Errorf("keychain unavailable") }
func (k *KeychainStore) List(prefix string) ([]string, error) { return nil, nil }
func (k *KeychainStore) Ping() error                          { return fmt.Errorf("keychain unavailable") }
func (k *KeychainStore) Close() error                         { return nil }
func (k *KeychainStore) GetType() string                      { return string(StoreTypeKeychain) }
func (k *KeychainStore) MaxBlobSize() int                     { return 0 }
