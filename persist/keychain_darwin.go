//go:build darwin

package persist

import (
	"fmt"
	"strings"

	keychain "github.com/keybase/go-keychain"
)

const keychainLabel = "locker secure record"

// KeychainStore delegates persistence to the OS keychain. Items are device
// local (never synchronized) and readable only while the device is unlocked,
// which layers the platform's encryption-at-rest underneath the engine's own
// AEAD. One keychain "account" per storage key, all under a single service.
type KeychainStore struct {
	service string
}

func NewKeychainStore(service string) (*KeychainStore, error) {
	if service == "" {
		return nil, fmt.Errorf("keychain storage requires a service name")
	}
	return &KeychainStore{service: service}, nil
}

func (k *KeychainStore) Get(key string) ([]byte, error) {
	data, err := keychain.GetGenericPassword(k.service, key, "", "")
	if err != nil {
		return nil, fmt.Errorf("keychain read failed: %w", err)
	}
	if data == nil {
		return nil, ErrNotFound
	}
	return data, nil
}

func (k *KeychainStore) Set(key string, blob []byte) error {
	item := keychain.NewGenericPassword(k.service, key, keychainLabel, blob, "")
	item.SetSynchronizable(keychain.SynchronizableNo)
	item.SetAccessible(keychain.AccessibleWhenUnlockedThisDeviceOnly)

	err := keychain.AddItem(item)
	if err == keychain.ErrorDuplicateItem {
		query := keychain.NewGenericPassword(k.service, key, "", nil, "")
		update := keychain.NewItem()
		update.SetData(blob)
		if err = keychain.UpdateItem(query, update); err != nil {
			return fmt.Errorf("keychain update failed: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("keychain write failed: %w", err)
	}
	return nil
}

func (k *KeychainStore) Delete(key string) error {
	query := keychain.NewGenericPassword(k.service, key, "", nil, "")
	if err := keychain.DeleteItem(query); err != nil && err != keychain.ErrorItemNotFound {
		return fmt.Errorf("keychain delete failed: %w", err)
	}
	return nil
}

func (k *KeychainStore) List(prefix string) ([]string, error) {
	query := keychain.NewItem()
	query.SetSecClass(keychain.SecClassGenericPassword)
	query.SetService(k.service)
	query.SetMatchLimit(keychain.MatchLimitAll)
	query.SetReturnAttributes(true)

	results, err := keychain.QueryItem(query)
	if err != nil {
		if err == keychain.ErrorItemNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("keychain query failed: %w", err)
	}

	var keys []string
	for _, result := range results {
		if strings.HasPrefix(result.Account, prefix) {
			keys = append(keys, result.Account)
		}
	}
	return keys, nil
}

func (k *KeychainStore) Ping() error {
	// A not-found probe still exercises the keychain API end to end.
	_, err := keychain.GetGenericPassword(k.service, "locker.ping", "", "")
	if err != nil {
		return fmt.Errorf("keychain unavailable: %w", err)
	}
	return nil
}

func (k *KeychainStore) Close() error { return nil }

func (k *KeychainStore) GetType() string { return string(StoreTypeKeychain) }

// MaxBlobSize reflects the conservative per-item payload ceiling enforced by
// mobile keystores.
func (k *KeychainStore) MaxBlobSize() int { return 2048 }
