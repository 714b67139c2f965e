package persist

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	server := miniredis.RunT(t)

	store, err := NewRedisStore(RedisConfig{Addr: server.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStoreContract(t *testing.T) {
	storeContract(t, newTestRedisStore(t))
}

func TestRedisStorePrefixing(t *testing.T) {
	server := miniredis.RunT(t)
	store, err := NewRedisStore(RedisConfig{Addr: server.Addr(), KeyPrefix: "vaulted:"})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Set("sec_token_api", []byte("blob")))

	// The prefix is a server-side namespace, invisible to callers.
	require.True(t, server.Exists("vaulted:sec_token_api"))
	keys, err := store.List("sec_token_")
	require.NoError(t, err)
	require.Equal(t, []string{"sec_token_api"}, keys)
}

func TestRedisStoreNoServerTTL(t *testing.T) {
	server := miniredis.RunT(t)
	store, err := NewRedisStore(RedisConfig{Addr: server.Addr()})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Set("k", []byte("blob")))
	// Expiry is the engine's job; records must not age out underneath it.
	require.Zero(t, server.TTL("locker:k"))
}

func TestRedisStoreRequiresAddr(t *testing.T) {
	_, err := NewRedisStore(RedisConfig{})
	require.Error(t, err)
}

func TestRedisStoreUnreachable(t *testing.T) {
	_, err := NewRedisStore(RedisConfig{Addr: "127.0.0.1:1"})
	require.Error(t, err)
}
