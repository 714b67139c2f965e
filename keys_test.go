package locker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"southwinds.dev/locker/persist"
)

func TestMasterKeyLifecycle(t *testing.T) {
	tests := []struct {
		name string
		test func(t *testing.T)
	}{
		{"BootstrapPersists", testBootstrapPersists},
		{"ReopenLoadsSameKey", testReopenLoadsSameKey},
		{"RotationChangesActiveKey", testRotationChangesActiveKey},
		{"DecryptionSurvivesRotation", testDecryptionSurvivesRotation},
		{"RotatedRingSurvivesReopen", testRotatedRingSurvivesReopen},
		{"RetiredKeysPruned", testRetiredKeysPruned},
		{"FailedRotationKeepsRetiredKeys", testFailedRotationKeepsRetiredKeys},
		{"CorruptKeyRecordFailsInit", testCorruptKeyRecordFailsInit},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.test)
	}
}

func testBootstrapPersists(t *testing.T) {
	store := persist.NewMemoryStore(0)
	engine, err := New(DefaultConfig(), store, nil, nil)
	require.NoError(t, err)
	defer engine.Close()

	blob, err := store.Get("master_encryption_key")
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	record, err := decodeRecord(blob)
	require.NoError(t, err)
	require.Zero(t, record.Expiry)
	require.False(t, record.BiometricProtected)
}

func testReopenLoadsSameKey(t *testing.T) {
	store := persist.NewMemoryStore(0)
	cfg := DefaultConfig()
	cfg.RotationInterval = -time.Second

	first, err := New(cfg, store, nil, nil)
	require.NoError(t, err)
	fingerprint := first.ActiveKeyFingerprint()
	require.NoError(t, first.StoreSession(context.Background(), "s", "state"))
	require.NoError(t, first.Close())

	second, err := New(cfg, store, nil, nil)
	require.NoError(t, err)
	defer second.Close()

	require.Equal(t, fingerprint, second.ActiveKeyFingerprint())
	value, ok := second.GetSession(context.Background(), "s")
	require.True(t, ok)
	require.Equal(t, "state", value)
}

func testRotationChangesActiveKey(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig())

	before := engine.ActiveKeyFingerprint()
	beforeRotation := engine.LastRotation()

	require.NoError(t, engine.Rotate("test"))

	require.NotEqual(t, before, engine.ActiveKeyFingerprint())
	require.True(t, engine.LastRotation().After(beforeRotation) || engine.LastRotation().Equal(beforeRotation))

	keys := engine.Keys()
	require.Len(t, keys, 2)
	require.False(t, keys[0].Active)
	require.NotNil(t, keys[0].RetiredAt)
	require.True(t, keys[1].Active)
}

func testDecryptionSurvivesRotation(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, engine.StoreSession(ctx, "pre", "written before rotation"))
	require.NoError(t, engine.Rotate("test"))

	// The old record decrypts through the retired key named in its
	// ciphertext; new writes seal under the new key.
	value, ok := engine.GetSession(ctx, "pre")
	require.True(t, ok)
	require.Equal(t, "written before rotation", value)

	require.NoError(t, engine.StoreSession(ctx, "post", "written after rotation"))
	value, ok = engine.GetSession(ctx, "post")
	require.True(t, ok)
	require.Equal(t, "written after rotation", value)
}

func testRotatedRingSurvivesReopen(t *testing.T) {
	store := persist.NewMemoryStore(0)
	cfg := DefaultConfig()
	cfg.RotationInterval = -time.Second
	ctx := context.Background()

	first, err := New(cfg, store, nil, nil)
	require.NoError(t, err)
	require.NoError(t, first.StoreSession(ctx, "s", "old-key data"))
	require.NoError(t, first.Rotate("test"))
	require.NoError(t, first.Close())

	second, err := New(cfg, store, nil, nil)
	require.NoError(t, err)
	defer second.Close()

	require.Len(t, second.Keys(), 2)
	value, ok := second.GetSession(ctx, "s")
	require.True(t, ok)
	require.Equal(t, "old-key data", value)
}

func testRetiredKeysPruned(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetiredKeyLimit = 2
	engine := newTestEngine(t, cfg)

	for i := 0; i < 5; i++ {
		require.NoError(t, engine.Rotate("test"))
	}

	keys := engine.Keys()
	// Two retired generations plus the active one.
	require.Len(t, keys, 3)
	require.True(t, keys[len(keys)-1].Active)
}

func testFailedRotationKeepsRetiredKeys(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetiredKeyLimit = 1
	cfg.RotationInterval = -time.Second
	store := &failingStore{Store: persist.NewMemoryStore(0)}
	engine, err := New(cfg, store, nil, nil)
	require.NoError(t, err)
	defer engine.Close()
	ctx := context.Background()

	require.NoError(t, engine.StoreSession(ctx, "s", "first-generation data"))
	require.NoError(t, engine.Rotate("test"))
	active := engine.ActiveKeyFingerprint()

	// This rotation would push the oldest retired key over the limit. When
	// persisting the ring fails, the whole generation swap rolls back,
	// pruned keys included, so their records stay readable.
	store.failSet = true
	require.Error(t, engine.Rotate("test"))
	store.failSet = false

	require.Equal(t, active, engine.ActiveKeyFingerprint())
	require.Len(t, engine.Keys(), 2)

	value, ok := engine.GetSession(ctx, "s")
	require.True(t, ok)
	require.Equal(t, "first-generation data", value)
}

func testCorruptKeyRecordFailsInit(t *testing.T) {
	store := persist.NewMemoryStore(0)
	require.NoError(t, store.Set("master_encryption_key", []byte("not json")))

	_, err := New(DefaultConfig(), store, nil, nil)
	require.ErrorIs(t, err, ErrSecurityInit)
}
