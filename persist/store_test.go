package persist

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// storeContract exercises the behavior every backend must share.
func storeContract(t *testing.T, store Store) {
	t.Helper()

	// Missing keys report ErrNotFound.
	_, err := store.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)

	// Round trip.
	require.NoError(t, store.Set("sec_token_api", []byte("blob-1")))
	blob, err := store.Get("sec_token_api")
	require.NoError(t, err)
	require.Equal(t, []byte("blob-1"), blob)

	// Overwrite.
	require.NoError(t, store.Set("sec_token_api", []byte("blob-2")))
	blob, err = store.Get("sec_token_api")
	require.NoError(t, err)
	require.Equal(t, []byte("blob-2"), blob)

	// Prefix listing.
	require.NoError(t, store.Set("sec_token_other", []byte("x")))
	require.NoError(t, store.Set("sec_user_profile", []byte("y")))

	keys, err := store.List("sec_token_")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	require.ElementsMatch(t, []string{"sec_token_api", "sec_token_other"}, keys)

	all, err := store.List("")
	require.NoError(t, err)
	require.Len(t, all, 3)

	// Delete, then the key is gone.
	require.NoError(t, store.Delete("sec_token_api"))
	_, err = store.Get("sec_token_api")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Ping())
}

func TestMemoryStoreContract(t *testing.T) {
	store := NewMemoryStore(0)
	defer store.Close()
	storeContract(t, store)
}

func TestMemoryStoreIsolatesBuffers(t *testing.T) {
	store := NewMemoryStore(0)
	defer store.Close()

	original := []byte("mutable")
	require.NoError(t, store.Set("k", original))
	original[0] = 'X'

	blob, err := store.Get("k")
	require.NoError(t, err)
	require.Equal(t, []byte("mutable"), blob)

	// Mutating the returned copy does not touch the stored bytes either.
	blob[0] = 'Y'
	again, err := store.Get("k")
	require.NoError(t, err)
	require.Equal(t, []byte("mutable"), again)
}

func TestMemoryStoreMaxBlobSize(t *testing.T) {
	require.Zero(t, NewMemoryStore(0).MaxBlobSize())
	require.Equal(t, 2048, NewMemoryStore(2048).MaxBlobSize())
}

func TestStoreFactory(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		store, err := NewStore(StoreConfig{Type: StoreTypeMemory})
		require.NoError(t, err)
		require.Equal(t, "memory", store.GetType())
	})

	t.Run("FileSystem", func(t *testing.T) {
		store, err := NewStore(StoreConfig{
			Type:   StoreTypeFileSystem,
			Config: map[string]interface{}{"base_path": t.TempDir()},
		})
		require.NoError(t, err)
		require.Equal(t, "filesystem", store.GetType())
	})

	t.Run("FileSystemMissingPath", func(t *testing.T) {
		_, err := NewStore(StoreConfig{Type: StoreTypeFileSystem})
		require.Error(t, err)
	})

	t.Run("UnknownType", func(t *testing.T) {
		_, err := NewStore(StoreConfig{Type: StoreType("postgres")})
		require.Error(t, err)
	})
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"already_fine-1.2", "already_fine-1.2"},
		{"@prefixed", "prefixed"},
		{"has spaces here", "has_spaces_here"},
		{"slash/back\\slash", "slash_back_slash"},
		{"", "_"},
		{"@", "_"},
		{"emoji⚠key", "emoji_key"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.in), func(t *testing.T) {
			got := NormalizeKey(tt.in)
			require.Equal(t, tt.want, got)
			// Idempotent.
			require.Equal(t, got, NormalizeKey(got))
		})
	}
}

func TestNormalizerWarnsOnce(t *testing.T) {
	n := NewNormalizer()

	first := n.Normalize("bad key")
	second := n.Normalize("bad key")
	require.Equal(t, "bad_key", first)
	require.Equal(t, first, second)

	// Clean keys pass through untouched.
	require.Equal(t, "sec_token_api", n.Normalize("sec_token_api"))
}
