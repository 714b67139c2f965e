package locker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"southwinds.dev/locker/persist"
)

func TestExportRestore(t *testing.T) {
	tests := []struct {
		name string
		test func(t *testing.T)
	}{
		{"RoundTripToFreshDevice", testExportRoundTrip},
		{"WrongPassphraseRejected", testExportWrongPassphrase},
		{"TamperedContainerRejected", testExportTampered},
		{"EmptyPassphraseRejected", testExportEmptyPassphrase},
		{"BiometricGateOnExport", testExportBiometricGate},
		{"RestoreAfterRotation", testRestoreAfterRotation},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.test)
	}
}

func testExportRoundTrip(t *testing.T) {
	source := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, source.StoreAuthToken(ctx, "api", "tok"))
	require.NoError(t, source.StoreSession(ctx, "sess", "state"))

	container, err := source.Export(ctx, "transfer-passphrase")
	require.NoError(t, err)
	require.NotEmpty(t, container.ExportID)
	require.NotEmpty(t, container.Checksum)
	require.NotContains(t, string(container.EncryptedData), "tok")

	// A fresh engine on an empty store bootstraps its own master key, then
	// restore replaces it with the exported ring.
	target := newTestEngine(t, DefaultConfig())
	require.NoError(t, target.Restore(ctx, container, "transfer-passphrase"))

	require.Equal(t, source.ActiveKeyFingerprint(), target.ActiveKeyFingerprint())

	value, ok := target.GetAuthToken(ctx, "api")
	require.True(t, ok)
	require.Equal(t, "tok", value)
	value, ok = target.GetSession(ctx, "sess")
	require.True(t, ok)
	require.Equal(t, "state", value)
}

func testExportWrongPassphrase(t *testing.T) {
	source := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	container, err := source.Export(ctx, "right")
	require.NoError(t, err)

	target := newTestEngine(t, DefaultConfig())
	err = target.Restore(ctx, container, "wrong")
	require.Error(t, err)

	// Nothing was written: the target keeps its own key.
	require.NotEqual(t, source.ActiveKeyFingerprint(), target.ActiveKeyFingerprint())
}

func testExportTampered(t *testing.T) {
	source := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	container, err := source.Export(ctx, "pass")
	require.NoError(t, err)
	container.EncryptedData[0] ^= 0xff

	target := newTestEngine(t, DefaultConfig())
	err = target.Restore(ctx, container, "pass")
	require.Error(t, err)
	require.Contains(t, err.Error(), "checksum")
}

func testExportEmptyPassphrase(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig())

	_, err := engine.Export(context.Background(), "")
	require.Error(t, err)
}

func testExportBiometricGate(t *testing.T) {
	auth := &fakeAuthenticator{available: true, allow: false}
	engine := newBiometricEngine(t, DefaultConfig(), auth)

	_, err := engine.Export(context.Background(), "pass")
	require.ErrorIs(t, err, ErrBiometricAuthFailed)
}

func testRestoreAfterRotation(t *testing.T) {
	store := persist.NewMemoryStore(0)
	cfg := DefaultConfig()
	cfg.RotationInterval = -time.Second
	ctx := context.Background()

	source, err := New(cfg, store, nil, nil)
	require.NoError(t, err)
	defer source.Close()

	require.NoError(t, source.StoreSession(ctx, "old", "pre-rotation"))
	require.NoError(t, source.Rotate("test"))
	require.NoError(t, source.StoreSession(ctx, "new", "post-rotation"))

	container, err := source.Export(ctx, "pass")
	require.NoError(t, err)

	target := newTestEngine(t, DefaultConfig())
	require.NoError(t, target.Restore(ctx, container, "pass"))

	// Both key generations travel in the container.
	require.Len(t, target.Keys(), 2)
	value, ok := target.GetSession(ctx, "old")
	require.True(t, ok)
	require.Equal(t, "pre-rotation", value)
	value, ok = target.GetSession(ctx, "new")
	require.True(t, ok)
	require.Equal(t, "post-rotation", value)
}
