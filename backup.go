package locker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/awnumar/memguard"

	"southwinds.dev/locker/internal/crypto"
	"southwinds.dev/locker/internal/misc"
)

// ExportContainer is a portable, passphrase-sealed snapshot of the entire
// store, master key ring included. The payload is sealed with a key derived
// from the passphrase, independent of the master keys, so a container can be
// restored on a device that has never held them.
type ExportContainer struct {
	ExportID         string    `json:"exportId"`
	Timestamp        time.Time `json:"timestamp"`
	Version          int       `json:"version"`
	EncryptionMethod string    `json:"encryptionMethod"`
	Checksum         string    `json:"checksum"` // SHA-256 of EncryptedData
	EncryptedData    []byte    `json:"encryptedData"`
}

const (
	exportVersion = 1
	exportMethod  = "pbkdf2-sha256/chacha20-poly1305"
)

type exportPayload struct {
	Records map[string][]byte `json:"records"`
}

// Export snapshots every record into a passphrase-sealed container. In
// strict mode the export is biometric gated: it carries the master key ring
// and therefore everything needed to open the data elsewhere.
func (e *Engine) Export(ctx context.Context, passphrase string) (*ExportContainer, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	if passphrase == "" {
		return nil, fmt.Errorf("export passphrase cannot be empty")
	}

	gate := namespacePolicy{prefix: "export", requiresBiometric: true}
	if err := e.authorize(ctx, gate, "export secure storage"); err != nil {
		e.emit("EXPORT", false, map[string]interface{}{"error": reasonFor(err)})
		return nil, err
	}

	keys, err := e.store.List("")
	if err != nil {
		e.emit("EXPORT", false, map[string]interface{}{"error": reasonStoreError})
		return nil, fmt.Errorf("failed to list records for export: %w", err)
	}

	payload := exportPayload{Records: make(map[string][]byte, len(keys))}
	for _, key := range keys {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		blob, err := e.store.Get(key)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			e.emit("EXPORT", false, map[string]interface{}{"error": reasonStoreError})
			return nil, fmt.Errorf("failed to read %s for export: %w", key, err)
		}
		payload.Records[key] = blob
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize export payload: %w", err)
	}
	sealed, err := crypto.EncryptWithPassphrase(plaintext, passphrase)
	memguard.WipeBytes(plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to seal export: %w", err)
	}

	container := &ExportContainer{
		ExportID:         e.newRequestID(),
		Timestamp:        time.Now().UTC(),
		Version:          exportVersion,
		EncryptionMethod: exportMethod,
		Checksum:         crypto.CalculateChecksum(sealed),
		EncryptedData:    sealed,
	}
	e.emit("EXPORT", true, map[string]interface{}{
		"export_id": container.ExportID,
		"records":   len(payload.Records),
	})
	return container, nil
}

// Restore writes a container's records back into the store, overwriting any
// entries with the same keys, and reloads the master key ring from the
// restored data. A wrong passphrase or tampered container fails before
// anything is written.
func (e *Engine) Restore(ctx context.Context, container *ExportContainer, passphrase string) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if container == nil {
		return fmt.Errorf("nil export container")
	}
	if container.Version != exportVersion {
		return fmt.Errorf("unsupported export version %d", container.Version)
	}
	if crypto.CalculateChecksum(container.EncryptedData) != container.Checksum {
		e.emit("RESTORE", false, map[string]interface{}{"error": "CHECKSUM_MISMATCH"})
		return fmt.Errorf("export container checksum mismatch")
	}

	plaintext, err := crypto.DecryptWithPassphrase(container.EncryptedData, passphrase)
	if err != nil {
		e.emit("RESTORE", false, map[string]interface{}{"error": reasonDecryptionFailed})
		return fmt.Errorf("failed to open export container: %w", err)
	}
	var payload exportPayload
	err = json.Unmarshal(plaintext, &payload)
	memguard.WipeBytes(plaintext)
	if err != nil {
		return fmt.Errorf("export payload corrupt: %w", err)
	}
	if _, ok := payload.Records[misc.MasterKeyStorageKey]; !ok {
		return fmt.Errorf("export payload is missing the master key ring")
	}

	for key, blob := range payload.Records {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = e.store.Set(key, blob); err != nil {
			e.emit("RESTORE", false, map[string]interface{}{"error": reasonStoreError})
			return fmt.Errorf("failed to restore %s: %w", key, err)
		}
	}

	// The restored ring replaces whatever keys this engine held.
	e.mu.Lock()
	e.keyEnclaves = make(map[string]*memguard.Enclave)
	e.keyInfo = make(map[string]KeyInfo)
	e.currentKeyID = ""
	e.mu.Unlock()
	if err = e.ensureKey(); err != nil {
		return fmt.Errorf("%w: %v", ErrSecurityInit, err)
	}

	e.emit("RESTORE", true, map[string]interface{}{
		"export_id": container.ExportID,
		"records":   len(payload.Records),
	})
	return nil
}
