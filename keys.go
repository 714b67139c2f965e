package locker

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	"southwinds.dev/locker/internal/crypto"
	"southwinds.dev/locker/internal/debug"
	"southwinds.dev/locker/internal/misc"
)

// KeyInfo is non-secret metadata about one master key generation.
type KeyInfo struct {
	KeyID       string     `json:"keyId"`
	Fingerprint string     `json:"fingerprint"` // SHA-256 of the key material
	CreatedAt   time.Time  `json:"createdAt"`
	RetiredAt   *time.Time `json:"retiredAt,omitempty"`
	Active      bool       `json:"active"`
}

// keyRingRecord is the persisted master key ring: the active key plus the
// retired keys still needed to decrypt records written before rotations.
// It is stored under the reserved master_encryption_key entry, sealed only by
// the backing store's own encryption at rest - it cannot be sealed by the
// engine's AEAD because it IS the key material.
type keyRingRecord struct {
	Version      int               `json:"version"`
	CurrentKeyID string            `json:"currentKeyId"`
	LastRotation time.Time         `json:"lastRotation"`
	Keys         []persistedMaster `json:"keys"`
}

type persistedMaster struct {
	KeyInfo
	Key []byte `json:"key"`
}

// ensureKey loads the master key ring from the backing store, creating it on
// first run. Called once from New, never gated by biometrics.
func (e *Engine) ensureKey() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	blob, err := e.store.Get(misc.MasterKeyStorageKey)
	if err != nil {
		if isNotFound(err) {
			debug.Print("no master key ring found, creating\n")
			return e.createInitialKeyLocked()
		}
		return fmt.Errorf("failed to load master key: %w", err)
	}

	record, err := decodeRecord(blob)
	if err != nil {
		return fmt.Errorf("master key record corrupt: %w", err)
	}
	ringJSON, err := base64.StdEncoding.DecodeString(record.Value)
	if err != nil {
		return fmt.Errorf("master key record corrupt: %w", err)
	}
	var ring keyRingRecord
	if err = json.Unmarshal(ringJSON, &ring); err != nil {
		return fmt.Errorf("master key record corrupt: %w", err)
	}
	if ring.CurrentKeyID == "" || len(ring.Keys) == 0 {
		return fmt.Errorf("master key ring is empty")
	}

	for _, pk := range ring.Keys {
		if len(pk.Key) != crypto.MasterKeySize {
			return fmt.Errorf("master key %s has invalid length", pk.KeyID)
		}
		keyCopy := make([]byte, len(pk.Key))
		copy(keyCopy, pk.Key)
		e.keyEnclaves[pk.KeyID] = memguard.NewEnclave(keyCopy)
		e.keyInfo[pk.KeyID] = pk.KeyInfo
		memguard.WipeBytes(pk.Key)
	}
	if _, ok := e.keyEnclaves[ring.CurrentKeyID]; !ok {
		return fmt.Errorf("active key %s missing from ring", ring.CurrentKeyID)
	}
	e.currentKeyID = ring.CurrentKeyID
	e.lastRotation = ring.LastRotation
	return nil
}

// createInitialKeyLocked draws fresh key material and persists a one-entry
// ring. Caller holds the write lock.
func (e *Engine) createInitialKeyLocked() error {
	keyBytes, err := crypto.RandomBytes(crypto.MasterKeySize)
	if err != nil {
		return fmt.Errorf("failed to generate master key: %w", err)
	}
	if crypto.IsWeakKey(keyBytes) {
		memguard.WipeBytes(keyBytes)
		return fmt.Errorf("generated key failed entropy check")
	}

	now := time.Now().UTC()
	keyID := uuid.NewString()
	info := KeyInfo{
		KeyID:       keyID,
		Fingerprint: crypto.Fingerprint(keyBytes),
		CreatedAt:   now,
		Active:      true,
	}

	e.currentKeyID = keyID
	e.keyInfo[keyID] = info
	e.lastRotation = now

	// NewEnclave takes ownership of the buffer and wipes it.
	e.keyEnclaves[keyID] = memguard.NewEnclave(keyBytes)

	if err = e.persistKeyRingLocked(); err != nil {
		delete(e.keyEnclaves, keyID)
		delete(e.keyInfo, keyID)
		e.currentKeyID = ""
		return fmt.Errorf("failed to persist master key: %w", err)
	}
	return nil
}

// Rotate generates a fresh master key and atomically replaces the active key
// pointer. Records encrypted under earlier keys remain readable: each
// ciphertext names its key, and up to RetiredKeyLimit retired keys stay in
// the ring. Existing records are NOT re-encrypted - rotation changes the key
// for future writes only.
//
// Rotation runs on a timer (RotationInterval, default KeyTTL) and may also be
// invoked manually, e.g. after a suspected compromise.
func (e *Engine) Rotate(reason string) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	keyBytes, err := crypto.RandomBytes(crypto.MasterKeySize)
	if err != nil {
		e.recordAudit(OpRotate, misc.MasterKeyStorageKey, false, false, reasonSecurityInit)
		return fmt.Errorf("failed to generate new master key: %w", err)
	}
	if crypto.IsWeakKey(keyBytes) {
		memguard.WipeBytes(keyBytes)
		e.recordAudit(OpRotate, misc.MasterKeyStorageKey, false, false, reasonSecurityInit)
		return fmt.Errorf("generated key failed entropy check")
	}

	now := time.Now().UTC()
	newKeyID := uuid.NewString()
	fingerprint := crypto.Fingerprint(keyBytes)

	e.mu.Lock()
	defer e.mu.Unlock()

	previousKeyID := e.currentKeyID

	if old, ok := e.keyInfo[previousKeyID]; ok {
		retiredAt := now
		old.Active = false
		old.RetiredAt = &retiredAt
		e.keyInfo[previousKeyID] = old
	}

	e.keyEnclaves[newKeyID] = memguard.NewEnclave(keyBytes)
	e.keyInfo[newKeyID] = KeyInfo{
		KeyID:       newKeyID,
		Fingerprint: fingerprint,
		CreatedAt:   now,
		Active:      true,
	}
	e.currentKeyID = newKeyID
	e.lastRotation = now
	pruned := e.pruneRetiredLocked()

	if err = e.persistKeyRingLocked(); err != nil {
		// Roll back to the previous generation; the new key never reached
		// storage so nothing can have been encrypted under it yet. Pruned
		// retired keys come back too - their records must stay readable.
		delete(e.keyEnclaves, newKeyID)
		delete(e.keyInfo, newKeyID)
		e.currentKeyID = previousKeyID
		if old, ok := e.keyInfo[previousKeyID]; ok {
			old.Active = true
			old.RetiredAt = nil
			e.keyInfo[previousKeyID] = old
		}
		for _, p := range pruned {
			e.keyEnclaves[p.info.KeyID] = p.enclave
			e.keyInfo[p.info.KeyID] = p.info
		}
		e.recordAudit(OpRotate, misc.MasterKeyStorageKey, false, false, reasonStoreError)
		return fmt.Errorf("failed to persist rotated key ring: %w", err)
	}

	e.recordAudit(OpRotate, misc.MasterKeyStorageKey, true, false, "")
	e.emit("KEY_ROTATED", true, map[string]interface{}{
		"previous_key_id": previousKeyID,
		"new_key_id":      newKeyID,
		"reason":          reason,
	})
	return nil
}

type prunedKey struct {
	info    KeyInfo
	enclave *memguard.Enclave
}

// pruneRetiredLocked drops the oldest retired keys beyond RetiredKeyLimit and
// returns what it removed so a failed persist can put them back. Records
// sealed by a pruned key become permanently unreadable; the limit exists so a
// compromised ring bounds how much history it exposes.
func (e *Engine) pruneRetiredLocked() []prunedKey {
	var retired []KeyInfo
	for _, info := range e.keyInfo {
		if !info.Active {
			retired = append(retired, info)
		}
	}
	if len(retired) <= e.cfg.RetiredKeyLimit {
		return nil
	}

	sort.Slice(retired, func(i, j int) bool {
		return retired[i].CreatedAt.Before(retired[j].CreatedAt)
	})
	var pruned []prunedKey
	for _, info := range retired[:len(retired)-e.cfg.RetiredKeyLimit] {
		pruned = append(pruned, prunedKey{info: info, enclave: e.keyEnclaves[info.KeyID]})
		delete(e.keyEnclaves, info.KeyID)
		delete(e.keyInfo, info.KeyID)
	}
	return pruned
}

// persistKeyRingLocked serializes every held key into the reserved record.
// Caller holds the write lock.
func (e *Engine) persistKeyRingLocked() error {
	ring := keyRingRecord{
		Version:      1,
		CurrentKeyID: e.currentKeyID,
		LastRotation: e.lastRotation,
	}
	defer func() {
		for i := range ring.Keys {
			memguard.WipeBytes(ring.Keys[i].Key)
		}
	}()

	for keyID, enclave := range e.keyEnclaves {
		buffer, err := enclave.Open()
		if err != nil {
			return fmt.Errorf("failed to access key %s: %w", keyID, err)
		}
		keyCopy := make([]byte, len(buffer.Bytes()))
		copy(keyCopy, buffer.Bytes())
		buffer.Destroy()

		ring.Keys = append(ring.Keys, persistedMaster{
			KeyInfo: e.keyInfo[keyID],
			Key:     keyCopy,
		})
	}
	sort.Slice(ring.Keys, func(i, j int) bool {
		return ring.Keys[i].CreatedAt.Before(ring.Keys[j].CreatedAt)
	})

	ringJSON, err := json.Marshal(ring)
	if err != nil {
		return fmt.Errorf("failed to serialize key ring: %w", err)
	}

	blob, err := encodeRecord(StoredRecord{
		Value:              base64.StdEncoding.EncodeToString(ringJSON),
		Timestamp:          misc.EpochMillis(time.Now().UTC()),
		Expiry:             0,
		BiometricProtected: false,
	})
	// Best effort: the serialized ring with raw key bytes must not linger.
	defer memguard.WipeBytes(ringJSON)
	if err != nil {
		return err
	}
	return e.store.Set(misc.MasterKeyStorageKey, blob)
}

// keyByID resolves an enclave for decryption, covering retired generations.
func (e *Engine) keyByID(keyID string) (*memguard.Enclave, bool) {
	enclave, ok := e.keyEnclaves[keyID]
	return enclave, ok
}

// ActiveKeyFingerprint returns the SHA-256 fingerprint of the active master
// key, for health reporting. Never the key itself.
func (e *Engine) ActiveKeyFingerprint() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.keyInfo[e.currentKeyID].Fingerprint
}

// LastRotation reports when the active key was installed.
func (e *Engine) LastRotation() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastRotation
}

// Keys lists non-secret metadata for every key generation still held.
func (e *Engine) Keys() []KeyInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	keys := make([]KeyInfo, 0, len(e.keyInfo))
	for _, info := range e.keyInfo {
		keys = append(keys, info)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.Before(keys[j].CreatedAt)
	})
	return keys
}
