package locker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"southwinds.dev/locker/internal/misc"
	"southwinds.dev/locker/persist"
)

// StoredRecord is the JSON envelope persisted for every entry. Value holds
// the sealed ciphertext; Timestamp and Expiry are epoch milliseconds, with
// Expiry zero meaning the record never expires.
type StoredRecord struct {
	Value              string `json:"value"`
	Timestamp          int64  `json:"timestamp"`
	Expiry             int64  `json:"expiry"`
	BiometricProtected bool   `json:"biometricProtected"`
}

func encodeRecord(record StoredRecord) ([]byte, error) {
	blob, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize record: %w", err)
	}
	return blob, nil
}

func decodeRecord(blob []byte) (StoredRecord, error) {
	var record StoredRecord
	if err := json.Unmarshal(blob, &record); err != nil {
		return StoredRecord{}, fmt.Errorf("failed to parse record: %w", err)
	}
	return record, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, persist.ErrNotFound) || misc.IsNotFoundError(err)
}

// effectiveLimit is the size ceiling for a plaintext value: the backend's own
// blob limit when it has one, otherwise the configured MaxValueSize.
func (e *Engine) effectiveLimit() int {
	if limit := e.store.MaxBlobSize(); limit > 0 {
		return limit
	}
	return e.cfg.MaxValueSize
}

// writeRecord seals a value and persists it under the normalized key.
// ttl zero means the record never expires.
func (e *Engine) writeRecord(key, value string, ttl time.Duration, biometric bool) error {
	sealed, err := e.encryptValue(value)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	record := StoredRecord{
		Value:              sealed,
		Timestamp:          misc.EpochMillis(now),
		BiometricProtected: biometric,
	}
	if ttl > 0 {
		record.Expiry = misc.EpochMillis(now.Add(ttl))
	}

	blob, err := encodeRecord(record)
	if err != nil {
		return err
	}
	if err = e.store.Set(e.normalizer.Normalize(key), blob); err != nil {
		return fmt.Errorf("failed to persist record: %w", err)
	}
	return nil
}

// readRecord fetches and opens a record. A record past its expiry is removed
// on the way out; an unreadable record reports the same way as a missing one,
// callers cannot distinguish corruption from absence.
func (e *Engine) readRecord(key string) (string, bool, error) {
	storageKey := e.normalizer.Normalize(key)
	blob, err := e.store.Get(storageKey)
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read record: %w", err)
	}

	record, err := decodeRecord(blob)
	if err != nil {
		return "", false, err
	}

	if record.Expiry > 0 && time.Now().UTC().After(misc.FromEpochMillis(record.Expiry)) {
		// Lazy expiry: purge on first read past the deadline.
		_ = e.store.Delete(storageKey)
		e.recordAudit(OpDelete, key, true, false, "")
		e.emit("RECORD_EXPIRED", true, map[string]interface{}{"data_type": key})
		return "", false, nil
	}

	value, err := e.decryptValue(record.Value)
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (e *Engine) deleteRecord(key string) error {
	err := e.store.Delete(e.normalizer.Normalize(key))
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// clearNamespace removes every record under a prefix. Individual delete
// failures are collected so one bad entry does not strand the rest.
func (e *Engine) clearNamespace(prefix string) error {
	keys, err := e.store.List(prefix)
	if err != nil {
		return fmt.Errorf("failed to list %s records: %w", prefix, err)
	}
	var failed []string
	for _, key := range keys {
		if err = e.store.Delete(key); err != nil && !isNotFound(err) {
			failed = append(failed, key)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to delete %d record(s): %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}

// SweepExpired walks every record and removes the ones past their expiry.
// Expiry is normally enforced lazily on read; the sweep exists for
// deployments that want storage reclaimed without waiting for reads.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	if e.closed.Load() {
		return 0, ErrEngineClosed
	}

	keys, err := e.store.List("")
	if err != nil {
		return 0, fmt.Errorf("failed to list records: %w", err)
	}

	now := time.Now().UTC()
	removed := 0
	for _, key := range keys {
		if err = ctx.Err(); err != nil {
			return removed, err
		}
		if key == misc.MasterKeyStorageKey {
			continue
		}
		blob, err := e.store.Get(key)
		if err != nil {
			continue
		}
		record, err := decodeRecord(blob)
		if err != nil {
			continue
		}
		if record.Expiry > 0 && now.After(misc.FromEpochMillis(record.Expiry)) {
			if err = e.store.Delete(key); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		e.emit("EXPIRED_SWEEP", true, map[string]interface{}{"removed": removed})
	}
	return removed, nil
}
