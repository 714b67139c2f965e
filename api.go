package locker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"southwinds.dev/locker/internal/misc"
)

// The typed API below is the only supported way to touch stored data. Each
// data class lives in its own namespace with its own TTL and biometric
// policy; callers never build storage keys by hand.
//
// Error handling is deliberately asymmetric. Writes return errors because a
// failed write means data loss the caller must know about. Reads return
// (value, ok): a read can fail for many recoverable reasons (expired,
// evicted, key pruned, backend hiccup) and every one of them means the same
// thing to the caller - the value is not available, proceed to
// re-authentication or regeneration.

func (e *Engine) tokenPolicy() namespacePolicy {
	return namespacePolicy{
		prefix:            misc.TokenPrefix,
		requiresBiometric: e.cfg.RequireBiometricForTokens,
	}
}

func (e *Engine) sessionPolicy() namespacePolicy {
	return namespacePolicy{prefix: misc.UserPrefix}
}

func (e *Engine) derivedKeyPolicy() namespacePolicy {
	return namespacePolicy{prefix: misc.KeyPrefix, alwaysBiometric: true}
}

func (e *Engine) crashPolicy() namespacePolicy {
	return namespacePolicy{prefix: misc.CrashPrefix}
}

func (e *Engine) metricsPolicy() namespacePolicy {
	return namespacePolicy{prefix: misc.MetricsPrefix}
}

// StoreAuthToken persists an authentication token under the given name.
// Tokens expire after TokenTTL and, when RequireBiometricForTokens is set and
// the engine runs in strict mode, reading them back prompts for biometrics.
func (e *Engine) StoreAuthToken(ctx context.Context, name, token string) error {
	policy := e.tokenPolicy()
	return e.storeGated(ctx, policy, name, token, e.cfg.TokenTTL, "store authentication token")
}

// GetAuthToken retrieves a token stored with StoreAuthToken. The second
// return is false when the token is missing, expired, or unreadable.
func (e *Engine) GetAuthToken(ctx context.Context, name string) (string, bool) {
	return e.readGated(ctx, e.tokenPolicy(), name, "read authentication token")
}

// ClearAuthTokens removes every stored token, e.g. on logout.
func (e *Engine) ClearAuthTokens(ctx context.Context) error {
	return e.clearGated(ctx, misc.TokenPrefix, "token")
}

// StoreSession persists session state under the given name. Sessions do not
// expire. Values above the size ceiling are rejected with ErrValueTooLarge
// in strict mode; in compatibility mode the write is skipped with a warning
// so a session blob a backend cannot hold does not break the login flow.
func (e *Engine) StoreSession(ctx context.Context, name, data string) error {
	policy := e.sessionPolicy()

	if limit := e.effectiveLimit(); limit > 0 && len(data) > limit {
		if e.cfg.Mode == ModeCompatibility {
			fmt.Printf("WARNING: session %s is %d bytes, exceeds the %d byte limit, skipping\n", name, len(data), limit)
			e.recordAudit(OpWrite, policy.prefix+name, false, false, reasonValueTooLarge)
			return nil
		}
		e.recordAudit(OpWrite, policy.prefix+name, false, false, reasonValueTooLarge)
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrValueTooLarge, len(data), limit)
	}

	return e.storeGated(ctx, policy, name, data, 0, "store session")
}

// GetSession retrieves session state stored with StoreSession.
func (e *Engine) GetSession(ctx context.Context, name string) (string, bool) {
	return e.readGated(ctx, e.sessionPolicy(), name, "read session")
}

// DeleteSession removes one session entry.
func (e *Engine) DeleteSession(ctx context.Context, name string) error {
	policy := e.sessionPolicy()
	if err := e.deleteRecord(policy.prefix + name); err != nil {
		e.recordAudit(OpDelete, policy.prefix+name, false, false, reasonFor(err))
		return err
	}
	e.recordAudit(OpDelete, policy.prefix+name, true, false, "")
	return nil
}

// StoreEncryptionKey persists a derived or wrapped encryption key. Derived
// keys guard data beyond this engine, so reading them back always requires
// biometric (or passcode) presence, in every mode. Keys expire after KeyTTL.
func (e *Engine) StoreEncryptionKey(ctx context.Context, name, key string) error {
	return e.storeGated(ctx, e.derivedKeyPolicy(), name, key, e.cfg.KeyTTL, "store encryption key")
}

// GetEncryptionKey retrieves a key stored with StoreEncryptionKey after a
// biometric check.
func (e *Engine) GetEncryptionKey(ctx context.Context, name string) (string, bool) {
	return e.readGated(ctx, e.derivedKeyPolicy(), name, "access encryption key")
}

// StoreCrashData persists a crash report for later upload. Reports expire
// after CrashTTL so an uploader that never runs cannot grow storage forever.
func (e *Engine) StoreCrashData(ctx context.Context, id, payload string) error {
	return e.storeGated(ctx, e.crashPolicy(), id, payload, e.cfg.CrashTTL, "store crash report")
}

// GetCrashData retrieves a crash report stored with StoreCrashData.
func (e *Engine) GetCrashData(ctx context.Context, id string) (string, bool) {
	return e.readGated(ctx, e.crashPolicy(), id, "read crash report")
}

// ClearCrashData removes all stored crash reports, typically after upload.
func (e *Engine) ClearCrashData(ctx context.Context) error {
	return e.clearGated(ctx, misc.CrashPrefix, "crash")
}

// StoreMetricsData persists usage metrics. Metrics do not expire and are
// never biometric gated, but they are encrypted like everything else.
func (e *Engine) StoreMetricsData(ctx context.Context, name, payload string) error {
	return e.storeGated(ctx, e.metricsPolicy(), name, payload, 0, "store metrics")
}

// GetMetricsData retrieves metrics stored with StoreMetricsData.
func (e *Engine) GetMetricsData(ctx context.Context, name string) (string, bool) {
	return e.readGated(ctx, e.metricsPolicy(), name, "read metrics")
}

// ClearAllSecureData removes all tokens, sessions and crash reports in one
// call, e.g. on account deletion. The master key ring and metrics survive:
// the ring because the engine would otherwise be unable to operate, metrics
// because they carry no user secrets.
func (e *Engine) ClearAllSecureData(ctx context.Context) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	var errs []error
	for _, prefix := range []string{misc.TokenPrefix, misc.UserPrefix, misc.CrashPrefix} {
		if err := e.clearNamespace(prefix); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		e.recordAudit(OpDelete, "all", false, false, reasonStoreError)
		return errors.Join(errs...)
	}
	e.recordAudit(OpDelete, "all", true, false, "")
	e.emit("ALL_SECURE_DATA_CLEARED", true, nil)
	return nil
}

// storeGated runs the write path: biometric gate, seal, persist, audit.
func (e *Engine) storeGated(ctx context.Context, policy namespacePolicy, name, value string, ttl time.Duration, promptReason string) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	key := policy.prefix + name
	gated := e.biometricRequired(policy)

	if err := e.authorize(ctx, policy, promptReason); err != nil {
		e.recordAudit(OpWrite, key, false, gated, reasonFor(err))
		return err
	}
	if err := e.writeRecord(key, value, ttl, gated); err != nil {
		e.recordAudit(OpWrite, key, false, gated, reasonFor(err))
		return err
	}
	e.recordAudit(OpWrite, key, true, gated, "")
	return nil
}

// readGated runs the read path. Failures are audited with their reason code
// but surface to the caller only as (_, false).
func (e *Engine) readGated(ctx context.Context, policy namespacePolicy, name, promptReason string) (string, bool) {
	if e.closed.Load() {
		return "", false
	}
	key := policy.prefix + name
	gated := e.biometricRequired(policy)

	if err := e.authorize(ctx, policy, promptReason); err != nil {
		e.recordAudit(OpRead, key, false, gated, reasonFor(err))
		return "", false
	}

	value, ok, err := e.readRecord(key)
	if err != nil {
		e.recordAudit(OpRead, key, false, gated, reasonFor(err))
		return "", false
	}
	if !ok {
		// A miss is routine, not a failure: it still appears in the ring so
		// the trail covers every read, but it never drags the health score.
		e.recordAudit(OpRead, key, true, gated, reasonNotFound)
		return "", false
	}
	e.recordAudit(OpRead, key, true, gated, "")
	return value, true
}

func (e *Engine) clearGated(ctx context.Context, prefix, label string) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if err := e.clearNamespace(prefix); err != nil {
		e.recordAudit(OpDelete, prefix, false, false, reasonStoreError)
		return fmt.Errorf("failed to clear %s data: %w", label, err)
	}
	e.recordAudit(OpDelete, prefix, true, false, "")
	return nil
}
