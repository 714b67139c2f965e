package locker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	"southwinds.dev/locker/audit"
	"southwinds.dev/locker/persist"
)

// Initialize memguard in init function to ensure it's set up before any engine operation
func init() {
	memguard.CatchInterrupt()
}

// Engine is the secure credential and session storage engine. It owns the
// in-memory master key material and the audit ring; the backing store owns
// the persisted bytes; callers own nothing beyond the plaintext strings they
// pass in and receive out.
//
// An Engine is an explicit handle constructed once at process start and
// passed by reference to all call sites. There is no package-level instance.
// All methods are safe for concurrent use: the active key pointer is replaced
// only under the write lock, and every ciphertext embeds the ID of the key
// that sealed it, so an encrypt racing a rotation always produces a record
// that remains decryptable.
type Engine struct {
	cfg           Config
	store         persist.Store
	normalizer    *persist.Normalizer
	authenticator Authenticator

	mu           sync.RWMutex
	keyEnclaves  map[string]*memguard.Enclave
	keyInfo      map[string]KeyInfo
	currentKeyID string
	lastRotation time.Time

	ring     *auditRing
	dispatch *auditDispatcher

	cipherDisabled bool
	compatWarned   atomic.Bool

	done   chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

// Option adjusts engine construction for non-default runtimes.
type Option func(*Engine)

// WithCipherDisabled models a runtime without the AEAD primitive. In
// ModeStrict every encrypt/decrypt then fails with ErrEncryptionRequired; in
// ModeCompatibility values pass through unencrypted with a warning.
func WithCipherDisabled() Option {
	return func(e *Engine) { e.cipherDisabled = true }
}

// New constructs the engine: it validates configuration, verifies the backing
// store is reachable, bootstraps the master key ring (creating one on first
// run), and starts the rotation timer.
//
// The master key is loaded without biometric gating - gating it would require
// a prompt before the engine exists to evaluate the prompt policy (circular
// bootstrap dependency).
//
// A nil auditLogger installs a no-op sink; a nil authenticator disables
// biometric prompting entirely (device passcode assumed as fallback).
//
// Failure of the CSPRNG or of master key persistence is fatal: New returns an
// error wrapping ErrSecurityInit and the engine must not be used.
func New(cfg Config, store persist.Store, authenticator Authenticator, auditLogger audit.Logger, opts ...Option) (*Engine, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}
	if err := store.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to storage backend: %w", err)
	}

	e := &Engine{
		cfg:           cfg,
		store:         store,
		normalizer:    persist.NewNormalizer(),
		authenticator: authenticator,
		keyEnclaves:   make(map[string]*memguard.Enclave),
		keyInfo:       make(map[string]KeyInfo),
		ring:          newAuditRing(cfg.AuditLogCap),
		dispatch:      newAuditDispatcher(auditLogger, 128),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.ensureKey(); err != nil {
		e.dispatch.Close()
		return nil, fmt.Errorf("%w: %v", ErrSecurityInit, err)
	}

	if cfg.RotationInterval > 0 {
		e.wg.Add(1)
		go e.rotationLoop(cfg.RotationInterval)
	}

	e.emit("ENGINE_INITIALIZED", true, map[string]interface{}{
		"store_type":      store.GetType(),
		"mode":            cfg.Mode.String(),
		"cipher_disabled": e.cipherDisabled,
		"key_id":          e.currentKeyID,
	})
	return e, nil
}

func (e *Engine) rotationLoop(interval time.Duration) {
	defer e.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := e.Rotate("scheduled"); err != nil {
				fmt.Printf("WARNING: scheduled key rotation failed: %v\n", err)
			}
		case <-e.done:
			return
		}
	}
}

// IsAvailable probes the backing store without side effects.
func (e *Engine) IsAvailable() bool {
	if e.closed.Load() {
		return false
	}
	return e.store.Ping() == nil
}

// Mode reports the security posture fixed at construction.
func (e *Engine) Mode() Mode { return e.cfg.Mode }

// Close stops the rotation timer, drains the audit dispatcher, and wipes all
// in-memory key material. The engine is unusable afterwards.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(e.done)
	e.wg.Wait()
	e.dispatch.Close()

	e.mu.Lock()
	e.keyEnclaves = make(map[string]*memguard.Enclave)
	e.currentKeyID = ""
	e.mu.Unlock()

	return nil
}

func (e *Engine) newRequestID() string {
	return uuid.NewString()
}

// recordAudit appends one entry to the bounded in-memory ring and forwards
// the event to the audit sink asynchronously. reason must be a
// machine-readable code, never raw error text.
func (e *Engine) recordAudit(op Operation, dataType string, success bool, requiresBiometric bool, reason string) {
	e.ring.Append(AuditLogEntry{
		Timestamp:         time.Now().UTC(),
		Operation:         op,
		DataType:          dataType,
		Success:           success,
		RequiresBiometric: requiresBiometric,
		Error:             reason,
	})
	meta := map[string]interface{}{
		"data_type":          dataType,
		"requires_biometric": requiresBiometric,
	}
	if reason != "" {
		meta["error"] = reason
	}
	e.dispatch.Emit(string(op), success, meta)
}

func (e *Engine) emit(action string, success bool, metadata map[string]interface{}) {
	e.dispatch.Emit(action, success, metadata)
}
