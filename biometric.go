package locker

import (
	"context"
	"fmt"
)

// Authenticator is the platform biometric prompt. The engine never talks to
// biometric hardware directly; it asks the Authenticator for a human-presence
// check and acts on the boolean outcome.
//
// Implementations wrap the OS prompt (Touch ID, fingerprint API, etc.). When
// the device has no biometric hardware or no enrolled biometrics the platform
// falls back to the device passcode, which this engine treats as an
// acceptable substitute - such implementations return (true, nil) rather
// than failing.
type Authenticator interface {
	// Available reports whether biometric hardware is usable. Feeds the
	// health score and decides whether prompts are attempted at all.
	Available() bool

	// Authenticate shows the platform prompt with the given reason. It
	// returns false only on explicit cancel or prompt error; the caller must
	// then deny the operation.
	Authenticate(ctx context.Context, reason string) (bool, error)
}

// namespacePolicy describes how one storage namespace is gated and aged.
type namespacePolicy struct {
	prefix string

	// requiresBiometric marks namespaces gated in strict mode only.
	requiresBiometric bool

	// alwaysBiometric marks namespaces gated regardless of mode. Used for
	// derived encryption keys, which guard secrets other than the master key.
	alwaysBiometric bool
}

// biometricRequired applies the double condition from the security policy:
// a namespace-level flag alone never triggers a prompt outside strict mode,
// except for namespaces marked alwaysBiometric.
func (e *Engine) biometricRequired(policy namespacePolicy) bool {
	if policy.alwaysBiometric {
		return true
	}
	return policy.requiresBiometric && e.cfg.Mode == ModeStrict
}

// authorize runs the biometric gate for an operation if the policy demands
// it. No authenticator, or hardware reported unavailable, falls back to the
// device passcode (allow). An explicit prompt failure denies.
func (e *Engine) authorize(ctx context.Context, policy namespacePolicy, reason string) error {
	if !e.biometricRequired(policy) {
		return nil
	}
	if e.authenticator == nil || !e.authenticator.Available() {
		// Device-level lock stands in for biometrics.
		return nil
	}

	ok, err := e.authenticator.Authenticate(ctx, reason)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBiometricAuthFailed, err)
	}
	if !ok {
		return ErrBiometricAuthFailed
	}
	return nil
}
