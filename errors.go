package locker

import "errors"

var (
	// ErrSecurityInit is fatal: the engine could not bootstrap its master key
	// and must not accept writes.
	ErrSecurityInit = errors.New("security initialization failed")
	// ErrEncryptionFailed is returned when sealing a value fails.
	ErrEncryptionFailed = errors.New("encryption failed")
	// ErrDecryptionFailed is returned when a ciphertext cannot be opened -
	// wrong key, malformed encoding, or failed authentication.
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrEncryptionRequired is returned in strict mode when the AEAD primitive
	// is unavailable on the runtime.
	ErrEncryptionRequired = errors.New("authenticated encryption required in strict mode")
	// ErrBiometricAuthFailed is returned when a required biometric prompt was
	// cancelled or errored.
	ErrBiometricAuthFailed = errors.New("biometric authentication failed")
	// ErrValueTooLarge is returned on the write path when a serialized record
	// exceeds the backing store's payload ceiling.
	ErrValueTooLarge = errors.New("value exceeds backing store size limit")
	// ErrEngineClosed is returned by every operation after Close.
	ErrEngineClosed = errors.New("engine is closed")
)

// Machine-readable reason codes recorded in audit entries. Never carry raw
// error text into the audit trail - wrapped store errors can echo secret
// material in paths or payloads.
const (
	reasonSecurityInit       = "SECURITY_INIT_FAILED"
	reasonEncryptionFailed   = "ENCRYPTION_FAILED"
	reasonDecryptionFailed   = "DECRYPTION_FAILED"
	reasonEncryptionRequired = "ENCRYPTION_REQUIRED"
	reasonBiometricFailed    = "BIOMETRIC_AUTH_FAILED"
	reasonValueTooLarge      = "VALUE_TOO_LARGE"
	reasonStoreError         = "STORE_ERROR"
	reasonNotFound           = "RECORD_NOT_FOUND"
)

func reasonFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSecurityInit):
		return reasonSecurityInit
	case errors.Is(err, ErrEncryptionRequired):
		return reasonEncryptionRequired
	case errors.Is(err, ErrEncryptionFailed):
		return reasonEncryptionFailed
	case errors.Is(err, ErrDecryptionFailed):
		return reasonDecryptionFailed
	case errors.Is(err, ErrBiometricAuthFailed):
		return reasonBiometricFailed
	case errors.Is(err, ErrValueTooLarge):
		return reasonValueTooLarge
	default:
		return reasonStoreError
	}
}
