package locker

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/awnumar/memguard"

	"southwinds.dev/locker/internal/crypto"
)

// Ciphertext wire format: keyID:ivHex:base64(ciphertext||tag). The key id
// prefix lets decryption pick the right generation after rotations. Values
// written before key ids were introduced carry only ivHex:base64 and are
// tried against every held key.

// encryptValue seals a plaintext under the active master key.
func (e *Engine) encryptValue(plaintext string) (string, error) {
	if e.cipherDisabled {
		if e.cfg.Mode == ModeStrict {
			return "", ErrEncryptionRequired
		}
		e.warnCompatOnce()
		return plaintext, nil
	}

	e.mu.RLock()
	keyID := e.currentKeyID
	enclave, ok := e.keyEnclaves[keyID]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: no active master key", ErrEncryptionFailed)
	}

	buffer, err := enclave.Open()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	iv, ciphertext, err := crypto.EncryptAESGCM(buffer.Bytes(), []byte(plaintext))
	buffer.Destroy()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	return keyID + ":" + hex.EncodeToString(iv) + ":" + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decryptValue opens a sealed value. The key id embedded in the ciphertext
// selects the generation; legacy two-segment values are tried against the
// active key first, then every retired key.
func (e *Engine) decryptValue(sealed string) (string, error) {
	if e.cipherDisabled {
		if e.cfg.Mode == ModeStrict {
			return "", ErrEncryptionRequired
		}
		e.warnCompatOnce()
		return sealed, nil
	}

	parts := strings.SplitN(sealed, ":", 3)
	switch len(parts) {
	case 3:
		return e.decryptWithKey(parts[0], parts[1], parts[2])
	case 2:
		return e.decryptLegacy(parts[0], parts[1])
	default:
		return "", fmt.Errorf("%w: malformed ciphertext", ErrDecryptionFailed)
	}
}

func (e *Engine) decryptWithKey(keyID, ivHex, ctB64 string) (string, error) {
	e.mu.RLock()
	enclave, ok := e.keyByID(keyID)
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: unknown key id %s", ErrDecryptionFailed, keyID)
	}
	return openSealed(enclave, ivHex, ctB64)
}

// decryptLegacy handles records written before key ids were stamped into the
// ciphertext. The active key is the most likely match, so it goes first.
func (e *Engine) decryptLegacy(ivHex, ctB64 string) (string, error) {
	e.mu.RLock()
	candidates := make([]*memguard.Enclave, 0, len(e.keyEnclaves))
	if active, ok := e.keyEnclaves[e.currentKeyID]; ok {
		candidates = append(candidates, active)
	}
	for keyID, enclave := range e.keyEnclaves {
		if keyID != e.currentKeyID {
			candidates = append(candidates, enclave)
		}
	}
	e.mu.RUnlock()

	for _, enclave := range candidates {
		plaintext, err := openSealed(enclave, ivHex, ctB64)
		if err == nil {
			return plaintext, nil
		}
	}
	return "", fmt.Errorf("%w: no key opens this value", ErrDecryptionFailed)
}

func openSealed(enclave *memguard.Enclave, ivHex, ctB64 string) (string, error) {
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return "", fmt.Errorf("%w: bad iv encoding", ErrDecryptionFailed)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(ctB64)
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext encoding", ErrDecryptionFailed)
	}

	buffer, err := enclave.Open()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	plaintext, err := crypto.DecryptAESGCM(buffer.Bytes(), iv, ciphertext)
	buffer.Destroy()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}

// warnCompatOnce prints a single warning per process when values flow
// unencrypted in compatibility mode.
func (e *Engine) warnCompatOnce() {
	if e.compatWarned.CompareAndSwap(false, true) {
		fmt.Printf("WARNING: encryption unavailable, storing values unencrypted in compatibility mode\n")
	}
}
