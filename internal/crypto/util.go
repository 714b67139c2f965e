package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"

	"southwinds.dev/locker/internal/misc"
)

// GCMNonceSize is the IV length used for all record encryption. A fresh IV is
// drawn from the CSPRNG for every call and must never repeat under one key.
const GCMNonceSize = 12

// MasterKeySize is the symmetric key length (AES-256).
const MasterKeySize = 32

// RandomBytes draws n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}

// Fingerprint returns the hex-encoded SHA-256 digest of the given material.
// Used to identify key material in audit output without exposing it.
func Fingerprint(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// CalculateChecksum calculates SHA-256 checksum of data
func CalculateChecksum(data []byte) string {
	return Fingerprint(data)
}

// EncryptAESGCM encrypts plaintext using AES-256-GCM, returning the random IV
// and the ciphertext with the authentication tag appended.
func EncryptAESGCM(key, plaintext []byte) (iv, ciphertext []byte, err error) {
	if len(key) != MasterKeySize {
		return nil, nil, errors.New("aes-gcm requires a 32-byte key")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create gcm: %w", err)
	}

	iv, err = RandomBytes(GCMNonceSize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, iv, plaintext, nil)
	return iv, ciphertext, nil
}

// DecryptAESGCM decrypts and authenticates an AES-256-GCM ciphertext. A
// tampered ciphertext fails authentication rather than yielding garbage.
func DecryptAESGCM(key, iv, ciphertext []byte) ([]byte, error) {
	if len(key) != MasterKeySize {
		return nil, errors.New("aes-gcm requires a 32-byte key")
	}
	if len(iv) != GCMNonceSize {
		return nil, errors.New("invalid nonce size")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	return plaintext, nil
}

// EncryptWithPassphrase encrypts data using a passphrase with PBKDF2 + ChaCha20-Poly1305.
// Used for export containers, which must be portable across devices and
// therefore cannot be sealed by the device-local master key.
func EncryptWithPassphrase(data []byte, passphrase string) ([]byte, error) {
	salt, err := RandomBytes(misc.ExportSaltSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key := pbkdf2.Key([]byte(passphrase), salt, misc.ExportKDFIterations, 32, sha256.New)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce, err := RandomBytes(aead.NonceSize())
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, data, nil)

	// Combine: salt + nonce + ciphertext
	result := make([]byte, 0, len(salt)+len(nonce)+len(ciphertext))
	result = append(result, salt...)
	result = append(result, nonce...)
	result = append(result, ciphertext...)
	return result, nil
}

// DecryptWithPassphrase decrypts data produced by EncryptWithPassphrase.
func DecryptWithPassphrase(encryptedData []byte, passphrase string) ([]byte, error) {
	if len(encryptedData) < misc.ExportSaltSize+chacha20poly1305.NonceSize {
		return nil, errors.New("encrypted data too short")
	}

	salt := encryptedData[:misc.ExportSaltSize]
	nonce := encryptedData[misc.ExportSaltSize : misc.ExportSaltSize+chacha20poly1305.NonceSize]
	ciphertext := encryptedData[misc.ExportSaltSize+chacha20poly1305.NonceSize:]

	key := pbkdf2.Key([]byte(passphrase), salt, misc.ExportKDFIterations, 32, sha256.New)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// IsWeakKey rejects key material with obviously degenerate structure. A
// healthy CSPRNG never produces these, so a hit indicates a broken entropy
// source and the key must not be used.
func IsWeakKey(key []byte) bool {
	if len(key) < MasterKeySize {
		return true
	}

	// Check for all zeros
	allZero := true
	for _, b := range key {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return true
	}

	// Check for all same byte
	firstByte := key[0]
	allSame := true
	for _, b := range key[1:] {
		if b != firstByte {
			allSame = false
			break
		}
	}
	if allSame {
		return true
	}

	// Basic entropy check - count unique bytes
	uniqueBytes := make(map[byte]bool)
	for _, b := range key {
		uniqueBytes[b] = true
	}

	return len(uniqueBytes) < 16
}
