package locker

import (
	"fmt"
	"time"

	"southwinds.dev/locker/internal/misc"
)

// Mode fixes the engine's security posture at construction time. There is no
// implicit runtime branch on cipher availability: a constrained runtime is
// configured into ModeCompatibility deliberately, and that choice is visible
// in code and config.
type Mode int

const (
	// ModeStrict requires authenticated encryption for every stored value.
	// A runtime without the AEAD primitive fails hard instead of degrading.
	ModeStrict Mode = iota

	// ModeCompatibility passes values through unencrypted when the AEAD
	// primitive is unavailable, relying solely on the backing store's
	// OS-level encryption at rest. A compatibility fallback for constrained
	// runtimes, not a security guarantee; production callers run strict.
	ModeCompatibility
)

func (m Mode) String() string {
	switch m {
	case ModeStrict:
		return "strict"
	case ModeCompatibility:
		return "compatibility"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Config is the fully enumerated engine configuration. It is read once at
// construction and never mutated afterwards; changing security posture
// requires a new Engine.
type Config struct {
	// Mode selects strict or compatibility operation. Zero value is strict,
	// so a forgotten field fails closed.
	Mode Mode

	// TokenTTL bounds the lifetime of auth token records. Default 1h.
	TokenTTL time.Duration

	// KeyTTL bounds the lifetime of derived-key records and doubles as the
	// default master key rotation interval. Default 24h.
	KeyTTL time.Duration

	// CrashTTL bounds the lifetime of crash payload records. Default 7d.
	CrashTTL time.Duration

	// RequireBiometricForTokens gates token reads/writes behind a biometric
	// prompt. Only effective in ModeStrict; the derived-key namespace is
	// gated unconditionally regardless of this flag.
	RequireBiometricForTokens bool

	// RotationInterval overrides the automatic master key rotation cadence.
	// Zero means rotate every KeyTTL. Negative disables the timer (manual
	// rotation only).
	RotationInterval time.Duration

	// MaxValueSize is the per-record serialized size ceiling in bytes, used
	// when the backing store does not advertise its own. Default 2048, the
	// common platform keystore limit.
	MaxValueSize int

	// AuditLogCap bounds the in-memory audit ring. Oldest entries drop first.
	// Default 256.
	AuditLogCap int

	// RetiredKeyLimit is how many retired master keys stay available for
	// decrypting records written before rotations. Default 5.
	RetiredKeyLimit int
}

// DefaultConfig returns the production defaults: strict mode, biometric-gated
// tokens, 1h/24h/7d TTLs.
func DefaultConfig() Config {
	return Config{
		Mode:                      ModeStrict,
		TokenTTL:                  time.Hour,
		KeyTTL:                    24 * time.Hour,
		CrashTTL:                  7 * 24 * time.Hour,
		RequireBiometricForTokens: true,
		MaxValueSize:              misc.DefaultMaxValueSize,
		AuditLogCap:               misc.DefaultAuditLogCap,
		RetiredKeyLimit:           misc.DefaultRetiredKeys,
	}
}

func (c *Config) applyDefaults() {
	if c.TokenTTL == 0 {
		c.TokenTTL = time.Hour
	}
	if c.KeyTTL == 0 {
		c.KeyTTL = 24 * time.Hour
	}
	if c.CrashTTL == 0 {
		c.CrashTTL = 7 * 24 * time.Hour
	}
	if c.RotationInterval == 0 {
		c.RotationInterval = c.KeyTTL
	}
	if c.MaxValueSize == 0 {
		c.MaxValueSize = misc.DefaultMaxValueSize
	}
	if c.AuditLogCap == 0 {
		c.AuditLogCap = misc.DefaultAuditLogCap
	}
	if c.RetiredKeyLimit == 0 {
		c.RetiredKeyLimit = misc.DefaultRetiredKeys
	}
}

// Validate validates the Config
func (c Config) Validate() error {
	if c.Mode != ModeStrict && c.Mode != ModeCompatibility {
		return fmt.Errorf("unknown mode: %d", int(c.Mode))
	}
	if c.TokenTTL < 0 || c.KeyTTL < 0 || c.CrashTTL < 0 {
		return fmt.Errorf("TTLs cannot be negative")
	}
	if c.MaxValueSize < 0 {
		return fmt.Errorf("MaxValueSize cannot be negative")
	}
	if c.AuditLogCap < 0 {
		return fmt.Errorf("AuditLogCap cannot be negative")
	}
	if c.RetiredKeyLimit < 0 {
		return fmt.Errorf("RetiredKeyLimit cannot be negative")
	}
	return nil
}
