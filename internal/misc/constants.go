package misc

const (
	// Reserved storage namespace prefixes. Caller-supplied identifiers are
	// appended to these and must never collide with the master key entry.
	TokenPrefix   = "sec_token_"
	KeyPrefix     = "sec_key_"
	UserPrefix    = "sec_user_"
	CrashPrefix   = "sec_crash_"
	MetricsPrefix = "sec_metrics_"

	// MasterKeyStorageKey is the distinguished backing-store entry holding the
	// serialized master key ring. It is written and read without biometric
	// gating to avoid a circular bootstrap dependency.
	MasterKeyStorageKey = "master_encryption_key"

	// DefaultMaxValueSize mirrors the typical secure-keystore blob ceiling on
	// mobile platforms (~2KB per entry).
	DefaultMaxValueSize = 2048

	DefaultAuditLogCap = 256
	DefaultRetiredKeys = 5

	// Export container key derivation parameters.
	ExportKDFIterations = 100_000
	ExportSaltSize      = 32

	FilePermissions = 0600 // user read + write
	DirPermissions  = 0700
)
