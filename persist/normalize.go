package persist

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

var storageKeyRegex = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// NormalizeKey rewrites a logical key into the charset accepted by platform
// keystores. Any legacy "@" prefix is stripped and every disallowed character
// is replaced with "_". The function is idempotent:
// NormalizeKey(NormalizeKey(k)) == NormalizeKey(k) for all k.
func NormalizeKey(key string) string {
	key = strings.TrimPrefix(key, "@")
	if storageKeyRegex.MatchString(key) {
		return key
	}

	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

// Normalizer applies NormalizeKey and warns once per distinct offending key.
// A write is never dropped because of a charset violation - the rewritten key
// becomes the actual storage key.
type Normalizer struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewNormalizer() *Normalizer {
	return &Normalizer{seen: make(map[string]struct{})}
}

func (n *Normalizer) Normalize(key string) string {
	normalized := NormalizeKey(key)
	if normalized == key {
		return normalized
	}

	n.mu.Lock()
	_, warned := n.seen[key]
	if !warned {
		n.seen[key] = struct{}{}
	}
	n.mu.Unlock()

	if !warned {
		fmt.Printf("WARNING: storage key %q contains disallowed characters, rewritten to %q\n", key, normalized)
	}
	return normalized
}
