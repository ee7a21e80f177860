package cache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// Key derives a deterministic cache key from a prefix and the call
// arguments. Nil arguments are skipped, so Key("p", "a", nil) equals
// Key("p", "a"). The digest is md5 — key derivation is not
// security-sensitive; 128 bits is plenty for collision avoidance here.
func Key(prefix string, args ...any) string {
	parts := []string{prefix}
	for _, arg := range args {
		if arg == nil {
			continue
		}
		parts = append(parts, fmt.Sprint(arg))
	}
	sum := md5.Sum([]byte(strings.Join(parts, "_")))
	return hex.EncodeToString(sum[:])
}
