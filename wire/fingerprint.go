package wire

import (
	"strings"

	"github.com/zeebo/xxh3"
)

// Fingerprint identifies a watch subscription: the xxh3-64 hash of the
// canonical command string (upper-cased name, then each argument, separated
// by single spaces).
func Fingerprint(cmd string, args []string) uint64 {
	return xxh3.HashString(Canonical(cmd, args))
}

// Canonical renders cmd and args the way Fingerprint hashes them.
func Canonical(cmd string, args []string) string {
	n := len(cmd)
	for _, a := range args {
		n += len(a) + 1
	}

	var sb strings.Builder
	sb.Grow(n)
	sb.WriteString(strings.ToUpper(cmd))
	for _, a := range args {
		sb.WriteByte(' ')
		sb.WriteString(a)
	}
	return sb.String()
}
