package utils

import (
	"crypto/sha1"
	"encoding/hex"
)

// HashString returns a stable hex digest of input, used for deterministic
// keys such as per-session URL fingerprints.
func HashString(input string) string {
	sum := sha1.Sum([]byte(input))
	return hex.EncodeToString(sum[:])
}
