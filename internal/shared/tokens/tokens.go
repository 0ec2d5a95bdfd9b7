// Package tokens holds small helpers for working with bot token secrets.
package tokens

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest returns a short stable fingerprint of a bot token, safe for log
// lines and storage keys. Raw secrets must never appear in either.
func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}
