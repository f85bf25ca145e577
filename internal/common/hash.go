package common

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sha256Hex returns the SHA-256 digest of the input encoded as lowercase hex.
func Sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// RedactEmail hashes an email address and keeps a short prefix of the digest
// so audit entries stay correlatable without storing the address itself.
func RedactEmail(email string) string {
	if email == "" {
		return ""
	}
	digest := Sha256Hex(email)
	return digest[:12]
}
