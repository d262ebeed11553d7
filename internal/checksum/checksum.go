// Package checksum computes the content fingerprints used to tell real file
// changes apart from metadata-only touches.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Equal reports whether data hashes to fingerprint. An empty fingerprint
// never matches.
func Equal(fingerprint string, data []byte) bool {
	return fingerprint != "" && Sum(data) == fingerprint
}
