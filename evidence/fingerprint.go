package evidence

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns the hex-encoded SHA-256 digest of the raw image bytes.
// Byte-identical uploads always map to the same digest; any re-encode counts
// as a different image. Perceptual matching is out of scope.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
