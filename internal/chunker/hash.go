package chunker

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns a stable content hash of text after whitespace normalization.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}
