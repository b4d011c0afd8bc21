package signature

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2s"
)

// Strong returns the hex-encoded Blake2s-256 digest of data. It is used to
// confirm a weak-signature collision before trusting a block match; no
// salt or keying is applied.
func Strong(data []byte) string {
	sum := blake2s.Sum256(data)
	return hex.EncodeToString(sum[:])
}
