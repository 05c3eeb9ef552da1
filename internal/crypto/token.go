package crypto

import (
	"crypto/sha256"
	"encoding/base64"
)

// HashToken produces the deterministic fingerprint used as the revocation key
// for a raw access token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
