package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"golang.org/x/crypto/pbkdf2"
)

// MinIterations is the lowest PBKDF2 iteration count accepted anywhere.
const MinIterations = 100000

// DeriveKey stretches the shared password with PBKDF2-HMAC-SHA256 using the
// deployment origin as salt and returns the 32-byte key hex encoded. Browsers
// compute the same value with WebCrypto, so the encoding must stay lowercase hex.
func DeriveKey(password, salt string, iterations int) string {
	if iterations < MinIterations {
		iterations = MinIterations
	}
	key := pbkdf2.Key([]byte(password), []byte(salt), iterations, 32, sha256.New)
	return hex.EncodeToString(key)
}

// BuildProof binds a derived key to a unix timestamp: hex(SHA-256(key + ":" + ts)).
func BuildProof(key string, timestamp int64) string {
	sum := sha256.Sum256([]byte(key + ":" + strconv.FormatInt(timestamp, 10)))
	return hex.EncodeToString(sum[:])
}
