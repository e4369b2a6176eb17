package auth

import (
	"crypto/subtle"
	"time"

	"github.com/overseer-lite/overseer-lite/internal/crypto"
)

// DefaultChallengeWindow is the largest accepted gap between a proof's
// timestamp and the server clock.
const DefaultChallengeWindow = 5 * time.Minute

// ChallengeVerifier checks that a client knows the shared password without
// the password crossing the network. The client sends
// BuildProof(DeriveKey(password, origin, iterations), timestamp).
type ChallengeVerifier struct {
	password   string
	iterations int
	window     time.Duration
}

// NewChallengeVerifier builds a verifier for the shared password.
func NewChallengeVerifier(password string, iterations int, window time.Duration) *ChallengeVerifier {
	if iterations < crypto.MinIterations {
		iterations = crypto.MinIterations
	}
	if window <= 0 {
		window = DefaultChallengeWindow
	}
	return &ChallengeVerifier{password: password, iterations: iterations, window: window}
}

// Iterations returns the PBKDF2 iteration count clients must use.
func (v *ChallengeVerifier) Iterations() int {
	return v.iterations
}

// Verify reports whether proof is valid for timestamp (unix seconds) and origin.
// Stale or future timestamps are rejected before the key derivation runs.
func (v *ChallengeVerifier) Verify(proof string, timestamp int64, now time.Time, origin string) bool {
	skew := now.Sub(time.Unix(timestamp, 0))
	if skew > v.window || skew < -v.window {
		return false
	}
	if proof == "" {
		return false
	}

	expected := crypto.BuildProof(crypto.DeriveKey(v.password, origin, v.iterations), timestamp)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(proof)) == 1
}
