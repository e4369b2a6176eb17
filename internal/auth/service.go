package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/overseer-lite/overseer-lite/internal/telemetry"
)

// MaxDisplayNameLength is the longest accepted display name, in runes.
const MaxDisplayNameLength = 50

// AttemptStore keeps failed-login counters outside the process so every
// replica sees the same count. Implementations must make RecordFailure atomic.
type AttemptStore interface {
	// FailedAttempts returns the failures recorded for key in the current window.
	FailedAttempts(ctx context.Context, key string, window time.Duration, now time.Time) (int, error)
	// RecordFailure adds one failure, starting a new window when the previous one has passed.
	RecordFailure(ctx context.Context, key string, window time.Duration, now time.Time) (int, error)
	// ClearFailures forgets all failures for key.
	ClearFailures(ctx context.Context, key string) error
}

// RateLimitPolicy bounds failed logins per client key.
type RateLimitPolicy struct {
	Enabled     bool
	MaxAttempts int
	Window      time.Duration
}

// DefaultRateLimitPolicy allows five failures per fifteen minutes.
func DefaultRateLimitPolicy() RateLimitPolicy {
	return RateLimitPolicy{Enabled: true, MaxAttempts: 5, Window: 15 * time.Minute}
}

// LoginRequest is one login attempt as received from the client.
type LoginRequest struct {
	Origin      string
	Timestamp   int64
	Proof       string
	DisplayName string
	// ClientKey identifies the caller for throttling, normally its IP address.
	ClientKey string
}

// LoginResult is returned on successful login.
type LoginResult struct {
	Token       string `json:"token"`
	DisplayName string `json:"name"`
}

// Service runs logins and authorizes session tokens.
type Service struct {
	verifier *ChallengeVerifier
	codec    *TokenCodec
	attempts AttemptStore
	policy   RateLimitPolicy
	now      func() time.Time
}

// NewService wires the login service. attempts may be nil when the policy is disabled.
func NewService(verifier *ChallengeVerifier, codec *TokenCodec, attempts AttemptStore, policy RateLimitPolicy) *Service {
	if attempts == nil {
		policy.Enabled = false
	}
	return &Service{
		verifier: verifier,
		codec:    codec,
		attempts: attempts,
		policy:   policy,
		now:      time.Now,
	}
}

// Iterations returns the PBKDF2 iteration count published to clients.
func (s *Service) Iterations() int {
	return s.verifier.Iterations()
}

// Policy returns the active rate-limit policy.
func (s *Service) Policy() RateLimitPolicy {
	return s.policy
}

// Login verifies a challenge-response proof and issues a session token.
//
// A throttled client is rejected before any verification. A bad display name
// is rejected without touching the failure counter. A wrong proof increments
// it. Store errors are returned wrapped and are retryable.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	now := s.now()

	if s.policy.Enabled {
		failures, err := s.attempts.FailedAttempts(ctx, req.ClientKey, s.policy.Window, now)
		if err != nil {
			telemetry.LoginAttemptsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("failed to read login attempts: %w", err)
		}
		if failures >= s.policy.MaxAttempts {
			telemetry.LoginAttemptsTotal.WithLabelValues("rate_limited").Inc()
			slog.Warn("login rate limited", "client", req.ClientKey, "failures", failures)
			return nil, ErrRateLimited
		}
	}

	name := strings.TrimSpace(req.DisplayName)
	if name == "" || utf8.RuneCountInString(name) > MaxDisplayNameLength {
		telemetry.LoginAttemptsTotal.WithLabelValues("invalid_name").Inc()
		return nil, ErrInvalidName
	}

	if !s.verifier.Verify(req.Proof, req.Timestamp, now, req.Origin) {
		telemetry.LoginAttemptsTotal.WithLabelValues("unauthorized").Inc()
		if s.policy.Enabled {
			if _, err := s.attempts.RecordFailure(ctx, req.ClientKey, s.policy.Window, now); err != nil {
				return nil, fmt.Errorf("failed to record login failure: %w", err)
			}
		}
		return nil, ErrUnauthorized
	}

	if s.policy.Enabled {
		if err := s.attempts.ClearFailures(ctx, req.ClientKey); err != nil {
			slog.Warn("failed to clear login failures", "client", req.ClientKey, "error", err)
		}
	}

	telemetry.LoginAttemptsTotal.WithLabelValues("success").Inc()
	return &LoginResult{Token: s.codec.Issue(name, now), DisplayName: name}, nil
}

// Authorize verifies a bearer token. Any failure is ErrUnauthorized.
func (s *Service) Authorize(token string) (*Session, error) {
	session, err := s.codec.Verify(token, s.now())
	if err != nil {
		return nil, ErrUnauthorized
	}
	return session, nil
}
