package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/overseer-lite/overseer-lite/internal/crypto"
)

// memoryAttempts is an in-process AttemptStore for service tests.
type memoryAttempts struct {
	mu       sync.Mutex
	counts   map[string]int
	started  map[string]time.Time
	readErr  error
	writeErr error
	reads    int
}

func newMemoryAttempts() *memoryAttempts {
	return &memoryAttempts{counts: map[string]int{}, started: map[string]time.Time{}}
}

func (m *memoryAttempts) FailedAttempts(_ context.Context, key string, window time.Duration, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.readErr != nil {
		return 0, m.readErr
	}
	if now.Sub(m.started[key]) > window {
		return 0, nil
	}
	return m.counts[key], nil
}

func (m *memoryAttempts) RecordFailure(_ context.Context, key string, window time.Duration, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	if now.Sub(m.started[key]) > window {
		m.counts[key] = 0
		m.started[key] = now
	}
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memoryAttempts) ClearFailures(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, key)
	delete(m.started, key)
	return nil
}

func (m *memoryAttempts) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

var serviceNow = time.Unix(1700000000, 0)

func newTestService(attempts AttemptStore) *Service {
	svc := NewService(
		NewChallengeVerifier(testPassword, crypto.MinIterations, DefaultChallengeWindow),
		newTestCodec(),
		attempts,
		DefaultRateLimitPolicy(),
	)
	svc.now = func() time.Time { return serviceNow }
	return svc
}

func goodRequest(name string) LoginRequest {
	return LoginRequest{
		Origin:      testOrigin,
		Timestamp:   serviceNow.Unix(),
		Proof:       proofFor(testPassword, testOrigin, serviceNow.Unix()),
		DisplayName: name,
		ClientKey:   "203.0.113.7",
	}
}

func badRequest() LoginRequest {
	req := goodRequest("Mallory")
	req.Proof = proofFor("guess", testOrigin, serviceNow.Unix())
	return req
}

// ---------------------------------------------------------------------------
// Login
// ---------------------------------------------------------------------------

func TestService_Login_Success(t *testing.T) {
	attempts := newMemoryAttempts()
	svc := newTestService(attempts)

	res, err := svc.Login(context.Background(), goodRequest("  Alice  "))
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if res.DisplayName != "Alice" {
		t.Errorf("DisplayName = %q, want Alice", res.DisplayName)
	}

	session, err := svc.Authorize(res.Token)
	if err != nil {
		t.Fatalf("Authorize() error: %v", err)
	}
	if session.DisplayName != "Alice" || !session.HasName {
		t.Errorf("Authorize() = %+v, want named session for Alice", session)
	}
}

func TestService_Login_WrongProofCountsFailure(t *testing.T) {
	attempts := newMemoryAttempts()
	svc := newTestService(attempts)

	_, err := svc.Login(context.Background(), badRequest())
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Login() error = %v, want ErrUnauthorized", err)
	}
	if got := attempts.count("203.0.113.7"); got != 1 {
		t.Errorf("failures = %d, want 1", got)
	}
}

func TestService_Login_RateLimitedEvenWithCorrectProof(t *testing.T) {
	attempts := newMemoryAttempts()
	svc := newTestService(attempts)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := svc.Login(ctx, badRequest()); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("attempt %d: Login() error = %v, want ErrUnauthorized", i+1, err)
		}
	}

	if _, err := svc.Login(ctx, goodRequest("Alice")); !errors.Is(err, ErrRateLimited) {
		t.Errorf("Login() error = %v, want ErrRateLimited", err)
	}
	if got := attempts.count("203.0.113.7"); got != 5 {
		t.Errorf("failures = %d, want 5; throttled attempts are not counted", got)
	}

	other := goodRequest("Alice")
	other.ClientKey = "198.51.100.1"
	if _, err := svc.Login(ctx, other); err != nil {
		t.Errorf("Login() from another client error: %v", err)
	}
}

func TestService_Login_WindowExpiryLiftsLimit(t *testing.T) {
	attempts := newMemoryAttempts()
	svc := newTestService(attempts)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = svc.Login(ctx, badRequest())
	}

	later := serviceNow.Add(16 * time.Minute)
	svc.now = func() time.Time { return later }
	req := goodRequest("Alice")
	req.Timestamp = later.Unix()
	req.Proof = proofFor(testPassword, testOrigin, later.Unix())

	if _, err := svc.Login(ctx, req); err != nil {
		t.Errorf("Login() after window error: %v", err)
	}
}

func TestService_Login_SuccessClearsFailures(t *testing.T) {
	attempts := newMemoryAttempts()
	svc := newTestService(attempts)
	ctx := context.Background()

	_, _ = svc.Login(ctx, badRequest())
	_, _ = svc.Login(ctx, badRequest())
	if got := attempts.count("203.0.113.7"); got != 2 {
		t.Fatalf("failures = %d, want 2", got)
	}

	if _, err := svc.Login(ctx, goodRequest("Alice")); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if got := attempts.count("203.0.113.7"); got != 0 {
		t.Errorf("failures = %d after success, want 0", got)
	}
}

func TestService_Login_InvalidNameLeavesCounterUntouched(t *testing.T) {
	long := strings.Repeat("x", MaxDisplayNameLength+1)

	for _, name := range []string{"", "   ", long} {
		attempts := newMemoryAttempts()
		svc := newTestService(attempts)

		res, err := svc.Login(context.Background(), goodRequest(name))
		if !errors.Is(err, ErrInvalidName) {
			t.Errorf("Login(%q) error = %v, want ErrInvalidName", name, err)
		}
		if res != nil {
			t.Errorf("Login(%q) = %+v, want nil", name, res)
		}
		if got := attempts.count("203.0.113.7"); got != 0 {
			t.Errorf("Login(%q) failures = %d, want 0", name, got)
		}
	}
}

func TestService_Login_StoreErrorsPropagate(t *testing.T) {
	storeDown := errors.New("connection refused")

	attempts := newMemoryAttempts()
	attempts.readErr = storeDown
	if _, err := newTestService(attempts).Login(context.Background(), goodRequest("Alice")); !errors.Is(err, storeDown) {
		t.Errorf("Login() with failing read error = %v, want %v", err, storeDown)
	}

	attempts = newMemoryAttempts()
	attempts.writeErr = storeDown
	if _, err := newTestService(attempts).Login(context.Background(), badRequest()); !errors.Is(err, storeDown) {
		t.Errorf("Login() with failing write error = %v, want %v", err, storeDown)
	}
}

func TestService_Login_DisabledPolicySkipsStore(t *testing.T) {
	svc := NewService(
		NewChallengeVerifier(testPassword, crypto.MinIterations, DefaultChallengeWindow),
		newTestCodec(),
		nil,
		DefaultRateLimitPolicy(),
	)
	svc.now = func() time.Time { return serviceNow }

	for i := 0; i < 10; i++ {
		if _, err := svc.Login(context.Background(), badRequest()); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("attempt %d: Login() error = %v, want ErrUnauthorized", i+1, err)
		}
	}
	if svc.Policy().Enabled {
		t.Error("Policy().Enabled = true without an attempt store")
	}
}

// ---------------------------------------------------------------------------
// Authorize
// ---------------------------------------------------------------------------

func TestService_Authorize_MapsEveryFailureToUnauthorized(t *testing.T) {
	svc := newTestService(newMemoryAttempts())
	expired := newTestCodec().Issue("Alice", serviceNow.Add(-31*24*time.Hour))

	for _, token := range []string{"", "garbage", "a.b.c", expired} {
		if _, err := svc.Authorize(token); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("Authorize(%q) error = %v, want ErrUnauthorized", token, err)
		}
	}
}
