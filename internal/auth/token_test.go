package auth

import (
	"strings"
	"testing"
	"time"
)

var tokenEpoch = time.Unix(1700000000, 0)

func newTestCodec() *TokenCodec {
	return NewTokenCodec("test-signing-secret-0123456789abcdef")
}

// ---------------------------------------------------------------------------
// Issue / Verify round trip
// ---------------------------------------------------------------------------

func TestTokenCodec_RoundTrip(t *testing.T) {
	codec := newTestCodec()
	token := codec.Issue("Alice", tokenEpoch)

	if got := strings.Count(token, "."); got != 2 {
		t.Fatalf("Issue() produced %d separators, want 2: %q", got, token)
	}

	session, err := codec.Verify(token, tokenEpoch.Add(29*24*time.Hour))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if session.DisplayName != "Alice" || !session.HasName {
		t.Errorf("session = %+v, want DisplayName=Alice HasName=true", session)
	}
	if !session.IssuedAt.Equal(tokenEpoch) {
		t.Errorf("IssuedAt = %v, want %v", session.IssuedAt, tokenEpoch)
	}
}

func TestTokenCodec_WireLayout(t *testing.T) {
	token := newTestCodec().Issue("Bob", tokenEpoch)
	parts := strings.Split(token, ".")
	if parts[0] != "Qm9i" {
		t.Errorf("name field = %q, want Qm9i (unpadded base64url of Bob)", parts[0])
	}
	if parts[1] != "1700000000" {
		t.Errorf("timestamp field = %q, want 1700000000", parts[1])
	}
	if strings.ContainsAny(parts[2], "+/=") {
		t.Errorf("signature %q is not unpadded base64url", parts[2])
	}
}

func TestTokenCodec_UnicodeName(t *testing.T) {
	codec := newTestCodec()
	session, err := codec.Verify(codec.Issue("Zoë 🎬", tokenEpoch), tokenEpoch)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if session.DisplayName != "Zoë 🎬" {
		t.Errorf("DisplayName = %q, want Zoë 🎬", session.DisplayName)
	}
}

// ---------------------------------------------------------------------------
// Expiry boundaries
// ---------------------------------------------------------------------------

func TestTokenCodec_ExpiryBoundary(t *testing.T) {
	codec := newTestCodec()
	token := codec.Issue("Alice", tokenEpoch)

	tests := []struct {
		name  string
		now   time.Time
		valid bool
	}{
		{"at issue", tokenEpoch, true},
		{"29 days", tokenEpoch.Add(29 * 24 * time.Hour), true},
		{"30 days minus one second", tokenEpoch.Add(DefaultTokenLifetime - time.Second), true},
		{"exactly 30 days", tokenEpoch.Add(DefaultTokenLifetime), true},
		{"30 days plus one second", tokenEpoch.Add(DefaultTokenLifetime + time.Second), false},
		{"31 days", tokenEpoch.Add(31 * 24 * time.Hour), false},
		{"issued in the future", tokenEpoch.Add(-time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Verify(token, tt.now)
			if tt.valid && err != nil {
				t.Errorf("Verify() error = %v, want valid", err)
			}
			if !tt.valid && err != ErrInvalidToken {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestTokenCodec_WithLifetime(t *testing.T) {
	codec := newTestCodec().WithLifetime(time.Hour)
	token := codec.Issue("Alice", tokenEpoch)

	if _, err := codec.Verify(token, tokenEpoch.Add(time.Hour)); err != nil {
		t.Errorf("Verify() at lifetime error = %v", err)
	}
	if _, err := codec.Verify(token, tokenEpoch.Add(time.Hour+time.Second)); err != ErrInvalidToken {
		t.Errorf("Verify() past lifetime error = %v, want ErrInvalidToken", err)
	}
	if got := newTestCodec().WithLifetime(0).Lifetime(); got != DefaultTokenLifetime {
		t.Errorf("WithLifetime(0).Lifetime() = %v, want default", got)
	}
}

// ---------------------------------------------------------------------------
// Tampering and malformed input
// ---------------------------------------------------------------------------

func TestTokenCodec_TamperedBytesInvalidate(t *testing.T) {
	codec := newTestCodec()
	token := codec.Issue("Alice", tokenEpoch)
	sigStart := strings.LastIndex(token, ".")

	for i := 0; i < sigStart; i++ {
		if token[i] == '.' {
			continue
		}
		replacement := byte('A')
		if token[i] == 'A' {
			replacement = 'B'
		}
		tampered := token[:i] + string(replacement) + token[i+1:]
		if _, err := codec.Verify(tampered, tokenEpoch); err != ErrInvalidToken {
			t.Errorf("tampered byte %d (%q): Verify() error = %v, want ErrInvalidToken", i, tampered, err)
		}
	}
}

func TestTokenCodec_WrongSecret(t *testing.T) {
	token := newTestCodec().Issue("Alice", tokenEpoch)
	other := NewTokenCodec("a-different-secret")
	if _, err := other.Verify(token, tokenEpoch); err != ErrInvalidToken {
		t.Errorf("Verify() with other secret error = %v, want ErrInvalidToken", err)
	}
}

func TestTokenCodec_Malformed(t *testing.T) {
	codec := newTestCodec()
	valid := codec.Issue("Alice", tokenEpoch)
	parts := strings.Split(valid, ".")

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"single field", "abc"},
		{"four fields", valid + ".extra"},
		{"non-numeric timestamp", parts[0] + ".soon." + parts[2]},
		{"empty signature", parts[0] + "." + parts[1] + "."},
		{"padded name", parts[0] + "=." + parts[1] + "." + parts[2]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := codec.Verify(tt.token, tokenEpoch); err != ErrInvalidToken {
				t.Errorf("Verify(%q) error = %v, want ErrInvalidToken", tt.token, err)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Legacy two-field tokens
// ---------------------------------------------------------------------------

func TestTokenCodec_LegacyFormat(t *testing.T) {
	codec := newTestCodec()
	legacy := "1700000000." + codec.sign("1700000000")

	session, err := codec.Verify(legacy, tokenEpoch.Add(time.Hour))
	if err != nil {
		t.Fatalf("Verify(legacy) error = %v", err)
	}
	if session.HasName || session.DisplayName != "" {
		t.Errorf("legacy session = %+v, want no display name", session)
	}

	if _, err := codec.Verify(legacy, tokenEpoch.Add(DefaultTokenLifetime+time.Second)); err != ErrInvalidToken {
		t.Errorf("expired legacy Verify() error = %v, want ErrInvalidToken", err)
	}

	forged := "1700000001." + codec.sign("1700000000")
	if _, err := codec.Verify(forged, tokenEpoch.Add(time.Hour)); err != ErrInvalidToken {
		t.Errorf("forged legacy Verify() error = %v, want ErrInvalidToken", err)
	}
}

// ---------------------------------------------------------------------------
// ExtractBearerToken
// ---------------------------------------------------------------------------

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc.123.sig", "abc.123.sig", false},
		{"Bearer   padded  ", "padded", false},
		{"", "", true},
		{"Basic dXNlcg==", "", true},
		{"Bearer ", "", true},
	}
	for _, tt := range tests {
		got, err := ExtractBearerToken(tt.header)
		if (err != nil) != tt.wantErr {
			t.Errorf("ExtractBearerToken(%q) error = %v, wantErr %v", tt.header, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ExtractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
