package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func testKey() []byte {
	return bytes.Repeat([]byte("k"), 32)
}

func mustCipher(t *testing.T) *TokenCipher {
	t.Helper()
	tc, err := NewTokenCipher(testKey())
	if err != nil {
		t.Fatalf("NewTokenCipher() error: %v", err)
	}
	return tc
}

func TestNewTokenCipher_KeyLength(t *testing.T) {
	for _, n := range []int{0, 16, 31, 33, 64} {
		if _, err := NewTokenCipher(make([]byte, n)); err != ErrKeyLengthInvalid {
			t.Errorf("NewTokenCipher(len=%d) error = %v, want %v", n, err, ErrKeyLengthInvalid)
		}
	}
}

func TestNewTokenCipher_IsolatesKey(t *testing.T) {
	key := testKey()
	tc, err := NewTokenCipher(key)
	if err != nil {
		t.Fatalf("NewTokenCipher() error: %v", err)
	}
	sealed, _ := tc.Seal("tvdb_token", "bearer-value")
	for i := range key {
		key[i] = 0
	}
	got, err := tc.Open("tvdb_token", sealed)
	if err != nil || got != "bearer-value" {
		t.Errorf("Open() after key mutation = %q, %v", got, err)
	}
}

func TestDeriveTokenCipher_ShortSalt(t *testing.T) {
	if _, err := DeriveTokenCipher("pass", []byte("short"), MinIterations); err != ErrSaltTooShort {
		t.Errorf("DeriveTokenCipher() error = %v, want %v", err, ErrSaltTooShort)
	}
}

func TestSettingsCipher_StableAcrossInstances(t *testing.T) {
	a, err := SettingsCipher("server-secret")
	if err != nil {
		t.Fatalf("SettingsCipher() error: %v", err)
	}
	b, err := SettingsCipher("server-secret")
	if err != nil {
		t.Fatalf("SettingsCipher() error: %v", err)
	}
	sealed, err := a.Seal("tvdb_token", "eyJhbGciOi")
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	got, err := b.Open("tvdb_token", sealed)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if got != "eyJhbGciOi" {
		t.Errorf("Open() = %q, want eyJhbGciOi", got)
	}
}

func TestSealAndOpen(t *testing.T) {
	tc := mustCipher(t)
	for _, plaintext := range []string{"a", "token with spaces", strings.Repeat("x", 4096), "ünïcödé"} {
		sealed, err := tc.Seal("label", plaintext)
		if err != nil {
			t.Fatalf("Seal() error: %v", err)
		}
		if sealed == plaintext {
			t.Error("Seal() returned the plaintext")
		}
		got, err := tc.Open("label", sealed)
		if err != nil {
			t.Fatalf("Open() error: %v", err)
		}
		if got != plaintext {
			t.Errorf("Open() = %q, want %q", got, plaintext)
		}
	}
}

func TestSeal_EmptyString(t *testing.T) {
	tc := mustCipher(t)
	sealed, err := tc.Seal("label", "")
	if err != nil || sealed != "" {
		t.Errorf("Seal(\"\") = %q, %v; want empty, nil", sealed, err)
	}
	opened, err := tc.Open("label", "")
	if err != nil || opened != "" {
		t.Errorf("Open(\"\") = %q, %v; want empty, nil", opened, err)
	}
}

func TestSeal_NonDeterministic(t *testing.T) {
	tc := mustCipher(t)
	a, _ := tc.Seal("label", "same")
	b, _ := tc.Seal("label", "same")
	if a == b {
		t.Error("Seal() produced identical ciphertexts; nonce is not random")
	}
}

func TestOpen_Errors(t *testing.T) {
	tc := mustCipher(t)
	sealed, _ := tc.Seal("tvdb_token", "secret")

	tests := []struct {
		name    string
		label   string
		input   string
		wantErr error
	}{
		{"invalid base64", "tvdb_token", "!!!not-base64!!!", ErrCiphertextCorrupted},
		{"too short", "tvdb_token", "AAAA", ErrCiphertextCorrupted},
		{"wrong label", "trending_key", sealed, ErrDecryptionFailed},
		{"tampered", "tvdb_token", sealed[:len(sealed)-4] + "AAAA", ErrDecryptionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tc.Open(tt.label, tt.input); err != tt.wantErr {
				t.Errorf("Open() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestOpen_WrongKey(t *testing.T) {
	tc := mustCipher(t)
	other, _ := NewTokenCipher(bytes.Repeat([]byte("z"), 32))
	sealed, _ := tc.Seal("label", "secret")
	if _, err := other.Open("label", sealed); err != ErrDecryptionFailed {
		t.Errorf("Open() with wrong key error = %v, want %v", err, ErrDecryptionFailed)
	}
}
