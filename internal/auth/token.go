// Package auth implements the shared-password login protocol: a PBKDF2
// challenge-response proof, failed-attempt throttling per client, and
// stateless HMAC-signed session tokens.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// DefaultTokenLifetime is how long an issued session token stays valid.
const DefaultTokenLifetime = 30 * 24 * time.Hour

var b64 = base64.RawURLEncoding

// Session is what a verified token says about its bearer.
type Session struct {
	DisplayName string
	// HasName is false for legacy tokens that carry no display name.
	HasName  bool
	IssuedAt time.Time
}

// TokenCodec issues and verifies session tokens of the form
//
//	base64url(name) "." unix-seconds "." base64url(HMAC-SHA256(secret, unix "." base64url(name)))
//
// and still accepts the older "unix.signature" form without a name.
type TokenCodec struct {
	secret   []byte
	lifetime time.Duration
}

// NewTokenCodec returns a codec signing with secret and the default lifetime.
func NewTokenCodec(secret string) *TokenCodec {
	return &TokenCodec{secret: []byte(secret), lifetime: DefaultTokenLifetime}
}

// WithLifetime sets the maximum token age. Non-positive values keep the default.
func (c *TokenCodec) WithLifetime(d time.Duration) *TokenCodec {
	if d > 0 {
		c.lifetime = d
	}
	return c
}

// Lifetime returns the maximum token age.
func (c *TokenCodec) Lifetime() time.Duration {
	return c.lifetime
}

// Issue signs a new token for displayName at now.
func (c *TokenCodec) Issue(displayName string, now time.Time) string {
	ts := strconv.FormatInt(now.Unix(), 10)
	name := b64.EncodeToString([]byte(displayName))
	return name + "." + ts + "." + c.sign(ts+"."+name)
}

// Verify checks signature and age. Every failure is ErrInvalidToken.
func (c *TokenCodec) Verify(token string, now time.Time) (*Session, error) {
	parts := strings.Split(token, ".")

	var (
		nameField, tsField, sig, signed string
		hasName                         bool
	)
	switch len(parts) {
	case 3:
		nameField, tsField, sig = parts[0], parts[1], parts[2]
		signed = tsField + "." + nameField
		hasName = true
	case 2:
		tsField, sig = parts[0], parts[1]
		signed = tsField
	default:
		return nil, ErrInvalidToken
	}

	issued, err := strconv.ParseInt(tsField, 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}

	if subtle.ConstantTimeCompare([]byte(c.sign(signed)), []byte(sig)) != 1 {
		return nil, ErrInvalidToken
	}

	issuedAt := time.Unix(issued, 0)
	if issuedAt.After(now) || now.Sub(issuedAt) > c.lifetime {
		return nil, ErrInvalidToken
	}

	session := &Session{IssuedAt: issuedAt}
	if hasName {
		name, err := b64.DecodeString(nameField)
		if err != nil {
			return nil, ErrInvalidToken
		}
		session.DisplayName = string(name)
		session.HasName = len(name) > 0
	}
	return session, nil
}

func (c *TokenCodec) sign(message string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(message))
	return b64.EncodeToString(mac.Sum(nil))
}

// ExtractBearerToken extracts the token from an Authorization header.
// Expected format: "Bearer <token>"
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errors.New("token is empty after Bearer prefix")
	}
	return token, nil
}
