package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// SignedURLSigner creates and validates signed receipt download tokens.
// The token is a capability: whoever holds it may download the file it
// names until it expires, without authenticating.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SignedURLSigner{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// Generate returns a signed token referencing the payment and its
// archived receipt path, plus the token's expiry.
func (s *SignedURLSigner) Generate(paymentID, relPath string) (string, time.Time, error) {
	if paymentID == "" || relPath == "" {
		return "", time.Time{}, fmt.Errorf("paymentID and relPath required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := time.Now().Add(s.ttl)
	encodedPath := base64.RawURLEncoding.EncodeToString([]byte(relPath))
	signature := s.sign(paymentID, expiresAt.Unix(), encodedPath)
	token := strings.Join([]string{paymentID, fmt.Sprintf("%d", expiresAt.Unix()), encodedPath, signature}, ".")
	return token, expiresAt, nil
}

// Parse validates a token and returns the embedded payment id, receipt
// path and expiry. Expired or tampered tokens fail.
func (s *SignedURLSigner) Parse(token string) (paymentID, relPath string, expiresAt time.Time, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return "", "", time.Time{}, fmt.Errorf("invalid token format")
	}
	paymentID = parts[0]
	encodedPath := parts[2]

	rawPath, err := base64.RawURLEncoding.DecodeString(encodedPath)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("decode path: %w", err)
	}

	var expUnix int64
	if _, err := fmt.Sscanf(parts[1], "%d", &expUnix); err != nil {
		return "", "", time.Time{}, fmt.Errorf("invalid timestamp")
	}
	expiresAt = time.Unix(expUnix, 0)

	expected := s.sign(paymentID, expUnix, encodedPath)
	if !hmac.Equal([]byte(expected), []byte(parts[3])) {
		return "", "", time.Time{}, fmt.Errorf("invalid token signature")
	}
	if time.Now().After(expiresAt) {
		return "", "", time.Time{}, fmt.Errorf("token expired")
	}
	return paymentID, string(rawPath), expiresAt, nil
}

func (s *SignedURLSigner) sign(paymentID string, expUnix int64, encodedPath string) string {
	payload := fmt.Sprintf("%s|%d|%s", paymentID, expUnix, encodedPath)
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
