package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLRoundTrip(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)

	token, expiresAt, err := signer.Generate("payment-1", "tenant-1/payment-1.pdf")
	require.NoError(t, err)
	require.True(t, expiresAt.After(time.Now()))

	paymentID, relPath, parsedExpiry, err := signer.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "payment-1", paymentID)
	require.Equal(t, "tenant-1/payment-1.pdf", relPath)
	require.WithinDuration(t, expiresAt, parsedExpiry, time.Second)
}

func TestSignedURLRejectsTampering(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Generate("payment-1", "tenant-1/payment-1.pdf")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	parts[0] = "payment-2"
	_, _, _, err = signer.Parse(strings.Join(parts, "."))
	require.Error(t, err)

	_, _, _, err = signer.Parse("not-a-token")
	require.Error(t, err)
}

func TestSignedURLRejectsWrongSecret(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Generate("payment-1", "tenant-1/payment-1.pdf")
	require.NoError(t, err)

	other := NewSignedURLSigner("another", time.Hour)
	_, _, _, err = other.Parse(token)
	require.Error(t, err)
}

func TestSignedURLExpires(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Millisecond)
	token, _, err := signer.Generate("payment-1", "tenant-1/payment-1.pdf")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, _, _, err = signer.Parse(token)
	require.ErrorContains(t, err, "expired")
}

func TestSignedURLRequiresSecret(t *testing.T) {
	signer := NewSignedURLSigner("", time.Hour)
	_, _, err := signer.Generate("payment-1", "tenant-1/payment-1.pdf")
	require.Error(t, err)
}
