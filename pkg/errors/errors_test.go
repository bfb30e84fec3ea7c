package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromErrorNormalises(t *testing.T) {
	require.Nil(t, FromError(nil))

	typed := FromError(ErrNotFound)
	require.Equal(t, ErrNotFound.Code, typed.Code)

	wrapped := FromError(fmt.Errorf("outer: %w", ErrExpired))
	require.Equal(t, ErrExpired.Code, wrapped.Code)

	plain := FromError(errors.New("boom"))
	require.Equal(t, ErrInternal.Code, plain.Code)
	require.Equal(t, ErrInternal.Status, plain.Status)
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(ErrTransient))
	require.True(t, IsRetryable(Wrap(errors.New("timeout"), ErrTransient.Code, ErrTransient.Status, "gateway unavailable")))

	require.False(t, IsRetryable(ErrNotFound))
	require.False(t, IsRetryable(ErrExhausted))
	require.False(t, IsRetryable(errors.New("unclassified")))
	require.False(t, IsRetryable(nil))
}

func TestIsPolicyRejection(t *testing.T) {
	for _, err := range []*Error{ErrExpired, ErrExhausted, ErrOutsideFence, ErrLowConfidence, ErrUnauthorized, ErrForbidden} {
		require.True(t, IsPolicyRejection(err), err.Code)
	}

	require.False(t, IsPolicyRejection(ErrValidation))
	require.False(t, IsPolicyRejection(ErrTransient))
	require.False(t, IsPolicyRejection(ErrInternal))
	require.False(t, IsPolicyRejection(errors.New("plain")))

	// Wrapping keeps the classification visible.
	require.True(t, IsPolicyRejection(fmt.Errorf("submit: %w", ErrOutsideFence)))
}
