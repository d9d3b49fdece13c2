package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConstructorsCarryStatusAndCode(t *testing.T) {
	cases := []struct {
		err    *Error
		code   Code
		status int
	}{
		{InvalidCredentials("Invalid password"), CodeInvalidCredentials, http.StatusUnauthorized},
		{InvalidToken(), CodeInvalidToken, http.StatusUnauthorized},
		{TokenExpired(), CodeTokenExpired, http.StatusUnauthorized},
		{Unauthorized(""), CodeUnauthorized, http.StatusUnauthorized},
		{InsufficientPermissions("nope"), CodeInsufficientPermissions, http.StatusForbidden},
		{UserNotFound("a@test.com"), CodeUserNotFound, http.StatusNotFound},
		{UserNotActive("a@test.com"), CodeUserNotActive, http.StatusNotFound},
		{DuplicateResource("dup"), CodeDuplicateResource, http.StatusConflict},
		{BadRequest("bad fk", nil), CodeBadRequest, http.StatusBadRequest},
		{InternalServerError(""), CodeInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.code, tc.err.Code)
		require.Equal(t, tc.status, tc.err.Status)
		require.NotEmpty(t, tc.err.Message)
		require.False(t, tc.err.Timestamp.IsZero())
	}
}

func TestCodeOfUnwrapsChain(t *testing.T) {
	wrapped := fmt.Errorf("refresh: %w", InvalidToken())
	require.Equal(t, CodeInvalidToken, CodeOf(wrapped))
	require.True(t, Is(wrapped, CodeInvalidToken))
	require.False(t, Is(wrapped, CodeTokenExpired))

	require.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}

func TestWithCauseIsUnwrappable(t *testing.T) {
	cause := errors.New("duplicate key value violates unique constraint")
	err := DuplicateResource("Duplicate value for field(s): email").WithCause(cause)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "DUPLICATE_RESOURCE")
}
