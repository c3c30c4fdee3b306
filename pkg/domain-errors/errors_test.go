package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeInternal, "failed to check rate limit")

	require.ErrorIs(t, err, cause)
	assert.Equal(t, CodeInternal, CodeOf(err))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeEmptyContext, CodeOf(New(CodeEmptyContext, "context must not be empty")))
	assert.Equal(t, CodeTimeout, CodeOf(fmt.Errorf("outer: %w", New(CodeTimeout, "deadline passed"))))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("uncoded")), "uncoded errors default to internal")
}

func TestIs(t *testing.T) {
	err := New(CodeRateLimited, "verification quota exhausted")
	assert.True(t, Is(err, CodeRateLimited))
	assert.False(t, Is(err, CodeForbidden))
	assert.False(t, Is(errors.New("uncoded"), CodeRateLimited))
}

func TestWithField(t *testing.T) {
	err := New(CodeContextTooLarge, "too large").
		WithField("max_bytes", 1048576).
		WithField("actual_bytes", 2097152)

	assert.Equal(t, 1048576, err.Fields["max_bytes"])
	assert.Equal(t, 2097152, err.Fields["actual_bytes"])
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeBadRequest:             http.StatusBadRequest,
		CodeInvalidPublicKey:       http.StatusBadRequest,
		CodeInvalidSignatureFormat: http.StatusBadRequest,
		CodeVerificationFailed:     http.StatusBadRequest,
		CodeEmptyContext:           http.StatusBadRequest,
		CodeContextTooLarge:        http.StatusBadRequest,
		CodeUnsupportedAlgorithm:   http.StatusBadRequest,
		CodeUnauthorized:           http.StatusUnauthorized,
		CodeForbidden:              http.StatusForbidden,
		CodeNotFound:               http.StatusNotFound,
		CodeRateLimited:            http.StatusTooManyRequests,
		CodeTimeout:                http.StatusGatewayTimeout,
		CodeInternal:               http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, ToHTTPStatus(code), "code %s", code)
	}
}
