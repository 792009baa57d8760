package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs(t *testing.T) {
	t.Run("matches the code on the error", func(t *testing.T) {
		err := New(CodeInvalidState, "cannot fund from proposed")
		assert.True(t, Is(err, CodeInvalidState))
		assert.False(t, Is(err, CodeNotFound))
	})

	t.Run("matches through wrapping", func(t *testing.T) {
		inner := New(CodeInsufficientFunds, "balance too low")
		wrapped := fmt.Errorf("fund escrow: %w", inner)
		assert.True(t, Is(wrapped, CodeInsufficientFunds))
	})

	t.Run("plain errors carry no code", func(t *testing.T) {
		assert.False(t, Is(errors.New("boom"), CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	})
}

func TestWrapPreservesChain(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeInternal, "store unavailable")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodeInternal, CodeOf(err))
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeBadRequest:        http.StatusBadRequest,
		CodeValidation:        http.StatusBadRequest,
		CodeUnauthorized:      http.StatusUnauthorized,
		CodeForbidden:         http.StatusForbidden,
		CodeNotFound:          http.StatusNotFound,
		CodeConflict:          http.StatusConflict,
		CodeInvalidState:      http.StatusConflict,
		CodeExpired:           http.StatusGone,
		CodeInsufficientFunds: http.StatusUnprocessableEntity,
		CodeInternal:          http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, ToHTTPStatus(code), string(code))
	}
}
