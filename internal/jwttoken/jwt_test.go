package jwttoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "escrowd/pkg/domain-errors"
)

func TestRoundTrip(t *testing.T) {
	svc := New("test-key", "escrowd", "escrowd-api")

	token, err := svc.GenerateToken("alice", time.Minute)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Party)
	assert.NotEmpty(t, claims.SessionID)
}

func TestExpiredToken(t *testing.T) {
	svc := New("test-key", "escrowd", "escrowd-api")

	token, err := svc.GenerateToken("alice", -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeUnauthorized))
}

func TestWrongKey(t *testing.T) {
	issuer := New("key-a", "escrowd", "escrowd-api")
	verifier := New("key-b", "escrowd", "escrowd-api")

	token, err := issuer.GenerateToken("alice", time.Minute)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.Error(t, err)
}
