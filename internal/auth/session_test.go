// ABOUTME: Tests for session token signing and verification

package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	signer := NewSessionSigner([]byte("secret"))

	token, err := signer.Sign("alice", "sess-1", time.Hour)
	require.NoError(t, err)

	userID, sessionID, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)
	assert.Equal(t, "sess-1", sessionID)
}

func TestVerifyWrongSecret(t *testing.T) {
	signer := NewSessionSigner([]byte("secret"))
	other := NewSessionSigner([]byte("other"))

	token, err := signer.Sign("alice", "sess-1", time.Hour)
	require.NoError(t, err)

	_, _, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidSessionToken)
}

func TestVerifyExpired(t *testing.T) {
	signer := NewSessionSigner([]byte("secret"))

	token, err := signer.Sign("alice", "sess-1", -time.Minute)
	require.NoError(t, err)

	_, _, err = signer.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredSessionToken)
}

func TestVerifyGarbage(t *testing.T) {
	signer := NewSessionSigner([]byte("secret"))

	_, _, err := signer.Verify("not.a.jwt")
	assert.Error(t, err)
}
