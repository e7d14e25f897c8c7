// ABOUTME: Signed session cookie handling for first-party browser logins
// ABOUTME: Uses HS256 JWTs carrying a session id that is checked against the store

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session token errors
var (
	ErrInvalidSessionToken = errors.New("invalid session token")
	ErrExpiredSessionToken = errors.New("session token expired")
	ErrMissingClaim        = errors.New("missing required claim")
)

// SessionSigner mints and verifies the signed tokens carried by the
// first-party session cookie. The token alone is not sufficient for
// authentication: the sid claim must still resolve to a live session row,
// which is what makes logout effective.
type SessionSigner struct {
	secret []byte
}

// NewSessionSigner creates a signer with the given secret.
func NewSessionSigner(secret []byte) *SessionSigner {
	return &SessionSigner{secret: secret}
}

// Sign creates a session token for the given user and session id.
func (s *SessionSigner) Sign(userID, sessionID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"sid": sessionID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify validates a session token and extracts the user and session ids.
func (s *SessionSigner) Verify(tokenString string) (userID, sessionID string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", "", ErrExpiredSessionToken
		}
		return "", "", fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}

	if !token.Valid {
		return "", "", ErrInvalidSessionToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", ErrInvalidSessionToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	sid, ok := claims["sid"].(string)
	if !ok || sid == "" {
		return "", "", fmt.Errorf("%w: sid", ErrMissingClaim)
	}

	return sub, sid, nil
}
