// ABOUTME: PKCE challenge verification (RFC 7636)
// ABOUTME: Supports S256 and plain methods with strict verifier syntax checks

package oauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// PKCE challenge methods.
const (
	MethodPlain = "plain"
	MethodS256  = "S256"
)

// ValidChallengeMethod reports whether the method is one we support.
func ValidChallengeMethod(method string) bool {
	return method == MethodPlain || method == MethodS256
}

// ValidVerifier checks the code_verifier syntax from RFC 7636 section
// 4.1: 43 to 128 characters from the unreserved set.
func ValidVerifier(verifier string) bool {
	if len(verifier) < 43 || len(verifier) > 128 {
		return false
	}
	for i := 0; i < len(verifier); i++ {
		c := verifier[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '.' || c == '_' || c == '~':
		default:
			return false
		}
	}
	return true
}

// ValidChallenge checks code_challenge syntax at issuance. Both methods
// produce challenges in the verifier character set: plain echoes the
// verifier and an S256 digest is 43 base64url characters, so a challenge
// outside these bounds can never verify and must be rejected up front.
func ValidChallenge(challenge string) bool {
	return ValidVerifier(challenge)
}

// VerifyChallenge checks a code_verifier against the stored challenge.
// For S256 the challenge is the unpadded base64url SHA-256 of the
// verifier; for plain it is the verifier itself.
func VerifyChallenge(method, challenge, verifier string) error {
	if !ValidVerifier(verifier) {
		return fmt.Errorf("code_verifier must be 43-128 unreserved characters")
	}

	switch method {
	case MethodS256:
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
			return fmt.Errorf("code_verifier does not match challenge")
		}
	case MethodPlain:
		if subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) != 1 {
			return fmt.Errorf("code_verifier does not match challenge")
		}
	default:
		return fmt.Errorf("unsupported code_challenge_method %q", method)
	}
	return nil
}
