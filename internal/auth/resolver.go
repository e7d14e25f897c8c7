// ABOUTME: Resolves the effective caller identity from a session cookie or bearer token
// ABOUTME: Session wins over bearer; unknown or expired credentials resolve to anonymous

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	"github.com/agentchess/chess-gateway/internal/store"
)

// NewOpaqueToken generates a random URL-safe credential string, used for
// both authorization codes and access tokens. The raw value goes to the
// client; only its hash is persisted.
func NewOpaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken returns the hex SHA-256 digest of a credential. Lookups are
// exact matches on this digest, never prefix or substring comparisons.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Resolver determines the caller identity for inbound requests.
type Resolver struct {
	store      store.Store
	signer     *SessionSigner
	cookieName string
	logger     *slog.Logger
}

// NewResolver creates an identity resolver.
func NewResolver(s store.Store, signer *SessionSigner, cookieName string) *Resolver {
	return &Resolver{
		store:      s,
		signer:     signer,
		cookieName: cookieName,
		logger:     slog.Default().With("component", "auth"),
	}
}

// Resolve computes the caller identity for a request. Resolution order:
// a valid first-party session cookie wins; otherwise an Authorization
// bearer token is hashed and looked up. Anything else is anonymous.
// Resolve never fails the request; bad credentials degrade to anonymous.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) Identity {
	if id, ok := r.resolveSession(ctx, req); ok {
		return id
	}
	if id, ok := r.resolveBearer(ctx, req); ok {
		return id
	}
	return Anonymous
}

// resolveSession checks the first-party session cookie.
func (r *Resolver) resolveSession(ctx context.Context, req *http.Request) (Identity, bool) {
	cookie, err := req.Cookie(r.cookieName)
	if err != nil || cookie.Value == "" {
		return Anonymous, false
	}

	userID, sessionID, err := r.signer.Verify(cookie.Value)
	if err != nil {
		r.logger.Debug("session cookie rejected", "error", err)
		return Anonymous, false
	}

	// The signed token must still map to a live session row, so that
	// logout actually revokes access before the JWT expires.
	session, err := r.store.GetSession(ctx, sessionID)
	if err != nil || session.UserID != userID {
		return Anonymous, false
	}

	return Identity{UserID: userID, Source: "session"}, true
}

// resolveBearer checks the Authorization header for a bearer token.
// The scheme match is case-insensitive and tolerant of extra whitespace.
func (r *Resolver) resolveBearer(ctx context.Context, req *http.Request) (Identity, bool) {
	raw := ExtractBearer(req.Header.Get("Authorization"))
	if raw == "" {
		return Anonymous, false
	}

	hash := HashToken(raw)
	token, err := r.store.GetAccessToken(ctx, hash)
	if err != nil {
		// Unknown and expired tokens are indistinguishable here; both
		// degrade to anonymous so gated tools produce the auth challenge.
		return Anonymous, false
	}

	// Advisory bookkeeping; failure must not fail the request.
	if err := r.store.TouchAccessToken(ctx, hash); err != nil {
		r.logger.Debug("failed to stamp token last_used_at", "error", err)
	}

	return Identity{UserID: token.UserID, Source: "bearer"}, true
}

// ExtractBearer pulls the token out of an Authorization header value.
// Returns "" when the header is absent or not a bearer credential.
func ExtractBearer(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}

	scheme, rest, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}

	return strings.TrimSpace(rest)
}
