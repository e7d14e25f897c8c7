// ABOUTME: Caller identity for tracking who is behind a request
// ABOUTME: Provides WithIdentity/FromContext for propagating identity via context

package auth

import (
	"context"
	"errors"
)

// ErrAuthRequired is the sentinel returned when an operation needs an
// authenticated caller but the request resolved to anonymous. The MCP
// envelope special-cases it into a 401 with a WWW-Authenticate challenge.
var ErrAuthRequired = errors.New("authentication required")

// Identity is the effective caller identity computed per request.
// The zero value is anonymous.
type Identity struct {
	UserID string // empty when anonymous

	// Source records how the identity was established: "session",
	// "bearer", or "" for anonymous. Informational only.
	Source string
}

// Anonymous is the identity of an unauthenticated caller.
var Anonymous = Identity{}

// IsAnonymous reports whether no user is behind the request.
func (id Identity) IsAnonymous() bool {
	return id.UserID == ""
}

// identityKey is the key type for storing Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from the context, returning
// Anonymous if not present.
func FromContext(ctx context.Context) Identity {
	val := ctx.Value(identityKey{})
	if val == nil {
		return Anonymous
	}
	id, ok := val.(Identity)
	if !ok {
		return Anonymous
	}
	return id
}
