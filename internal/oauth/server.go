// ABOUTME: OAuth 2.0 authorization server: authorize and token endpoints
// ABOUTME: Authorization-code grant with PKCE; codes and tokens persisted hash-only

package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/agentchess/chess-gateway/internal/auth"
	"github.com/agentchess/chess-gateway/internal/config"
	"github.com/agentchess/chess-gateway/internal/store"
)

// Grant lifetimes.
const (
	CodeTTL  = 5 * time.Minute
	TokenTTL = 60 * time.Minute
)

// ScopeMCPTools is the default scope granted when a request omits one.
const ScopeMCPTools = "mcp:tools"

// Server implements the OAuth authorization server endpoints.
type Server struct {
	store    store.OAuthStore
	resolver *auth.Resolver
	cfg      config.OAuthConfig
	logger   *slog.Logger
}

// NewServer creates the OAuth server.
func NewServer(s store.OAuthStore, resolver *auth.Resolver, cfg config.OAuthConfig) *Server {
	return &Server{
		store:    s,
		resolver: resolver,
		cfg:      cfg,
		logger:   slog.Default().With("component", "oauth"),
	}
}

// RegisterRoutes registers the OAuth and discovery endpoints.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/oauth/authorize", s.handleAuthorize)
	mux.HandleFunc("/oauth/token", s.handleToken)
	mux.HandleFunc("/.well-known/oauth-protected-resource", s.handleProtectedResourceMetadata)
	mux.HandleFunc("/.well-known/oauth-authorization-server", s.handleAuthServerMetadata)
}

// handleAuthorize implements the authorization endpoint. Failure routing
// is deliberate: until the redirect_uri has been validated, errors are
// terminal JSON responses; afterwards they are reported by redirecting
// back to the client per OAuth convention.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	state := q.Get("state")

	if clientID == "" || redirectURI == "" {
		s.terminalError(w, "invalid_request", "client_id and redirect_uri are required")
		return
	}

	target, err := url.Parse(redirectURI)
	if err != nil || !target.IsAbs() || (target.Scheme != "http" && target.Scheme != "https") || target.Fragment != "" {
		s.terminalError(w, "invalid_request", "redirect_uri must be an absolute http or https URL without a fragment")
		return
	}

	// redirect_uri is trusted from here on; report errors to the client.
	if q.Get("response_type") != "code" {
		s.redirectError(w, r, target, state, "unsupported_response_type", "only response_type=code is supported")
		return
	}

	challenge := q.Get("code_challenge")
	if challenge == "" {
		s.redirectError(w, r, target, state, "invalid_request", "code_challenge is required")
		return
	}
	if !ValidChallenge(challenge) {
		s.redirectError(w, r, target, state, "invalid_request", "code_challenge must be 43-128 unreserved characters")
		return
	}

	method := q.Get("code_challenge_method")
	if method == "" {
		method = s.cfg.DefaultChallengeMethod
	}
	if !ValidChallengeMethod(method) {
		s.redirectError(w, r, target, state, "invalid_request", "code_challenge_method must be S256 or plain")
		return
	}

	if !s.clientAllowed(clientID) {
		s.redirectError(w, r, target, state, "unauthorized_client", "client is not authorized")
		return
	}

	identity := s.resolver.Resolve(r.Context(), r)
	if identity.Source != "session" {
		s.redirectToSignin(w, r)
		return
	}

	scope := q.Get("scope")
	if scope == "" {
		scope = ScopeMCPTools
	}

	code, err := s.mintCode(r.Context(), identity.UserID, clientID, redirectURI, challenge, method, scope, q.Get("resource"))
	if err != nil {
		s.logger.Error("failed to mint authorization code", "error", err)
		s.redirectError(w, r, target, state, "server_error", "failed to issue authorization code")
		return
	}

	dest := *target
	destQuery := dest.Query()
	destQuery.Set("code", code)
	if state != "" {
		destQuery.Set("state", state)
	}
	dest.RawQuery = destQuery.Encode()

	s.logger.Info("authorization code issued", "client_id", clientID, "user_id", identity.UserID)
	http.Redirect(w, r, dest.String(), http.StatusFound)
}

// mintCode creates an authorization code bound to the user, stores its
// hash, and returns the raw value for the redirect.
func (s *Server) mintCode(ctx context.Context, userID, clientID, redirectURI, challenge, method, scope, resource string) (string, error) {
	code, err := auth.NewOpaqueToken()
	if err != nil {
		return "", err
	}

	now := time.Now()
	err = s.store.CreateAuthCode(ctx, &store.AuthCode{
		CodeHash:        auth.HashToken(code),
		UserID:          userID,
		ClientID:        clientID,
		RedirectURI:     redirectURI,
		CodeChallenge:   challenge,
		ChallengeMethod: method,
		Scope:           scope,
		Resource:        resource,
		CreatedAt:       now,
		ExpiresAt:       now.Add(CodeTTL),
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

// redirectToSignin sends the caller to the identity provider's sign-in
// page with a callback that re-enters /oauth/authorize carrying the
// full original query string.
func (s *Server) redirectToSignin(w http.ResponseWriter, r *http.Request) {
	reentry := BaseURL(r, s.cfg.PublicURL) + "/oauth/authorize?" + r.URL.RawQuery

	signin, err := url.Parse(s.cfg.SigninURL)
	if err != nil || s.cfg.SigninURL == "" {
		// No identity provider configured; the caller cannot sign in here.
		s.terminalError(w, "access_denied", "no sign-in flow is configured")
		return
	}

	q := signin.Query()
	q.Set("redirect_uri", reentry)
	signin.RawQuery = q.Encode()

	http.Redirect(w, r, signin.String(), http.StatusFound)
}

// handleToken implements the token endpoint.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if done := corsHeaders(w, r, s.cfg.AllowedOrigins); done {
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST, OPTIONS")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	req, err := parseTokenRequest(r)
	if err != nil {
		s.tokenError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if req.GrantType != "authorization_code" {
		s.tokenError(w, http.StatusBadRequest, "unsupported_grant_type", "only authorization_code is supported")
		return
	}
	if req.Code == "" || req.CodeVerifier == "" {
		s.tokenError(w, http.StatusBadRequest, "invalid_request", "code and code_verifier are required")
		return
	}
	if !ValidVerifier(req.CodeVerifier) {
		s.tokenError(w, http.StatusBadRequest, "invalid_request", "code_verifier must be 43-128 unreserved characters")
		return
	}

	if req.ClientID != "" && !s.clientAllowed(req.ClientID) {
		s.tokenError(w, http.StatusBadRequest, "unauthorized_client", "client is not authorized")
		return
	}

	if err := s.checkClientSecret(req.ClientID, req.ClientSecret); err != nil {
		s.tokenError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return
	}

	codeHash := auth.HashToken(req.Code)
	code, err := s.store.GetAuthCode(r.Context(), codeHash)
	if err != nil {
		s.tokenError(w, http.StatusBadRequest, "invalid_grant", "authorization code is invalid")
		return
	}

	now := time.Now()
	if now.After(code.ExpiresAt) || code.UsedAt != nil {
		s.tokenError(w, http.StatusBadRequest, "invalid_grant", "authorization code is expired or already used")
		return
	}
	if code.ClientID != req.ClientID || code.RedirectURI != req.RedirectURI {
		s.tokenError(w, http.StatusBadRequest, "invalid_grant", "client_id or redirect_uri does not match the authorization request")
		return
	}
	if err := VerifyChallenge(code.ChallengeMethod, code.CodeChallenge, req.CodeVerifier); err != nil {
		s.tokenError(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
		return
	}

	// Single-use enforcement: the conditional update is the arbiter when
	// two exchanges race; the loser sees ErrCodeUsed.
	if err := s.store.RedeemAuthCode(r.Context(), codeHash); err != nil {
		if errors.Is(err, store.ErrCodeUsed) || errors.Is(err, store.ErrNotFound) {
			s.tokenError(w, http.StatusBadRequest, "invalid_grant", "authorization code is expired or already used")
			return
		}
		s.logger.Error("failed to redeem authorization code", "error", err)
		s.tokenError(w, http.StatusInternalServerError, "server_error", "failed to redeem authorization code")
		return
	}

	token, err := auth.NewOpaqueToken()
	if err != nil {
		s.tokenError(w, http.StatusInternalServerError, "server_error", "failed to issue token")
		return
	}

	err = s.store.CreateAccessToken(r.Context(), &store.AccessToken{
		TokenHash: auth.HashToken(token),
		UserID:    code.UserID,
		ClientID:  code.ClientID,
		Scope:     code.Scope,
		Resource:  code.Resource,
		CreatedAt: now,
		ExpiresAt: now.Add(TokenTTL),
	})
	if err != nil {
		s.logger.Error("failed to store access token", "error", err)
		s.tokenError(w, http.StatusInternalServerError, "server_error", "failed to issue token")
		return
	}

	s.logger.Info("access token issued", "client_id", code.ClientID, "user_id", code.UserID)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(TokenTTL.Seconds()),
		"scope":        code.Scope,
	}); err != nil {
		s.logger.Warn("failed to encode token response", "error", err)
	}
}

// clientAllowed checks the client_id allow-list. An empty list allows all.
func (s *Server) clientAllowed(clientID string) bool {
	if len(s.cfg.AllowedClients) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedClients {
		if allowed == clientID {
			return true
		}
	}
	return false
}

// checkClientSecret verifies the client secret for confidential clients.
// Clients without a configured secret are public and verify via PKCE alone.
func (s *Server) checkClientSecret(clientID, secret string) error {
	hash, ok := s.cfg.ClientSecrets[clientID]
	if !ok {
		return nil
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
}

// terminalError writes a JSON error response. Used before the
// redirect_uri is trusted.
func (s *Server) terminalError(w http.ResponseWriter, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// redirectError reports a failure by redirecting back to the client.
func (s *Server) redirectError(w http.ResponseWriter, r *http.Request, target *url.URL, state, code, description string) {
	dest := *target
	q := dest.Query()
	q.Set("error", code)
	q.Set("error_description", description)
	if state != "" {
		q.Set("state", state)
	}
	dest.RawQuery = q.Encode()
	http.Redirect(w, r, dest.String(), http.StatusFound)
}

// tokenError writes an OAuth error response from the token endpoint.
func (s *Server) tokenError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}
