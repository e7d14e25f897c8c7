// ABOUTME: OAuth discovery metadata endpoints for MCP clients
// ABOUTME: Base URL derivation handles proxies via forwarded headers

package oauth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// BaseURL derives the externally visible base URL for a request.
// Priority: configured public URL, then forwarded headers set by a
// proxy or tunnel, then the request itself.
func BaseURL(r *http.Request, publicURL string) string {
	if publicURL != "" {
		return strings.TrimRight(publicURL, "/")
	}

	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		if r.TLS != nil {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}

	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}

	return scheme + "://" + host
}

// handleProtectedResourceMetadata serves RFC 9728 protected resource
// metadata so clients can find the authorization server.
func (s *Server) handleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	if done := corsHeaders(w, r, s.cfg.AllowedOrigins); done {
		return
	}

	base := BaseURL(r, s.cfg.PublicURL)
	s.writeMetadata(w, map[string]any{
		"resource":                 base,
		"authorization_servers":    []string{base},
		"bearer_methods_supported": []string{"header"},
		"scopes_supported":         []string{ScopeMCPTools},
	})
}

// handleAuthServerMetadata serves RFC 8414 authorization server metadata.
func (s *Server) handleAuthServerMetadata(w http.ResponseWriter, r *http.Request) {
	if done := corsHeaders(w, r, s.cfg.AllowedOrigins); done {
		return
	}

	base := BaseURL(r, s.cfg.PublicURL)
	s.writeMetadata(w, map[string]any{
		"issuer":                                base,
		"authorization_endpoint":                base + "/oauth/authorize",
		"token_endpoint":                        base + "/oauth/token",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code"},
		"code_challenge_methods_supported":      []string{MethodS256, MethodPlain},
		"scopes_supported":                      []string{ScopeMCPTools},
		"token_endpoint_auth_methods_supported": []string{"none", "client_secret_basic", "client_secret_post"},
	})
}

func (s *Server) writeMetadata(w http.ResponseWriter, doc map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		s.logger.Warn("failed to encode metadata document", "error", err)
	}
}
