// ABOUTME: Tests for the OAuth authorize and token endpoints
// ABOUTME: Covers failure routing, PKCE exchange, single-use codes, CORS, discovery

package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/agentchess/chess-gateway/internal/auth"
	"github.com/agentchess/chess-gateway/internal/config"
	"github.com/agentchess/chess-gateway/internal/store"
)

const (
	testCookieName = "chess_session"
	testVerifier   = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	testRedirect   = "https://client.example/cb"
)

type fixture struct {
	store  store.Store
	signer *auth.SessionSigner
	mux    *http.ServeMux
}

func newFixture(t *testing.T, mutate func(*config.OAuthConfig)) *fixture {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	signer := auth.NewSessionSigner([]byte("test-secret"))
	resolver := auth.NewResolver(st, signer, testCookieName)

	cfg := config.OAuthConfig{
		SigninURL:              "https://id.example/signin",
		DefaultChallengeMethod: "plain",
		AllowedOrigins:         []string{"https://agent.example"},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	mux := http.NewServeMux()
	NewServer(st, resolver, cfg).RegisterRoutes(mux)

	return &fixture{store: st, signer: signer, mux: mux}
}

// signedInCookie creates a session row and returns its cookie.
func (f *fixture) signedInCookie(t *testing.T, userID string) *http.Cookie {
	t.Helper()
	now := time.Now()
	sessionID := "sess-" + userID
	require.NoError(t, f.store.CreateSession(context.Background(), &store.Session{
		ID:        sessionID,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}))

	value, err := f.signer.Sign(userID, sessionID, time.Hour)
	require.NoError(t, err)
	return &http.Cookie{Name: testCookieName, Value: value}
}

func authorizeQuery(overrides map[string]string) url.Values {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", "mcp-client")
	q.Set("redirect_uri", testRedirect)
	q.Set("state", "xyz")
	q.Set("code_challenge", testVerifier)
	q.Set("code_challenge_method", "plain")
	for k, v := range overrides {
		if v == "" {
			q.Del(k)
		} else {
			q.Set(k, v)
		}
	}
	return q
}

func (f *fixture) authorize(t *testing.T, q url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/oauth/authorize?"+q.Encode(), nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

// obtainCode runs a successful authorize and returns the issued code.
func (f *fixture) obtainCode(t *testing.T, userID string) string {
	t.Helper()
	rec := f.authorize(t, authorizeQuery(nil), f.signedInCookie(t, userID))
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)
	require.Equal(t, "xyz", loc.Query().Get("state"))
	return code
}

func (f *fixture) exchange(t *testing.T, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func tokenForm(code string) url.Values {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", "mcp-client")
	form.Set("redirect_uri", testRedirect)
	form.Set("code_verifier", testVerifier)
	return form
}

func oauthError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func redirectedError(t *testing.T, rec *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	return loc.Query().Get("error"), loc.Query().Get("state")
}

func TestAuthorizeMissingClientOrRedirect(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.authorize(t, authorizeQuery(map[string]string{"client_id": ""}), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", oauthError(t, rec))

	rec = f.authorize(t, authorizeQuery(map[string]string{"redirect_uri": ""}), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthorizeRejectsUntrustedRedirect(t *testing.T) {
	f := newFixture(t, nil)

	for _, bad := range []string{"/relative/path", "ftp://client.example/cb", "https://client.example/cb#frag"} {
		rec := f.authorize(t, authorizeQuery(map[string]string{"redirect_uri": bad}), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "redirect_uri=%s", bad)
	}
}

func TestAuthorizeErrorsByRedirect(t *testing.T) {
	f := newFixture(t, func(cfg *config.OAuthConfig) {
		cfg.AllowedClients = []string{"mcp-client"}
	})

	tests := []struct {
		name      string
		overrides map[string]string
		wantError string
	}{
		{"wrong response type", map[string]string{"response_type": "token"}, "unsupported_response_type"},
		{"missing challenge", map[string]string{"code_challenge": ""}, "invalid_request"},
		{"short challenge", map[string]string{"code_challenge": "abc"}, "invalid_request"},
		{"challenge with bad characters", map[string]string{"code_challenge": strings.Repeat("a", 42) + "!"}, "invalid_request"},
		{"bad method", map[string]string{"code_challenge_method": "sha1"}, "invalid_request"},
		{"disallowed client", map[string]string{"client_id": "intruder"}, "unauthorized_client"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.authorize(t, authorizeQuery(tt.overrides), nil)
			errCode, state := redirectedError(t, rec)
			assert.Equal(t, tt.wantError, errCode)
			assert.Equal(t, "xyz", state)
		})
	}
}

func TestAuthorizeRedirectsAnonymousToSignin(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.authorize(t, authorizeQuery(nil), nil)
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "id.example", loc.Host)

	// The re-entry callback must carry the full original query.
	reentry, err := url.Parse(loc.Query().Get("redirect_uri"))
	require.NoError(t, err)
	assert.Equal(t, "/oauth/authorize", reentry.Path)
	assert.Equal(t, "mcp-client", reentry.Query().Get("client_id"))
	assert.Equal(t, "xyz", reentry.Query().Get("state"))
}

func TestAuthorizeRejectsMalformedChallengeWhenSignedIn(t *testing.T) {
	f := newFixture(t, nil)

	// A signed-in user must not get a code for a challenge that can
	// never verify at the token endpoint.
	rec := f.authorize(t, authorizeQuery(map[string]string{"code_challenge": "abc"}), f.signedInCookie(t, "alice"))
	errCode, state := redirectedError(t, rec)
	assert.Equal(t, "invalid_request", errCode)
	assert.Equal(t, "xyz", state)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Empty(t, loc.Query().Get("code"))
}

func TestFullCodeExchange(t *testing.T) {
	f := newFixture(t, nil)
	code := f.obtainCode(t, "alice")

	rec := f.exchange(t, tokenForm(code))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var body struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
		Scope       string `json:"scope"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.AccessToken)
	assert.Equal(t, "Bearer", body.TokenType)
	assert.Equal(t, 3600, body.ExpiresIn)
	assert.Equal(t, ScopeMCPTools, body.Scope)

	// The issued token resolves to the signed-in user.
	token, err := f.store.GetAccessToken(context.Background(), auth.HashToken(body.AccessToken))
	require.NoError(t, err)
	assert.Equal(t, "alice", token.UserID)
}

func TestCodeIsSingleUse(t *testing.T) {
	f := newFixture(t, nil)
	code := f.obtainCode(t, "alice")

	rec := f.exchange(t, tokenForm(code))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.exchange(t, tokenForm(code))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", oauthError(t, rec))
}

func TestConcurrentExchangeRedeemsOnce(t *testing.T) {
	f := newFixture(t, nil)
	code := f.obtainCode(t, "alice")

	results := make(chan *httptest.ResponseRecorder, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- f.exchange(t, tokenForm(code))
		}()
	}
	wg.Wait()
	close(results)

	var granted, denied int
	for rec := range results {
		switch rec.Code {
		case http.StatusOK:
			granted++
		case http.StatusBadRequest:
			assert.Equal(t, "invalid_grant", oauthError(t, rec))
			denied++
		default:
			t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
		}
	}
	assert.Equal(t, 1, granted, "exactly one exchange should succeed")
	assert.Equal(t, 1, denied, "the racing exchange should get invalid_grant")
}

func TestTokenRejectsWrongVerifier(t *testing.T) {
	f := newFixture(t, nil)
	code := f.obtainCode(t, "alice")

	form := tokenForm(code)
	form.Set("code_verifier", strings.Repeat("b", 43))
	rec := f.exchange(t, form)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", oauthError(t, rec))
}

func TestTokenRejectsBadVerifierSyntax(t *testing.T) {
	f := newFixture(t, nil)
	code := f.obtainCode(t, "alice")

	form := tokenForm(code)
	form.Set("code_verifier", "too-short")
	rec := f.exchange(t, form)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", oauthError(t, rec))
}

func TestTokenRejectsWrongGrantType(t *testing.T) {
	f := newFixture(t, nil)

	form := tokenForm("any")
	form.Set("grant_type", "client_credentials")
	rec := f.exchange(t, form)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unsupported_grant_type", oauthError(t, rec))
}

func TestTokenRejectsMismatchedRedirect(t *testing.T) {
	f := newFixture(t, nil)
	code := f.obtainCode(t, "alice")

	form := tokenForm(code)
	form.Set("redirect_uri", "https://evil.example/cb")
	rec := f.exchange(t, form)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", oauthError(t, rec))
}

func TestTokenRejectsExpiredCode(t *testing.T) {
	f := newFixture(t, nil)

	raw, err := auth.NewOpaqueToken()
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, f.store.CreateAuthCode(context.Background(), &store.AuthCode{
		CodeHash:        auth.HashToken(raw),
		UserID:          "alice",
		ClientID:        "mcp-client",
		RedirectURI:     testRedirect,
		CodeChallenge:   testVerifier,
		ChallengeMethod: "plain",
		Scope:           ScopeMCPTools,
		CreatedAt:       now.Add(-10 * time.Minute),
		ExpiresAt:       now.Add(-5 * time.Minute),
	}))

	rec := f.exchange(t, tokenForm(raw))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", oauthError(t, rec))
}

func TestTokenAcceptsJSONBody(t *testing.T) {
	f := newFixture(t, nil)
	code := f.obtainCode(t, "alice")

	body, err := json.Marshal(map[string]string{
		"grant_type":    "authorization_code",
		"code":          code,
		"client_id":     "mcp-client",
		"redirect_uri":  testRedirect,
		"code_verifier": testVerifier,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenS256Exchange(t *testing.T) {
	f := newFixture(t, nil)

	sum := sha256.Sum256([]byte(testVerifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	q := authorizeQuery(map[string]string{
		"code_challenge":        challenge,
		"code_challenge_method": "S256",
	})
	rec := f.authorize(t, q, f.signedInCookie(t, "alice"))
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	rec = f.exchange(t, tokenForm(code))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConfidentialClientSecret(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	f := newFixture(t, func(cfg *config.OAuthConfig) {
		cfg.ClientSecrets = map[string]string{"mcp-client": string(hash)}
	})
	code := f.obtainCode(t, "alice")

	form := tokenForm(code)
	form.Set("client_secret", "wrong")
	rec := f.exchange(t, form)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_client", oauthError(t, rec))

	form.Set("client_secret", "s3cret")
	rec = f.exchange(t, form)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenBasicAuthCredentials(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	f := newFixture(t, func(cfg *config.OAuthConfig) {
		cfg.ClientSecrets = map[string]string{"mcp-client": string(hash)}
	})
	code := f.obtainCode(t, "alice")

	form := tokenForm(code)
	form.Del("client_id")
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("mcp-client", "s3cret")

	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenCORS(t *testing.T) {
	f := newFixture(t, nil)

	// Preflight.
	req := httptest.NewRequest(http.MethodOptions, "/oauth/token", nil)
	req.Header.Set("Origin", "https://agent.example")
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://agent.example", rec.Header().Get("Access-Control-Allow-Origin"))

	// Headers present on the error path too.
	form := tokenForm("bogus")
	req = httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Origin", "https://agent.example")
	rec = httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "https://agent.example", rec.Header().Get("Access-Control-Allow-Origin"))

	// Unknown origins get nothing.
	req = httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Origin", "https://stranger.example")
	rec = httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestDiscoveryMetadata(t *testing.T) {
	f := newFixture(t, func(cfg *config.OAuthConfig) {
		cfg.PublicURL = "https://chess.example.com"
	})

	req := httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "https://chess.example.com", doc["issuer"])
	assert.Equal(t, "https://chess.example.com/oauth/authorize", doc["authorization_endpoint"])
	assert.Equal(t, "https://chess.example.com/oauth/token", doc["token_endpoint"])

	req = httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource", nil)
	rec = httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "https://chess.example.com", doc["resource"])
}

func TestBaseURLPriority(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://internal:8080/x", nil)

	// Configured public URL wins.
	assert.Equal(t, "https://pub.example", BaseURL(req, "https://pub.example/"))

	// Forwarded headers next.
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "chess.example.com")
	assert.Equal(t, "https://chess.example.com", BaseURL(req, ""))

	// Request host last.
	req.Header.Del("X-Forwarded-Proto")
	req.Header.Del("X-Forwarded-Host")
	assert.Equal(t, "http://internal:8080", BaseURL(req, ""))
}
