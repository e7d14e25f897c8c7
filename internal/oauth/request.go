// ABOUTME: Token endpoint request parsing
// ABOUTME: Accepts JSON, form, and multipart bodies plus HTTP Basic client credentials

package oauth

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

// maxTokenRequestBody caps token endpoint request bodies.
const maxTokenRequestBody = 1 << 20

// tokenRequest is the normalized token exchange request regardless of
// how the client encoded it.
type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	CodeVerifier string `json:"code_verifier"`
	Resource     string `json:"resource"`
}

// parseTokenRequest decodes the token request from whichever encoding
// the client chose. Credentials in an Authorization: Basic header take
// precedence over body parameters.
func parseTokenRequest(r *http.Request) (*tokenRequest, error) {
	contentType := r.Header.Get("Content-Type")
	mediaType := contentType
	if contentType != "" {
		parsed, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			return nil, fmt.Errorf("invalid Content-Type: %w", err)
		}
		mediaType = parsed
	}

	var req tokenRequest
	switch {
	case mediaType == "application/json":
		body, err := io.ReadAll(io.LimitReader(r.Body, maxTokenRequestBody))
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}

	case mediaType == "application/x-www-form-urlencoded", mediaType == "":
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("invalid form body: %w", err)
		}
		req = fromValues(r.PostForm.Get)

	case strings.HasPrefix(mediaType, "multipart/"):
		if err := r.ParseMultipartForm(maxTokenRequestBody); err != nil {
			return nil, fmt.Errorf("invalid multipart body: %w", err)
		}
		req = fromValues(r.PostForm.Get)

	default:
		return nil, fmt.Errorf("unsupported Content-Type %q", mediaType)
	}

	// HTTP Basic carries the client credentials when present; per RFC
	// 6749 these are form-encoded inside the header.
	if id, secret, ok := r.BasicAuth(); ok {
		req.ClientID = id
		req.ClientSecret = secret
	}

	return &req, nil
}

func fromValues(get func(string) string) tokenRequest {
	return tokenRequest{
		GrantType:    get("grant_type"),
		Code:         get("code"),
		RedirectURI:  get("redirect_uri"),
		ClientID:     get("client_id"),
		ClientSecret: get("client_secret"),
		CodeVerifier: get("code_verifier"),
		Resource:     get("resource"),
	}
}
