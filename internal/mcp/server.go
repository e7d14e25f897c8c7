// ABOUTME: MCP-compatible JSON-RPC endpoint for external agents
// ABOUTME: Single POST /api/mcp handler: identity resolution, dispatch, content wrapping

package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/agentchess/chess-gateway/internal/auth"
	"github.com/agentchess/chess-gateway/internal/oauth"
	"github.com/agentchess/chess-gateway/internal/tools"
)

// protocolVersion is the MCP protocol version we advertise.
const protocolVersion = "2025-03-26"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// JSON-RPC error codes. AuthRequired is our extension, paired with
// HTTP 401 and a WWW-Authenticate challenge.
const (
	JSONRPCParseError     = -32700
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32000
	JSONRPCAuthRequired   = -32001
)

// MCPToolInfo represents an MCP tool definition.
type MCPToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
	Annotations *MCPAnnotations `json:"annotations,omitempty"`
}

// MCPAnnotations carries tool behavior hints.
type MCPAnnotations struct {
	ReadOnlyHint bool `json:"readOnlyHint"`
}

// MCPListToolsResult is the result for tools/list.
type MCPListToolsResult struct {
	Tools []MCPToolInfo `json:"tools"`
}

// MCPCallToolParams are the params for tools/call.
type MCPCallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// MCPCallToolResult is the result for tools/call.
type MCPCallToolResult struct {
	Content           []MCPContent `json:"content"`
	StructuredContent any          `json:"structuredContent,omitempty"`
	IsError           bool         `json:"isError,omitempty"`
}

// MCPContent represents content in a tool result.
type MCPContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
}

// Pinger is the readiness check against the backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// readyGuard ensures the store is reachable before any request does
// work. Success is memoized; failure resets so the next request
// retries instead of wedging the process on a transient outage.
type readyGuard struct {
	mu    sync.Mutex
	ready bool
	ping  func(ctx context.Context) error
}

func (g *readyGuard) ensure(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ready {
		return nil
	}
	if err := g.ping(ctx); err != nil {
		return err
	}
	g.ready = true
	return nil
}

func (g *readyGuard) reset() {
	g.mu.Lock()
	g.ready = false
	g.mu.Unlock()
}

// Config holds configuration for the MCP server.
type Config struct {
	Registry *tools.Registry
	Resolver *auth.Resolver
	Pinger   Pinger
	Logger   *slog.Logger

	// PublicURL overrides base URL derivation in the auth challenge.
	PublicURL string
}

// Server implements the MCP endpoint.
type Server struct {
	registry  *tools.Registry
	resolver  *auth.Resolver
	guard     *readyGuard
	logger    *slog.Logger
	publicURL string
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if cfg.Pinger == nil {
		return nil, errors.New("pinger is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "mcp")
	}

	return &Server{
		registry:  cfg.Registry,
		resolver:  cfg.Resolver,
		guard:     &readyGuard{ping: cfg.Pinger.Ping},
		logger:    logger,
		publicURL: cfg.PublicURL,
	}, nil
}

// RegisterRoutes registers the MCP endpoint on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/mcp", s.handleMCP)
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.guard.ensure(r.Context()); err != nil {
		s.guard.reset()
		s.logger.Error("store not ready", "error", err)
		s.sendError(w, nil, JSONRPCInternalError, "service unavailable", http.StatusOK)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil || int64(len(body)) > MaxRequestBodySize {
		s.sendError(w, nil, JSONRPCParseError, "failed to read request body", http.StatusOK)
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		// Parse errors carry a null id: the request's id is unknowable.
		s.sendError(w, nil, JSONRPCParseError, "invalid JSON", http.StatusOK)
		return
	}

	isNotification := len(req.ID) == 0 || string(req.ID) == "null"

	s.logger.Debug("mcp request", "method", req.Method, "is_notification", isNotification)

	if isNotification {
		if !strings.HasPrefix(req.Method, "notifications/") {
			s.logger.Warn("notification for non-notification method", "method", req.Method)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(w, req)
	case "ping":
		s.sendResult(w, req.ID, map[string]any{})
	case "tools/list":
		s.handleToolsList(w, req)
	case "tools/call":
		s.handleToolsCall(w, r, req)
	case "resources/list":
		s.sendResult(w, req.ID, map[string]any{"resources": []any{}})
	case "resources/templates/list":
		s.sendResult(w, req.ID, map[string]any{"resourceTemplates": []any{}})
	case "prompts/list":
		s.sendResult(w, req.ID, map[string]any{"prompts": []any{}})
	default:
		s.sendError(w, req.ID, JSONRPCMethodNotFound, "method not found", http.StatusOK)
	}
}

func (s *Server) handleInitialize(w http.ResponseWriter, req JSONRPCRequest) {
	s.sendResult(w, req.ID, map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    "chess-gateway",
			"version": "1.0.0",
		},
	})
}

func (s *Server) handleToolsList(w http.ResponseWriter, req JSONRPCRequest) {
	all := s.registry.List()
	result := MCPListToolsResult{Tools: make([]MCPToolInfo, len(all))}

	for i, t := range all {
		info := MCPToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		}
		if t.ReadOnly {
			info.Annotations = &MCPAnnotations{ReadOnlyHint: true}
		}
		result.Tools[i] = info
	}

	s.sendResult(w, req.ID, result)
}

func (s *Server) handleToolsCall(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	var params MCPCallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendError(w, req.ID, JSONRPCInvalidParams, "invalid params", http.StatusOK)
			return
		}
	}
	if params.Name == "" {
		s.sendError(w, req.ID, JSONRPCInvalidParams, "tool name is required", http.StatusOK)
		return
	}

	identity := s.resolver.Resolve(r.Context(), r)
	ctx := auth.WithIdentity(r.Context(), identity)

	tool, ok := s.registry.Get(params.Name)
	if !ok {
		s.sendError(w, req.ID, JSONRPCInvalidParams, fmt.Sprintf("unknown tool: %s", params.Name), http.StatusOK)
		return
	}

	if tool.RequiresAuth && identity.IsAnonymous() {
		s.sendAuthRequired(w, r, req.ID)
		return
	}

	s.logger.Debug("tools/call", "tool", params.Name, "user", identity.UserID)

	result, err := s.registry.Call(ctx, params.Name, params.Arguments)
	if err != nil {
		s.handleToolError(w, r, req.ID, params.Name, err)
		return
	}

	s.sendResult(w, req.ID, wrapToolResult(result))
}

// wrapToolResult converts a tool's raw result into MCP content blocks.
// Media results become image blocks; everything else is serialized JSON
// in a text block. The raw result rides along as structuredContent.
func wrapToolResult(result any) MCPCallToolResult {
	if img, ok := result.(*tools.ImageResult); ok {
		if len(img.Data) > 0 && strings.HasPrefix(img.MIMEType, "image/") {
			return MCPCallToolResult{
				Content: []MCPContent{{
					Type:     "image",
					Data:     base64.StdEncoding.EncodeToString(img.Data),
					MIMEType: img.MIMEType,
				}},
				StructuredContent: img.Fallback,
			}
		}
		// Malformed image payload: fall back to the structured summary.
		result = img.Fallback
	}

	text, err := json.Marshal(result)
	if err != nil {
		text = []byte(fmt.Sprintf("%v", result))
	}
	return MCPCallToolResult{
		Content:           []MCPContent{{Type: "text", Text: string(text)}},
		StructuredContent: result,
	}
}

// handleToolError maps dispatch and executor failures onto JSON-RPC
// errors. Domain errors propagate verbatim so clients can react to the
// specific reason.
func (s *Server) handleToolError(w http.ResponseWriter, r *http.Request, id json.RawMessage, toolName string, err error) {
	s.logger.Warn("tool call failed", "tool", toolName, "error", err)

	switch {
	case errors.Is(err, auth.ErrAuthRequired):
		s.sendAuthRequired(w, r, id)
	case errors.Is(err, tools.ErrUnknownTool):
		s.sendError(w, id, JSONRPCInvalidParams, fmt.Sprintf("unknown tool: %s", toolName), http.StatusOK)
	case errors.Is(err, tools.ErrInvalidArguments):
		s.sendError(w, id, JSONRPCInvalidParams, err.Error(), http.StatusOK)
	default:
		s.sendError(w, id, JSONRPCInternalError, err.Error(), http.StatusOK)
	}
}

// sendAuthRequired emits the authentication challenge: JSON-RPC error
// -32001 over HTTP 401 with a WWW-Authenticate header pointing the
// client at the authorization server.
func (s *Server) sendAuthRequired(w http.ResponseWriter, r *http.Request, id json.RawMessage) {
	base := oauth.BaseURL(r, s.publicURL)
	challenge := fmt.Sprintf(
		`Bearer realm="chess-gateway", authorization_uri=%q, resource_metadata=%q`,
		base+"/oauth/authorize",
		base+"/.well-known/oauth-protected-resource",
	)
	w.Header().Set("WWW-Authenticate", challenge)
	s.sendError(w, id, JSONRPCAuthRequired, "authentication required", http.StatusUnauthorized)
}

// sendResult sends a successful JSON-RPC response.
func (s *Server) sendResult(w http.ResponseWriter, id json.RawMessage, result any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

// sendError sends a JSON-RPC error response with the given HTTP status.
func (s *Server) sendError(w http.ResponseWriter, id json.RawMessage, code int, message string, status int) {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode error response", "error", err)
	}
}
