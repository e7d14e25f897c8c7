// ABOUTME: Tool registry: definitions, argument validation, and dispatch
// ABOUTME: Tools are registered once at startup; lookup is a map access

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownTool is returned when a call names a tool that is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// ErrInvalidArguments wraps argument validation failures so the transport
// can map them to the invalid-params error code.
var ErrInvalidArguments = errors.New("invalid arguments")

// Executor runs a tool call with already-validated arguments.
type Executor func(ctx context.Context, args map[string]any) (any, error)

// Tool is a single registered tool.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage

	// ReadOnly marks tools that never mutate state. Surfaced to clients
	// as the readOnlyHint annotation.
	ReadOnly bool

	// RequiresAuth gates the tool behind an authenticated caller.
	RequiresAuth bool

	Execute Executor

	schema *objectSchema
}

// Registry holds the registered tools. It is populated once at startup
// and read-only afterwards, so no locking is needed.
type Registry struct {
	tools map[string]*Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Duplicate names and malformed schemas are
// programmer errors, caught at startup.
func (r *Registry) Register(t *Tool) error {
	if t.Name == "" {
		return errors.New("tool name is required")
	}
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %q already registered", t.Name)
	}
	if t.Execute == nil {
		return fmt.Errorf("tool %q has no executor", t.Name)
	}

	schema, err := parseObjectSchema(t.InputSchema)
	if err != nil {
		return fmt.Errorf("tool %q: %w", t.Name, err)
	}
	t.schema = schema

	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// MustRegister registers a tool and panics on error. Used at startup
// where a bad definition should abort the process.
func (r *Registry) MustRegister(t *Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get returns the tool with the given name.
func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools in registration order.
func (r *Registry) List() []*Tool {
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Call validates the raw arguments against the tool's schema and runs
// the executor. Validation failures are wrapped in ErrInvalidArguments.
func (r *Registry) Call(ctx context.Context, name string, rawArgs json.RawMessage) (any, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	args := map[string]any{}
	if len(rawArgs) > 0 && string(rawArgs) != "null" {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return nil, fmt.Errorf("%w: arguments must be an object", ErrInvalidArguments)
		}
	}

	if err := t.schema.validate(args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	return t.Execute(ctx, args)
}

// objectSchema is the subset of JSON Schema the tool definitions use:
// a top-level object with typed properties and a required list. Enough
// to reject malformed calls before they reach an executor.
type objectSchema struct {
	properties map[string]string // property name -> expected type
	required   []string
}

func parseObjectSchema(raw json.RawMessage) (*objectSchema, error) {
	var doc struct {
		Type       string `json:"type"`
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing input schema: %w", err)
	}
	if doc.Type != "object" {
		return nil, fmt.Errorf("input schema must have type object, got %q", doc.Type)
	}

	s := &objectSchema{
		properties: make(map[string]string, len(doc.Properties)),
		required:   doc.Required,
	}
	for name, prop := range doc.Properties {
		s.properties[name] = prop.Type
	}

	for _, name := range s.required {
		if _, ok := s.properties[name]; !ok {
			return nil, fmt.Errorf("required property %q not declared", name)
		}
	}
	return s, nil
}

func (s *objectSchema) validate(args map[string]any) error {
	for _, name := range s.required {
		if _, ok := args[name]; !ok {
			return fmt.Errorf("missing required argument %q", name)
		}
	}

	for name, val := range args {
		want, ok := s.properties[name]
		if !ok {
			return fmt.Errorf("unexpected argument %q", name)
		}
		if !typeMatches(want, val) {
			return fmt.Errorf("argument %q must be a %s", name, want)
		}
	}
	return nil
}

func typeMatches(want string, val any) bool {
	switch want {
	case "string":
		_, ok := val.(string)
		return ok
	case "number":
		_, ok := val.(float64)
		return ok
	case "integer":
		f, ok := val.(float64)
		return ok && f == float64(int64(f))
	case "boolean":
		_, ok := val.(bool)
		return ok
	case "object":
		_, ok := val.(map[string]any)
		return ok
	case "array":
		_, ok := val.([]any)
		return ok
	default:
		return true
	}
}
