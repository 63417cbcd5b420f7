// ABOUTME: In-process tool sets and a registry that serves them as one ToolProvider
// ABOUTME: Compiles input schemas at registration and validates arguments before each call

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/qri-io/jsonschema"

	"github.com/2389/mcp-runtime/internal/protocol"
)

// Registration errors.
var (
	ErrToolCollision = errors.New("tool name collision")
	ErrInvalidSchema = errors.New("invalid input schema")
)

// ToolHandler executes one tool against its raw JSON arguments.
type ToolHandler func(ctx context.Context, args json.RawMessage) ([]protocol.Content, error)

// BuiltinTool pairs a tool definition with its handler.
type BuiltinTool struct {
	Definition protocol.Tool
	Handler    ToolHandler
}

// ToolSet is a named collection of in-process tools.
type ToolSet struct {
	ID    string
	Tools []*BuiltinTool
}

type toolEntry struct {
	tool   *BuiltinTool
	setID  string
	schema *jsonschema.Schema
}

// compileSchema parses a tool's input schema. An empty schema accepts anything.
func compileSchema(t *BuiltinTool) (*jsonschema.Schema, error) {
	raw := t.Definition.InputSchema
	if len(raw) == 0 {
		return nil, nil
	}
	schema := &jsonschema.Schema{}
	if err := json.Unmarshal(raw, schema); err != nil {
		return nil, fmt.Errorf("%w: tool '%s': %v", ErrInvalidSchema, t.Definition.Name, err)
	}
	return schema, nil
}

// validateArgs checks args against schema and reports every violation as
// invalid params.
func validateArgs(ctx context.Context, schema *jsonschema.Schema, args json.RawMessage) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	keyErrs, err := schema.ValidateBytes(ctx, args)
	if err != nil {
		return InvalidParams("arguments are not valid JSON")
	}
	if len(keyErrs) == 0 {
		return nil
	}
	msgs := make([]string, len(keyErrs))
	for i, ke := range keyErrs {
		path := ke.PropertyPath
		if path == "" {
			path = "/"
		}
		msgs[i] = path + ": " + ke.Message
	}
	return InvalidParams("arguments do not match schema: %s", strings.Join(msgs, "; "))
}

// ToolRegistry implements ToolProvider over any number of tool sets.
type ToolRegistry struct {
	mu     sync.RWMutex
	tools  map[string]*toolEntry
	hooks  changeHooks
	logger *slog.Logger
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry(logger *slog.Logger) *ToolRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolRegistry{
		tools:  make(map[string]*toolEntry),
		logger: logger.With("component", "tools"),
	}
}

// Register adds every tool of set. Nothing is registered if any name
// collides or any input schema fails to parse.
func (r *ToolRegistry) Register(set *ToolSet) error {
	schemas := make([]*jsonschema.Schema, len(set.Tools))
	for i, t := range set.Tools {
		schema, err := compileSchema(t)
		if err != nil {
			return err
		}
		schemas[i] = schema
	}

	r.mu.Lock()
	for _, t := range set.Tools {
		if existing, ok := r.tools[t.Definition.Name]; ok {
			r.mu.Unlock()
			return fmt.Errorf("%w: tool '%s' already registered by '%s'",
				ErrToolCollision, t.Definition.Name, existing.setID)
		}
	}
	for i, t := range set.Tools {
		r.tools[t.Definition.Name] = &toolEntry{tool: t, setID: set.ID, schema: schemas[i]}
	}
	total := len(r.tools)
	r.mu.Unlock()

	r.logger.Info("tool set registered", "set", set.ID, "tool_count", len(set.Tools), "total_tools", total)
	r.hooks.emit(Change{ListChanged: true})
	return nil
}

// Unregister removes all tools that belong to setID.
func (r *ToolRegistry) Unregister(setID string) {
	r.mu.Lock()
	removed := 0
	for name, e := range r.tools {
		if e.setID == setID {
			delete(r.tools, name)
			removed++
		}
	}
	r.mu.Unlock()

	if removed > 0 {
		r.logger.Info("tool set unregistered", "set", setID, "tool_count", removed)
		r.hooks.emit(Change{ListChanged: true})
	}
}

// OnChange registers fn to run after the tool list changes.
func (r *ToolRegistry) OnChange(fn func(Change)) bool {
	r.hooks.add(fn)
	return true
}

// ListTools returns definitions sorted by name.
func (r *ToolRegistry) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.Tool, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.tool.Definition)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CallTool runs the named tool.
func (r *ToolRegistry) CallTool(ctx context.Context, name string, args json.RawMessage) ([]protocol.Content, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, NotFound("tool", name)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecution, err)
	}
	if e.schema != nil {
		if err := validateArgs(ctx, e.schema, args); err != nil {
			return nil, err
		}
	}
	return e.tool.Handler(ctx, args)
}
