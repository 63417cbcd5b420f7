// ABOUTME: Provider interfaces consumed by the MCP router and their error taxonomy
// ABOUTME: Resource, template, tool, prompt and logging surfaces

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/2389/mcp-runtime/internal/protocol"
)

// Provider error categories. Wrap them with fmt.Errorf("%w: ...") to add detail.
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidParams = errors.New("invalid params")
	ErrExecution     = errors.New("execution failed")
)

// ResourceProvider serves URI-addressed resources.
type ResourceProvider interface {
	ListResources(ctx context.Context) ([]protocol.Resource, error)
	ReadResource(ctx context.Context, uri string) ([]protocol.ResourceContents, error)
}

// ResourceTemplateProvider is implemented by resource providers that also
// publish URI templates.
type ResourceTemplateProvider interface {
	ListResourceTemplates(ctx context.Context) ([]protocol.ResourceTemplate, error)
}

// ToolProvider serves callable tools. Unknown tool names are ErrNotFound.
type ToolProvider interface {
	ListTools(ctx context.Context) ([]protocol.Tool, error)
	CallTool(ctx context.Context, name string, args json.RawMessage) ([]protocol.Content, error)
}

// PromptProvider renders prompt templates.
type PromptProvider interface {
	ListPrompts(ctx context.Context) ([]protocol.Prompt, error)
	GetPrompt(ctx context.Context, name string, args map[string]string) (string, []protocol.PromptMessage, error)
}

// LoggingConfig is what logging/setLevel delivers to a handler.
type LoggingConfig struct {
	Level protocol.LoggingLevel
}

// LoggingHandler accepts logging configuration changes.
type LoggingHandler interface {
	SetLogging(ctx context.Context, cfg LoggingConfig) error
}

// LogPublisher is implemented by logging handlers that publish the entries
// they accept.
type LogPublisher interface {
	OnEntry(fn func(LogEntry))
}

// Change is one provider-side change. ListChanged means items were added or
// removed. URI names a resource whose contents changed.
type Change struct {
	ListChanged bool
	URI         string
}

// ChangeNotifier is implemented by providers that report their own changes.
// OnChange registers fn and reports whether the provider will ever call it.
type ChangeNotifier interface {
	OnChange(fn func(Change)) bool
}

// changeHooks fans changes out to registered callbacks. Callbacks run on the
// caller's goroutine with no provider lock held.
type changeHooks struct {
	mu  sync.Mutex
	fns []func(Change)
}

func (h *changeHooks) add(fn func(Change)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns = append(h.fns, fn)
}

func (h *changeHooks) emit(c Change) {
	h.mu.Lock()
	fns := append(([]func(Change))(nil), h.fns...)
	h.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

// NotFoundError names the missing tool, resource or prompt. It matches
// ErrNotFound under errors.Is.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound returns a NotFoundError.
func NotFound(kind, name string) error {
	return &NotFoundError{Kind: kind, Name: name}
}

// InvalidParams wraps ErrInvalidParams with a formatted reason.
func InvalidParams(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParams, fmt.Sprintf(format, args...))
}

// Execution wraps ErrExecution with a formatted reason.
func Execution(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrExecution, fmt.Sprintf(format, args...))
}
