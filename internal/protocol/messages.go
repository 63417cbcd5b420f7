// ABOUTME: MCP request/response payloads for initialize, resources, tools, prompts, logging
// ABOUTME: Method and notification name constants for the router registry

package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Method names (case-sensitive)
const (
	MethodInitialize             = "initialize"
	MethodInitialized            = "initialized"
	MethodPing                   = "ping"
	MethodResourcesList          = "resources/list"
	MethodResourcesRead          = "resources/read"
	MethodResourcesTemplatesList = "resources/templates/list"
	MethodResourcesSubscribe     = "resources/subscribe"
	MethodResourcesUnsubscribe   = "resources/unsubscribe"
	MethodToolsList              = "tools/list"
	MethodToolsCall              = "tools/call"
	MethodPromptsList            = "prompts/list"
	MethodPromptsGet             = "prompts/get"
	MethodLoggingSetLevel        = "logging/setLevel"
)

// Notification names
const (
	NotificationInitialized         = "notifications/initialized"
	NotificationResourceUpdated     = "notifications/resources/updated"
	NotificationResourceListChanged = "notifications/resources/list_changed"
	NotificationToolListChanged     = "notifications/tools/list_changed"
	NotificationPromptListChanged   = "notifications/prompts/list_changed"
	NotificationMessage             = "notifications/message"
	NotificationCancelled           = "notifications/cancelled"
)

// ClientCapabilities is what a client declares in initialize.
type ClientCapabilities struct {
	Roots        *RootsCapability `json:"roots,omitempty"`
	Sampling     map[string]any   `json:"sampling,omitempty"`
	Experimental map[string]any   `json:"experimental,omitempty"`
}

// RootsCapability declares client root listing support.
type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerCapabilities is the server advertisement. Nil sections are omitted and
// mean the feature is unsupported.
type ServerCapabilities struct {
	Resources    *ResourcesCapability `json:"resources,omitempty"`
	Tools        *ToolsCapability     `json:"tools,omitempty"`
	Prompts      *PromptsCapability   `json:"prompts,omitempty"`
	Logging      *LoggingCapability   `json:"logging,omitempty"`
	Experimental map[string]any       `json:"experimental,omitempty"`
}

// ResourcesCapability flags
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// ToolsCapability flags
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// PromptsCapability flags
type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// LoggingCapability has no flags; presence means logging/setLevel is served.
type LoggingCapability struct{}

// InitializeParams is the payload of the initialize request.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

// InitializeResult is the server's answer to initialize.
type InitializeResult struct {
	ProtocolVersion ProtocolVersion    `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// PaginatedParams carries an optional cursor for list methods.
type PaginatedParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// Resource describes a URI-addressed resource.
type Resource struct {
	URI         URI      `json:"uri"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	MimeType    MimeType `json:"mimeType,omitempty"`
}

// ResourceTemplate describes a parameterized resource URI.
type ResourceTemplate struct {
	URITemplate string   `json:"uriTemplate"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	MimeType    MimeType `json:"mimeType,omitempty"`
}

// ListResourcesResult answers resources/list.
type ListResourcesResult struct {
	Resources  []Resource `json:"resources"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

// ListResourceTemplatesResult answers resources/templates/list.
type ListResourceTemplatesResult struct {
	ResourceTemplates []ResourceTemplate `json:"resourceTemplates"`
}

// ReadResourceParams is the payload of resources/read.
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// ReadResourceResult answers resources/read.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// SubscribeParams is the payload of resources/subscribe and resources/unsubscribe.
type SubscribeParams struct {
	URI string `json:"uri"`
}

// ResourceUpdatedParams is the payload of notifications/resources/updated.
type ResourceUpdatedParams struct {
	URI URI `json:"uri"`
}

// Tool describes a callable tool and the JSON Schema of its input.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ListToolsResult answers tools/list.
type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// CallToolParams is the payload of tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult answers tools/call.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// PromptArgument declares one named argument of a prompt.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Prompt describes a prompt template.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// ListPromptsResult answers prompts/list.
type ListPromptsResult struct {
	Prompts    []Prompt `json:"prompts"`
	NextCursor string   `json:"nextCursor,omitempty"`
}

// GetPromptParams is the payload of prompts/get. Argument order carries no
// meaning.
type GetPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// Roles used in prompt messages
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// PromptMessage is one message of a rendered prompt.
type PromptMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// GetPromptResult answers prompts/get.
type GetPromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// LoggingLevel is an RFC-5424 severity as used by MCP.
type LoggingLevel string

// Logging levels, most verbose first
const (
	LevelDebug     LoggingLevel = "debug"
	LevelInfo      LoggingLevel = "info"
	LevelNotice    LoggingLevel = "notice"
	LevelWarning   LoggingLevel = "warning"
	LevelError     LoggingLevel = "error"
	LevelCritical  LoggingLevel = "critical"
	LevelAlert     LoggingLevel = "alert"
	LevelEmergency LoggingLevel = "emergency"
)

var levelOrder = map[LoggingLevel]int{
	LevelDebug:     0,
	LevelInfo:      1,
	LevelNotice:    2,
	LevelWarning:   3,
	LevelError:     4,
	LevelCritical:  5,
	LevelAlert:     6,
	LevelEmergency: 7,
}

// ParseLoggingLevel validates a level name. "warn" is accepted as an alias.
func ParseLoggingLevel(s string) (LoggingLevel, error) {
	l := LoggingLevel(strings.ToLower(strings.TrimSpace(s)))
	if l == "warn" {
		l = LevelWarning
	}
	if _, ok := levelOrder[l]; !ok {
		return "", fmt.Errorf("invalid logging level %q", s)
	}
	return l, nil
}

// Enables reports whether an entry at level other passes a threshold of l.
func (l LoggingLevel) Enables(other LoggingLevel) bool {
	return levelOrder[other] >= levelOrder[l]
}

// SetLevelParams is the payload of logging/setLevel.
type SetLevelParams struct {
	Level LoggingLevel `json:"level"`
}

// LogMessageParams is the payload of notifications/message.
type LogMessageParams struct {
	Level  LoggingLevel `json:"level"`
	Logger string       `json:"logger,omitempty"`
	Data   any          `json:"data"`
}

// EmptyResult is returned by methods with no payload (ping, subscribe).
type EmptyResult struct{}
