// ABOUTME: Maps MCP JSON-RPC methods to required OAuth scopes and checks grants
// ABOUTME: Supports mcp:* and mcp:<area>:* wildcards; unmapped methods need mcp:<prefix>:*

package oauth2

import (
	"slices"
	"sort"
	"strings"
	"sync"
)

// ScopeMapping ties a method to the scope it requires. Optional mappings
// allow access even when the scope is missing.
type ScopeMapping struct {
	Method   string `yaml:"method" toml:"method" json:"method"`
	Scope    string `yaml:"scope" toml:"scope" json:"scope"`
	Optional bool   `yaml:"optional" toml:"optional" json:"optional,omitempty"`
}

// DefaultScopeMappings is the standard MCP method table.
func DefaultScopeMappings() []ScopeMapping {
	return []ScopeMapping{
		{Method: "tools/call", Scope: "mcp:tools:execute"},
		{Method: "tools/list", Scope: "mcp:tools:read"},
		{Method: "resources/read", Scope: "mcp:resources:read"},
		{Method: "resources/list", Scope: "mcp:resources:list"},
		{Method: "resources/templates/list", Scope: "mcp:resources:list"},
		{Method: "resources/subscribe", Scope: "mcp:resources:subscribe"},
		{Method: "resources/unsubscribe", Scope: "mcp:resources:subscribe"},
		{Method: "prompts/get", Scope: "mcp:prompts:read"},
		{Method: "prompts/list", Scope: "mcp:prompts:list"},
		{Method: "logging/setLevel", Scope: "mcp:logging:configure"},
	}
}

// ScopeValidator checks method access against granted scopes.
type ScopeValidator struct {
	mu       sync.RWMutex
	mappings map[string]ScopeMapping
}

// NewScopeValidator creates a validator with the given mappings.
func NewScopeValidator(mappings []ScopeMapping) *ScopeValidator {
	v := &ScopeValidator{mappings: make(map[string]ScopeMapping, len(mappings))}
	for _, m := range mappings {
		v.mappings[m.Method] = m
	}
	return v
}

// NewDefaultScopeValidator uses DefaultScopeMappings.
func NewDefaultScopeValidator() *ScopeValidator {
	return NewScopeValidator(DefaultScopeMappings())
}

// RequiredScope returns the scope method needs. Unmapped methods require
// mcp:<first path segment>:*.
func (v *ScopeValidator) RequiredScope(method string) string {
	v.mu.RLock()
	m, ok := v.mappings[method]
	v.mu.RUnlock()
	if ok {
		return m.Scope
	}
	prefix, _, _ := strings.Cut(method, "/")
	return "mcp:" + prefix + ":*"
}

// IsMethodConfigured reports whether method has an explicit mapping.
func (v *ScopeValidator) IsMethodConfigured(method string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.mappings[method]
	return ok
}

// ValidateMethodAccess returns nil when scopes grant access to method, and an
// *InsufficientScopeError otherwise.
func (v *ScopeValidator) ValidateMethodAccess(method string, scopes []string) error {
	v.mu.RLock()
	m, configured := v.mappings[method]
	v.mu.RUnlock()

	required := v.RequiredScope(method)
	if Grants(scopes, required) {
		return nil
	}
	if configured && m.Optional {
		return nil
	}
	return &InsufficientScopeError{
		Method:   method,
		Required: required,
		Provided: append([]string(nil), scopes...),
	}
}

// AddMapping adds or replaces a mapping.
func (v *ScopeValidator) AddMapping(m ScopeMapping) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mappings[m.Method] = m
}

// RemoveMapping deletes a mapping and reports whether it existed.
func (v *ScopeValidator) RemoveMapping(method string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.mappings[method]
	delete(v.mappings, method)
	return ok
}

// Mappings returns the configured mappings sorted by method.
func (v *ScopeValidator) Mappings() []ScopeMapping {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]ScopeMapping, 0, len(v.mappings))
	for _, m := range v.mappings {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Method < out[j].Method })
	return out
}

// RequiredScopes lists every distinct scope referenced by the mappings.
func (v *ScopeValidator) RequiredScopes() []string {
	var scopes []string
	for _, m := range v.Mappings() {
		scopes = append(scopes, m.Scope)
	}
	sort.Strings(scopes)
	return slices.Compact(scopes)
}

// Grants reports whether any granted scope satisfies required. mcp:* grants
// everything and mcp:<area>:* grants every scope in that area.
func Grants(granted []string, required string) bool {
	area := scopeArea(required)
	for _, s := range granted {
		switch {
		case s == required, s == "mcp:*":
			return true
		case area != "" && s == "mcp:"+area+":*":
			return true
		}
	}
	return false
}

func scopeArea(scope string) string {
	parts := strings.Split(scope, ":")
	if len(parts) < 3 || parts[0] != "mcp" {
		return ""
	}
	return parts[1]
}
