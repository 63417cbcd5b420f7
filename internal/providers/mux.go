// ABOUTME: ResourceMux routes resource reads to providers by URI scheme
// ABOUTME: Lists merge every registered provider's resources and templates

package providers

import (
	"context"
	"sort"
	"sync"

	"github.com/2389/mcp-runtime/internal/protocol"
)

// ResourceMux implements ResourceProvider and ResourceTemplateProvider over
// several providers keyed by scheme.
type ResourceMux struct {
	mu       sync.RWMutex
	byScheme map[string]ResourceProvider
	hooks    changeHooks
	watching bool
	notifies bool
}

// NewResourceMux returns an empty mux.
func NewResourceMux() *ResourceMux {
	return &ResourceMux{byScheme: make(map[string]ResourceProvider)}
}

// Handle registers p for URIs with the given scheme, replacing any previous one.
func (m *ResourceMux) Handle(scheme string, p ResourceProvider) {
	m.mu.Lock()
	m.byScheme[scheme] = p
	watching := m.watching
	m.mu.Unlock()
	if watching {
		m.watch(p)
	}
	m.hooks.emit(Change{ListChanged: true})
}

func (m *ResourceMux) watch(p ResourceProvider) {
	if n, ok := p.(ChangeNotifier); ok && n.OnChange(m.hooks.emit) {
		m.mu.Lock()
		m.notifies = true
		m.mu.Unlock()
	}
}

// OnChange forwards changes from every registered provider that reports
// them. It returns false when none does.
func (m *ResourceMux) OnChange(fn func(Change)) bool {
	m.hooks.add(fn)
	m.mu.Lock()
	first := !m.watching
	m.watching = true
	m.mu.Unlock()
	if first {
		for _, p := range m.providers() {
			m.watch(p)
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.notifies
}

func (m *ResourceMux) providers() []ResourceProvider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	schemes := make([]string, 0, len(m.byScheme))
	for s := range m.byScheme {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	out := make([]ResourceProvider, len(schemes))
	for i, s := range schemes {
		out[i] = m.byScheme[s]
	}
	return out
}

func (m *ResourceMux) ListResources(ctx context.Context) ([]protocol.Resource, error) {
	var out []protocol.Resource
	for _, p := range m.providers() {
		rs, err := p.ListResources(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, rs...)
	}
	return out, nil
}

func (m *ResourceMux) ListResourceTemplates(ctx context.Context) ([]protocol.ResourceTemplate, error) {
	var out []protocol.ResourceTemplate
	for _, p := range m.providers() {
		tp, ok := p.(ResourceTemplateProvider)
		if !ok {
			continue
		}
		ts, err := tp.ListResourceTemplates(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, ts...)
	}
	return out, nil
}

func (m *ResourceMux) ReadResource(ctx context.Context, uri string) ([]protocol.ResourceContents, error) {
	u, err := protocol.ParseURI(uri)
	if err != nil {
		return nil, InvalidParams("%v", err)
	}
	m.mu.RLock()
	p, ok := m.byScheme[u.Scheme()]
	m.mu.RUnlock()
	if !ok {
		return nil, NotFound("resource", uri)
	}
	return p.ReadResource(ctx, uri)
}
