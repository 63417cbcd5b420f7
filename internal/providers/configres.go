// ABOUTME: Resource provider exposing top-level configuration keys as config:// resources
// ABOUTME: Loads JSON, YAML or TOML documents selected by file extension

package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/mcp-runtime/internal/protocol"
)

const configScheme = "config://"

// ConfigResources serves key/value configuration as JSON resources.
type ConfigResources struct {
	mu     sync.RWMutex
	values map[string]any
	hooks  changeHooks
}

// NewConfigResources returns an empty provider.
func NewConfigResources() *ConfigResources {
	return &ConfigResources{values: make(map[string]any)}
}

// LoadConfigResources reads a .json, .yaml/.yml or .toml file.
func LoadConfigResources(path string) (*ConfigResources, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config resources: %w", err)
	}

	values := make(map[string]any)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &values)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &values)
	case ".toml":
		err = toml.Unmarshal(data, &values)
	default:
		return nil, fmt.Errorf("unsupported config resource format: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &ConfigResources{values: values}, nil
}

// Set stores or replaces a value. Storing an equal value reports no change;
// a new key also changes the resource list.
func (c *ConfigResources) Set(key string, value any) {
	c.mu.Lock()
	old, existed := c.values[key]
	if existed && reflect.DeepEqual(old, value) {
		c.mu.Unlock()
		return
	}
	c.values[key] = value
	c.mu.Unlock()
	c.hooks.emit(Change{ListChanged: !existed, URI: configScheme + key})
}

// Delete removes a key if present.
func (c *ConfigResources) Delete(key string) {
	c.mu.Lock()
	_, existed := c.values[key]
	delete(c.values, key)
	c.mu.Unlock()
	if existed {
		c.hooks.emit(Change{ListChanged: true, URI: configScheme + key})
	}
}

// OnChange registers fn to run after every Set or Delete.
func (c *ConfigResources) OnChange(fn func(Change)) bool {
	c.hooks.add(fn)
	return true
}

// Get returns a value and whether it exists.
func (c *ConfigResources) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

func (c *ConfigResources) ListResources(ctx context.Context) ([]protocol.Resource, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]protocol.Resource, 0, len(c.values))
	for key := range c.values {
		out = append(out, protocol.Resource{
			URI:         protocol.URI(configScheme + key),
			Name:        "Config: " + key,
			Description: fmt.Sprintf("Configuration value for '%s'", key),
			MimeType:    "application/json",
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out, nil
}

func (c *ConfigResources) ReadResource(ctx context.Context, uri string) ([]protocol.ResourceContents, error) {
	key, ok := strings.CutPrefix(uri, configScheme)
	if !ok {
		return nil, InvalidParams("invalid config uri %q", uri)
	}
	v, ok := c.Get(key)
	if !ok {
		return nil, NotFound("configuration key", key)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, Execution("encoding %s: %v", key, err)
	}
	return []protocol.ResourceContents{{
		URI:      protocol.URI(uri),
		MimeType: "application/json",
		Text:     string(data),
	}}, nil
}
