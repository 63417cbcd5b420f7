// ABOUTME: Resource provider that serves files under a single root directory
// ABOUTME: Enforces an extension allow-list, a size cap and root confinement

package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/2389/mcp-runtime/internal/protocol"
)

// DefaultMaxFileSize caps files served by FileSystemResources.
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// DefaultAllowedExtensions are the extensions served when none are configured.
var DefaultAllowedExtensions = []string{"txt", "md", "json", "yaml", "yml", "toml", "xml", "csv", "log"}

var mimeByExtension = map[string]protocol.MimeType{
	"txt":  "text/plain",
	"log":  "text/plain",
	"md":   "text/markdown",
	"json": "application/json",
	"yaml": "application/yaml",
	"yml":  "application/yaml",
	"toml": "application/toml",
	"xml":  "application/xml",
	"csv":  "text/csv",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"pdf":  "application/pdf",
}

// FileSystemOptions configures FileSystemResources.
type FileSystemOptions struct {
	Root              string
	AllowedExtensions []string
	MaxFileSize       int64
}

// FileSystemResources implements ResourceProvider and ResourceTemplateProvider
// over files beneath Root.
type FileSystemResources struct {
	root    string
	allowed map[string]bool
	maxSize int64
}

// NewFileSystemResources resolves the root to its canonical path. The root
// must exist and be a directory.
func NewFileSystemResources(opts FileSystemOptions) (*FileSystemResources, error) {
	abs, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	root, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}

	exts := opts.AllowedExtensions
	if len(exts) == 0 {
		exts = DefaultAllowedExtensions
	}
	allowed := make(map[string]bool, len(exts))
	for _, e := range exts {
		allowed[strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	return &FileSystemResources{root: root, allowed: allowed, maxSize: maxSize}, nil
}

// Root returns the canonical root directory.
func (p *FileSystemResources) Root() string { return p.root }

func extensionOf(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

func mimeFor(path string) protocol.MimeType {
	if m, ok := mimeByExtension[extensionOf(path)]; ok {
		return m
	}
	return "text/plain"
}

func fileURI(path string) string {
	return "file://" + filepath.ToSlash(path)
}

// ListResources walks the root and returns every allowed file within the size cap.
func (p *FileSystemResources) ListResources(ctx context.Context) ([]protocol.Resource, error) {
	var out []protocol.Resource
	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if !p.allowed[extensionOf(path)] {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > p.maxSize {
			return nil
		}
		rel, err := filepath.Rel(p.root, path)
		if err != nil {
			return err
		}
		out = append(out, protocol.Resource{
			URI:         protocol.URI(fileURI(path)),
			Name:        filepath.ToSlash(rel),
			Description: fmt.Sprintf("File: %s (%d bytes)", filepath.ToSlash(rel), info.Size()),
			MimeType:    mimeFor(path),
		})
		return nil
	})
	if err != nil {
		return nil, Execution("listing %s: %v", p.root, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListResourceTemplates advertises the file URI pattern.
func (p *FileSystemResources) ListResourceTemplates(ctx context.Context) ([]protocol.ResourceTemplate, error) {
	return []protocol.ResourceTemplate{{
		URITemplate: fileURI(p.root) + "/{path}",
		Name:        "file",
		Description: "Files beneath " + p.root,
	}}, nil
}

// resolve maps a file URI or path onto a canonical path inside the root.
// Paths outside the root are rejected before touching the filesystem so the
// error does not depend on whether they exist.
func (p *FileSystemResources) resolve(uri string) (string, error) {
	path := strings.TrimPrefix(uri, "file://")
	if path == "" {
		return "", InvalidParams("empty resource path")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.root, path)
	}
	path = filepath.Clean(path)
	if !p.contains(path) {
		return "", outsideRoot(uri)
	}
	canonical, err := filepath.EvalSymlinks(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", NotFound("resource", uri)
		}
		return "", Execution("resolving %s: %v", uri, err)
	}
	if !p.contains(canonical) {
		return "", outsideRoot(uri)
	}
	if !p.allowed[extensionOf(canonical)] {
		return "", InvalidParams("file extension %q is not allowed", extensionOf(canonical))
	}
	return canonical, nil
}

func (p *FileSystemResources) contains(path string) bool {
	rel, err := filepath.Rel(p.root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func outsideRoot(uri string) error {
	return InvalidParams("path %s is outside the allowed directory", uri)
}

// ReadResource returns text contents for text MIME types and base64 blobs
// otherwise.
func (p *FileSystemResources) ReadResource(ctx context.Context, uri string) ([]protocol.ResourceContents, error) {
	path, err := p.resolve(uri)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, NotFound("resource", uri)
	}
	if !info.Mode().IsRegular() {
		return nil, NotFound("resource", uri)
	}
	if info.Size() > p.maxSize {
		return nil, InvalidParams("file too large: %d bytes (max %d)", info.Size(), p.maxSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Execution("reading %s: %v", uri, err)
	}

	mt := mimeFor(path)
	rc := protocol.ResourceContents{URI: protocol.URI(uri), MimeType: mt}
	if mt.IsText() {
		if !utf8.Valid(data) {
			return nil, Execution("file %s is not valid UTF-8", uri)
		}
		rc.Text = string(data)
	} else {
		rc.Blob = base64.StdEncoding.EncodeToString(data)
	}
	return []protocol.ResourceContents{rc}, nil
}
