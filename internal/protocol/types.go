// ABOUTME: Validated MCP value types: protocol version, URI, MIME type
// ABOUTME: Each type has a Parse constructor enforcing its wire format

package protocol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Validation errors
var (
	ErrInvalidVersion  = errors.New("protocol version must be YYYY-MM-DD")
	ErrInvalidURI      = errors.New("uri must have a non-empty scheme")
	ErrInvalidMimeType = errors.New("mime type must be type/subtype")
	ErrInvalidContent  = errors.New("invalid content")
)

// LatestProtocolVersion is the version advertised in initialize responses.
const LatestProtocolVersion ProtocolVersion = "2025-06-18"

// supportedVersions lists the versions this runtime can speak.
var supportedVersions = map[ProtocolVersion]bool{
	"2024-11-05": true,
	"2025-03-26": true,
	"2025-06-18": true,
}

var versionPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])-(0[1-9]|[12]\d|3[01])$`)

// ProtocolVersion is an MCP protocol revision date.
type ProtocolVersion string

// ParseProtocolVersion validates the YYYY-MM-DD format.
func ParseProtocolVersion(s string) (ProtocolVersion, error) {
	if !versionPattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	return ProtocolVersion(s), nil
}

// IsSupported reports whether the runtime implements this version.
func (v ProtocolVersion) IsSupported() bool {
	return supportedVersions[v]
}

// Negotiate returns the version to answer with: the client's when supported,
// otherwise the latest.
func Negotiate(requested ProtocolVersion) ProtocolVersion {
	if requested.IsSupported() {
		return requested
	}
	return LatestProtocolVersion
}

// URI identifies a resource. Any scheme is allowed (file, http, https, custom).
type URI string

// ParseURI validates that s has a non-empty scheme followed by ':'.
func ParseURI(s string) (URI, error) {
	i := strings.Index(s, ":")
	if i <= 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidURI, s)
	}
	for j, r := range s[:i] {
		isAlpha := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		isSchemeChar := isAlpha || (j > 0 && ((r >= '0' && r <= '9') || r == '+' || r == '-' || r == '.'))
		if !isSchemeChar {
			return "", fmt.Errorf("%w: %q", ErrInvalidURI, s)
		}
	}
	return URI(s), nil
}

// Scheme returns the part before the first ':'.
func (u URI) Scheme() string {
	if i := strings.Index(string(u), ":"); i > 0 {
		return string(u)[:i]
	}
	return ""
}

// MimeType is a media type such as text/plain.
type MimeType string

// ParseMimeType validates that both halves of type/subtype are present.
func ParseMimeType(s string) (MimeType, error) {
	base := s
	if i := strings.Index(base, ";"); i >= 0 {
		base = base[:i]
	}
	typ, sub, ok := strings.Cut(strings.TrimSpace(base), "/")
	if !ok || typ == "" || sub == "" || strings.Contains(sub, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidMimeType, s)
	}
	return MimeType(s), nil
}

// IsText reports whether content of this type should be returned as text.
func (m MimeType) IsText() bool {
	s := string(m)
	return strings.HasPrefix(s, "text/") ||
		strings.HasPrefix(s, "application/json") ||
		strings.HasPrefix(s, "application/xml") ||
		strings.HasPrefix(s, "application/yaml") ||
		strings.HasPrefix(s, "application/toml")
}

// Implementation names a client or server in the initialize exchange.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}
