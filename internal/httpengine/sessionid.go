// ABOUTME: Session id extraction for HTTP requests
// ABOUTME: Header, then query parameter, then cookie, otherwise a new uuid

package httpengine

import (
	"net/http"

	"github.com/google/uuid"
)

// Session id sources
const (
	SessionHeader = "Mcp-Session-Id"
	SessionQuery  = "sessionId"
	SessionCookie = "sessionId"
)

// SessionSource says where a session id came from.
type SessionSource string

const (
	SourceHeader    SessionSource = "header"
	SourceQuery     SessionSource = "query"
	SourceCookie    SessionSource = "cookie"
	SourceGenerated SessionSource = "generated"
)

// ExtractSessionID returns the caller's session id and its source.
func ExtractSessionID(r *http.Request) (string, SessionSource) {
	if id := r.Header.Get(SessionHeader); id != "" {
		return id, SourceHeader
	}
	if id := r.URL.Query().Get(SessionQuery); id != "" {
		return id, SourceQuery
	}
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value, SourceCookie
	}
	return uuid.New().String(), SourceGenerated
}
