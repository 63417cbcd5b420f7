// ABOUTME: Per-session protocol state: lifecycle stage, negotiated version, subscriptions
// ABOUTME: Sessions are created lazily on first message and dropped on close

package mcp

import (
	"sync"
	"time"

	"github.com/2389/mcp-runtime/internal/protocol"
)

// State is a session's position in the handshake.
type State int

const (
	StateUninitialized State = iota
	StateAwaitingInitialized
	StateOperational
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAwaitingInitialized:
		return "awaiting_initialized"
	case StateOperational:
		return "operational"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

type session struct {
	id string

	mu            sync.Mutex
	state         State
	version       protocol.ProtocolVersion
	client        protocol.Implementation
	logLevel      protocol.LoggingLevel
	subscriptions map[string]struct{}
	createdAt     time.Time
}

func newSession(id string) *session {
	return &session{
		id:            id,
		logLevel:      protocol.LevelInfo,
		subscriptions: make(map[string]struct{}),
		createdAt:     time.Now(),
	}
}

func (s *session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *session) subscribe(uri string) {
	s.mu.Lock()
	s.subscriptions[uri] = struct{}{}
	s.mu.Unlock()
}

func (s *session) unsubscribe(uri string) {
	s.mu.Lock()
	delete(s.subscriptions, uri)
	s.mu.Unlock()
}

func (s *session) subscribed(uri string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subscriptions[uri]
	return ok
}

// SessionInfo is a read-only snapshot of a session.
type SessionInfo struct {
	ID              string
	State           State
	ProtocolVersion protocol.ProtocolVersion
	Client          protocol.Implementation
	LogLevel        protocol.LoggingLevel
	Subscriptions   int
	CreatedAt       time.Time
}

func (s *session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:              s.id,
		State:           s.state,
		ProtocolVersion: s.version,
		Client:          s.client,
		LogLevel:        s.logLevel,
		Subscriptions:   len(s.subscriptions),
		CreatedAt:       s.createdAt,
	}
}
