// ABOUTME: Connection manager bounding concurrent peers with a weighted semaphore
// ABOUTME: Tracks per-connection health, request counts and reaps idle connections

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Defaults mirror the runtime's health configuration.
const (
	DefaultCheckInterval            = 30 * time.Second
	DefaultIdleTimeout              = 300 * time.Second
	DefaultMaxRequestsPerConnection = 1000
)

// Errors
var (
	ErrConnectionLimit   = errors.New("connection limit reached")
	ErrUnknownConnection = errors.New("unknown connection")
	ErrRateLimited       = errors.New("request rate limit exceeded")
)

// ConnectionID identifies a connection record.
type ConnectionID string

// State is the health of a connection.
type State int

const (
	StateActive State = iota
	StateDegraded
	StateUnhealthy
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	case StateUnhealthy:
		return "unhealthy"
	default:
		return "closed"
	}
}

// HealthConfig controls health checks and per-connection limits.
type HealthConfig struct {
	CheckInterval            time.Duration
	IdleTimeout              time.Duration
	MaxRequestsPerConnection uint64
	// RequestsPerSecond enables per-connection rate limiting when > 0.
	RequestsPerSecond float64
	Burst             int
}

// DefaultHealthConfig returns the standard health settings.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CheckInterval:            DefaultCheckInterval,
		IdleTimeout:              DefaultIdleTimeout,
		MaxRequestsPerConnection: DefaultMaxRequestsPerConnection,
	}
}

// ConnectionInfo is a snapshot of one connection record.
type ConnectionInfo struct {
	ID           ConnectionID `json:"id"`
	Peer         string       `json:"peer"`
	SessionID    string       `json:"session_id,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	LastUsed     time.Time    `json:"last_used"`
	RequestCount uint64       `json:"request_count"`
	State        string       `json:"state"`
}

// Stats summarises manager activity.
type Stats struct {
	TotalCreated    uint64 `json:"total_created"`
	CurrentlyActive int    `json:"currently_active"`
	TotalRequests   uint64 `json:"total_requests"`
	HealthClosures  uint64 `json:"health_closures"`
	LimitClosures   uint64 `json:"limit_closures"`
	Max             int    `json:"max"`
}

type connection struct {
	id        ConnectionID
	peer      string
	sessionID string
	createdAt time.Time
	limiter   *rate.Limiter

	mu       sync.Mutex
	lastUsed time.Time
	requests uint64
	state    State
}

// Manager owns connection records. All methods are safe for concurrent use.
// The registry lock only guards membership; each record has its own lock, so
// requests on different connections do not contend.
type Manager struct {
	max    int
	sem    *semaphore.Weighted
	cfg    HealthConfig
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	conns    map[ConnectionID]*connection
	sessions map[string]ConnectionID
	onClose  []func(ConnectionInfo)

	created        atomic.Uint64
	requests       atomic.Uint64
	healthClosures atomic.Uint64
	limitClosures  atomic.Uint64
}

// NewManager creates a manager allowing at most maxConnections concurrent
// connections.
func NewManager(maxConnections int, cfg HealthConfig, logger *slog.Logger) *Manager {
	if maxConnections <= 0 {
		maxConnections = 1
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.MaxRequestsPerConnection == 0 {
		cfg.MaxRequestsPerConnection = DefaultMaxRequestsPerConnection
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		max:      maxConnections,
		sem:      semaphore.NewWeighted(int64(maxConnections)),
		cfg:      cfg,
		logger:   logger.With("component", "sessions"),
		now:      time.Now,
		conns:    make(map[ConnectionID]*connection),
		sessions: make(map[string]ConnectionID),
	}
}

// OnClose registers a callback run after a connection is removed, whether by
// Unregister, Release or a health pass.
func (m *Manager) OnClose(fn func(ConnectionInfo)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = append(m.onClose, fn)
}

// Register admits a new connection or fails with ErrConnectionLimit.
func (m *Manager) Register(peer string) (ConnectionID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.registerLocked(peer, "")
	if err != nil {
		return "", err
	}
	return c.id, nil
}

func (m *Manager) registerLocked(peer, sessionID string) (*connection, error) {
	if !m.sem.TryAcquire(1) {
		m.limitClosures.Add(1)
		m.logger.Warn("connection rejected at capacity", "peer", peer, "max", m.max)
		return nil, ErrConnectionLimit
	}

	now := m.now()
	c := &connection{
		id:        ConnectionID(uuid.New().String()),
		peer:      peer,
		sessionID: sessionID,
		createdAt: now,
		lastUsed:  now,
		state:     StateActive,
	}
	if m.cfg.RequestsPerSecond > 0 {
		burst := m.cfg.Burst
		if burst <= 0 {
			burst = max(1, int(m.cfg.RequestsPerSecond))
		}
		c.limiter = rate.NewLimiter(rate.Limit(m.cfg.RequestsPerSecond), burst)
	}
	m.conns[c.id] = c
	m.created.Add(1)
	m.logger.Debug("connection registered", "connection_id", c.id, "peer", peer)
	return c, nil
}

func (m *Manager) lookup(id ConnectionID) (*connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[id]
	return c, ok
}

// Touch records a request on the connection. A connection that reaches the
// request cap is marked degraded; it keeps serving until reaped.
func (m *Manager) Touch(id ConnectionID) error {
	c, ok := m.lookup(id)
	if !ok {
		return ErrUnknownConnection
	}
	return m.touch(c)
}

func (m *Manager) touch(c *connection) error {
	now := m.now()
	if c.limiter != nil && !c.limiter.AllowN(now, 1) {
		return ErrRateLimited
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrUnknownConnection
	}
	c.lastUsed = now
	c.requests++
	requests := c.requests
	degraded := requests >= m.cfg.MaxRequestsPerConnection && c.state == StateActive
	if degraded {
		c.state = StateDegraded
	}
	c.mu.Unlock()

	m.requests.Add(1)
	if degraded {
		m.logger.Info("connection degraded at request limit", "connection_id", c.id, "requests", requests)
	}
	return nil
}

// Bind maps an external session id to a connection, registering one on the
// first request and touching it on subsequent ones.
func (m *Manager) Bind(sessionID, peer string) (ConnectionID, error) {
	m.mu.RLock()
	c, ok := m.conns[m.sessions[sessionID]]
	m.mu.RUnlock()
	if ok {
		// A record reaped since the lookup is replaced below.
		if err := m.touch(c); !errors.Is(err, ErrUnknownConnection) {
			return c.id, err
		}
		ok = false
	}

	m.mu.Lock()
	if id, bound := m.sessions[sessionID]; bound {
		if c, ok = m.conns[id]; !ok {
			delete(m.sessions, sessionID)
		}
	}
	if !ok {
		var err error
		if c, err = m.registerLocked(peer, sessionID); err != nil {
			m.mu.Unlock()
			return "", err
		}
		m.sessions[sessionID] = c.id
	}
	m.mu.Unlock()
	return c.id, m.touch(c)
}

// Lookup returns the connection bound to a session id.
func (m *Manager) Lookup(sessionID string) (ConnectionID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.sessions[sessionID]
	return id, ok
}

// Release closes the connection bound to sessionID, if any.
func (m *Manager) Release(sessionID string) bool {
	m.mu.Lock()
	id, ok := m.sessions[sessionID]
	var info ConnectionInfo
	var hooks []func(ConnectionInfo)
	if ok {
		info, ok = m.removeLocked(id)
		hooks = m.onClose
	}
	m.mu.Unlock()

	if ok {
		runHooks(hooks, info)
	}
	return ok
}

// Unregister closes a connection and returns its permit.
func (m *Manager) Unregister(id ConnectionID) error {
	m.mu.Lock()
	info, ok := m.removeLocked(id)
	hooks := m.onClose
	m.mu.Unlock()

	if !ok {
		return ErrUnknownConnection
	}
	runHooks(hooks, info)
	return nil
}

func (m *Manager) removeLocked(id ConnectionID) (ConnectionInfo, bool) {
	c, ok := m.conns[id]
	if !ok {
		return ConnectionInfo{}, false
	}
	delete(m.conns, id)
	if c.sessionID != "" {
		delete(m.sessions, c.sessionID)
	}
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	m.sem.Release(1)
	info := c.info()
	m.logger.Debug("connection closed", "connection_id", id, "requests", info.RequestCount)
	return info, true
}

func runHooks(hooks []func(ConnectionInfo), info ConnectionInfo) {
	for _, fn := range hooks {
		fn(info)
	}
}

// HealthCheck marks connections idle longer than the idle window unhealthy
// and closes them. It returns the ids it closed. Records are inspected under
// the read lock; the write lock is taken only to remove.
func (m *Manager) HealthCheck() []ConnectionID {
	now := m.now()
	var unhealthy []ConnectionID

	m.mu.RLock()
	for id, c := range m.conns {
		c.mu.Lock()
		if now.Sub(c.lastUsed) > m.cfg.IdleTimeout {
			c.state = StateUnhealthy
		}
		if c.state == StateUnhealthy {
			unhealthy = append(unhealthy, id)
		}
		c.mu.Unlock()
	}
	m.mu.RUnlock()

	if len(unhealthy) == 0 {
		return nil
	}

	var (
		closed []ConnectionID
		infos  []ConnectionInfo
	)
	m.mu.Lock()
	for _, id := range unhealthy {
		if info, ok := m.removeLocked(id); ok {
			m.healthClosures.Add(1)
			closed = append(closed, id)
			infos = append(infos, info)
		}
	}
	hooks := m.onClose
	m.mu.Unlock()

	for _, info := range infos {
		runHooks(hooks, info)
	}
	if len(closed) > 0 {
		m.logger.Info("reaped idle connections", "count", len(closed))
	}
	return closed
}

// Run performs health checks every CheckInterval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.HealthCheck()
		}
	}
}

// Info returns a snapshot of one connection.
func (m *Manager) Info(id ConnectionID) (ConnectionInfo, bool) {
	c, ok := m.lookup(id)
	if !ok {
		return ConnectionInfo{}, false
	}
	return c.info(), true
}

// ActiveIDs lists open connections.
func (m *Manager) ActiveIDs() []ConnectionID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]ConnectionID, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	return ids
}

// AtLimit reports whether no permits remain.
func (m *Manager) AtLimit() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns) >= m.max
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	active := len(m.conns)
	m.mu.RUnlock()
	return Stats{
		TotalCreated:    m.created.Load(),
		CurrentlyActive: active,
		TotalRequests:   m.requests.Load(),
		HealthClosures:  m.healthClosures.Load(),
		LimitClosures:   m.limitClosures.Load(),
		Max:             m.max,
	}
}

func (c *connection) info() ConnectionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnectionInfo{
		ID:           c.id,
		Peer:         c.peer,
		SessionID:    c.sessionID,
		CreatedAt:    c.createdAt,
		LastUsed:     c.lastUsed,
		RequestCount: c.requests,
		State:        c.state.String(),
	}
}
