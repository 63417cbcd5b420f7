// ABOUTME: Tests for the connection manager: capacity, reaping, degradation, binding
// ABOUTME: Uses a controllable clock so idle windows elapse instantly

package session

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(limit int, cfg HealthConfig) (*Manager, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC)}
	m := NewManager(limit, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.now = clock.Now
	return m, clock
}

func TestConnectionLimit(t *testing.T) {
	m, _ := newTestManager(2, DefaultHealthConfig())

	a, err := m.Register("peer-a")
	require.NoError(t, err)
	_, err = m.Register("peer-b")
	require.NoError(t, err)

	_, err = m.Register("peer-c")
	assert.ErrorIs(t, err, ErrConnectionLimit)
	assert.Equal(t, uint64(1), m.Stats().LimitClosures)
	assert.True(t, m.AtLimit())

	require.NoError(t, m.Unregister(a))
	_, err = m.Register("peer-c")
	require.NoError(t, err)

	stats := m.Stats()
	assert.Equal(t, uint64(3), stats.TotalCreated)
	assert.Equal(t, 2, stats.CurrentlyActive)
	assert.Equal(t, 2, stats.Max)
}

func TestIdleConnectionIsReaped(t *testing.T) {
	cfg := DefaultHealthConfig()
	cfg.IdleTimeout = time.Minute
	m, clock := newTestManager(1, cfg)

	id, err := m.Register("idle")
	require.NoError(t, err)
	_, err = m.Register("blocked")
	require.ErrorIs(t, err, ErrConnectionLimit)

	clock.Advance(30 * time.Second)
	assert.Empty(t, m.HealthCheck())

	clock.Advance(31 * time.Second)
	closed := m.HealthCheck()
	assert.Equal(t, []ConnectionID{id}, closed)
	assert.Equal(t, uint64(1), m.Stats().HealthClosures)

	_, ok := m.Info(id)
	assert.False(t, ok)
	_, err = m.Register("now-fits")
	assert.NoError(t, err)
}

func TestTouchKeepsConnectionAlive(t *testing.T) {
	cfg := DefaultHealthConfig()
	cfg.IdleTimeout = time.Minute
	m, clock := newTestManager(1, cfg)

	id, err := m.Register("busy")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		clock.Advance(50 * time.Second)
		require.NoError(t, m.Touch(id))
		assert.Empty(t, m.HealthCheck())
	}
	info, ok := m.Info(id)
	require.True(t, ok)
	assert.Equal(t, uint64(3), info.RequestCount)
	assert.Equal(t, "active", info.State)
}

func TestDegradedAtRequestLimit(t *testing.T) {
	cfg := DefaultHealthConfig()
	cfg.MaxRequestsPerConnection = 2
	m, _ := newTestManager(1, cfg)

	id, err := m.Register("chatty")
	require.NoError(t, err)
	require.NoError(t, m.Touch(id))
	require.NoError(t, m.Touch(id))

	info, _ := m.Info(id)
	assert.Equal(t, "degraded", info.State)
	assert.Equal(t, uint64(2), m.Stats().TotalRequests)
}

func TestRateLimit(t *testing.T) {
	cfg := DefaultHealthConfig()
	cfg.RequestsPerSecond = 1
	cfg.Burst = 2
	m, clock := newTestManager(1, cfg)

	id, err := m.Register("fast")
	require.NoError(t, err)
	require.NoError(t, m.Touch(id))
	require.NoError(t, m.Touch(id))
	assert.ErrorIs(t, m.Touch(id), ErrRateLimited)

	clock.Advance(time.Second)
	assert.NoError(t, m.Touch(id))
}

func TestBindAndRelease(t *testing.T) {
	m, _ := newTestManager(2, DefaultHealthConfig())

	var closedSessions []string
	m.OnClose(func(info ConnectionInfo) { closedSessions = append(closedSessions, info.SessionID) })

	first, err := m.Bind("sess-1", "127.0.0.1")
	require.NoError(t, err)
	again, err := m.Bind("sess-1", "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	info, _ := m.Info(first)
	assert.Equal(t, uint64(2), info.RequestCount)
	assert.Equal(t, 1, m.Stats().CurrentlyActive)

	assert.True(t, m.Release("sess-1"))
	assert.False(t, m.Release("sess-1"))
	assert.Equal(t, []string{"sess-1"}, closedSessions)
	assert.ErrorIs(t, m.Unregister(first), ErrUnknownConnection)
}

func TestConcurrentTouchesAcrossConnections(t *testing.T) {
	m, _ := newTestManager(8, DefaultHealthConfig())
	ids := make([]ConnectionID, 8)
	for i := range ids {
		id, err := m.Register("peer")
		require.NoError(t, err)
		ids[i] = id
	}

	const perConn = 100
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perConn {
				assert.NoError(t, m.Touch(id))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range perConn {
			m.Stats()
			m.ActiveIDs()
			m.Info(ids[0])
		}
	}()
	wg.Wait()

	assert.Equal(t, uint64(len(ids)*perConn), m.Stats().TotalRequests)
	for _, id := range ids {
		info, ok := m.Info(id)
		require.True(t, ok)
		assert.Equal(t, uint64(perConn), info.RequestCount)
	}
}

func TestBindReplacesReapedConnection(t *testing.T) {
	cfg := DefaultHealthConfig()
	cfg.IdleTimeout = time.Minute
	m, clock := newTestManager(1, cfg)

	first, err := m.Bind("s1", "peer")
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	assert.Equal(t, []ConnectionID{first}, m.HealthCheck())

	err = m.Touch(first)
	assert.ErrorIs(t, err, ErrUnknownConnection)

	second, err := m.Bind("s1", "peer")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, uint64(1), m.Stats().HealthClosures)
}
