// ABOUTME: Bounded pool of reusable byte buffers for request body parsing
// ABOUTME: Buffers are cleared on return and the pool never holds more than its maximum

package bufpool

import (
	"sync/atomic"
)

// Defaults
const (
	DefaultMaxBuffers      = 100
	DefaultBufferSize      = 8 * 1024
	DefaultMaxRetainedSize = 1024 * 1024
)

// Config sizes a Pool.
type Config struct {
	MaxBuffers int
	BufferSize int
	// MaxRetainedSize drops buffers that grew past this capacity instead of
	// keeping them in the pool.
	MaxRetainedSize int
}

// Stats is a snapshot of pool usage.
type Stats struct {
	Available  int    `json:"available"`
	Max        int    `json:"max"`
	BufferSize int    `json:"buffer_size"`
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Dropped    uint64 `json:"dropped"`
}

// Pool is a fixed-capacity buffer cache. The zero value is not usable.
type Pool struct {
	buffers         chan []byte
	bufferSize      int
	maxRetainedSize int

	hits    atomic.Uint64
	misses  atomic.Uint64
	dropped atomic.Uint64
}

// New creates a pool. Non-positive config values take their defaults.
func New(cfg Config) *Pool {
	if cfg.MaxBuffers <= 0 {
		cfg.MaxBuffers = DefaultMaxBuffers
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.MaxRetainedSize < cfg.BufferSize {
		cfg.MaxRetainedSize = max(DefaultMaxRetainedSize, cfg.BufferSize)
	}
	return &Pool{
		buffers:         make(chan []byte, cfg.MaxBuffers),
		bufferSize:      cfg.BufferSize,
		maxRetainedSize: cfg.MaxRetainedSize,
	}
}

// Get returns an empty buffer, allocating when the pool is empty.
func (p *Pool) Get() []byte {
	select {
	case b := <-p.buffers:
		p.hits.Add(1)
		return b
	default:
		p.misses.Add(1)
		return make([]byte, 0, p.bufferSize)
	}
}

// Put clears b and returns it to the pool. Oversized buffers and buffers
// arriving while the pool is full are dropped.
func (p *Pool) Put(b []byte) {
	if b == nil || cap(b) > p.maxRetainedSize {
		p.dropped.Add(1)
		return
	}
	clear(b[:cap(b)])
	b = b[:0]
	select {
	case p.buffers <- b:
	default:
		p.dropped.Add(1)
	}
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Available:  len(p.buffers),
		Max:        cap(p.buffers),
		BufferSize: p.bufferSize,
		Hits:       p.hits.Load(),
		Misses:     p.misses.Load(),
		Dropped:    p.dropped.Load(),
	}
}
