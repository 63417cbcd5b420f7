// ABOUTME: Buffer strategies used by the HTTP parser: per-request allocation or pooled
// ABOUTME: A Handle owns one buffer until Release returns it

package bufpool

import "fmt"

// Strategy hands out buffers for reading request bodies.
type Strategy interface {
	Acquire() *Handle
	Name() string
	Stats() Stats
}

// Handle wraps a buffer checked out from a Strategy.
type Handle struct {
	buf      []byte
	pool     *Pool
	released bool
}

// Bytes returns the current contents.
func (h *Handle) Bytes() []byte { return h.buf }

// Write appends p, growing the buffer as needed.
func (h *Handle) Write(p []byte) (int, error) {
	h.buf = append(h.buf, p...)
	return len(p), nil
}

// Len returns the number of bytes written.
func (h *Handle) Len() int { return len(h.buf) }

// Release returns the buffer to its pool. Further use of Bytes is invalid.
func (h *Handle) Release() {
	if h.released {
		return
	}
	h.released = true
	if h.pool != nil {
		h.pool.Put(h.buf)
	}
	h.buf = nil
}

// PerRequest allocates a fresh buffer each time.
type PerRequest struct {
	BufferSize int
}

func (s PerRequest) Acquire() *Handle {
	size := s.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Handle{buf: make([]byte, 0, size)}
}

func (s PerRequest) Name() string { return "per_request" }

func (s PerRequest) Stats() Stats { return Stats{BufferSize: s.BufferSize} }

// Pooled draws buffers from a Pool.
type Pooled struct {
	Pool *Pool
}

func (s Pooled) Acquire() *Handle {
	return &Handle{buf: s.Pool.Get(), pool: s.Pool}
}

func (s Pooled) Name() string { return "pooled" }

func (s Pooled) Stats() Stats { return s.Pool.Stats() }

// NewStrategy builds a strategy by name ("pooled" or "per_request").
func NewStrategy(name string, cfg Config) (Strategy, error) {
	switch name {
	case "", "pooled":
		return Pooled{Pool: New(cfg)}, nil
	case "per_request":
		return PerRequest{BufferSize: cfg.BufferSize}, nil
	default:
		return nil, fmt.Errorf("unknown buffer strategy %q", name)
	}
}
