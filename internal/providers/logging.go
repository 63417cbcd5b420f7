// ABOUTME: Logging handlers for logging/setLevel: in-memory ring and rotating file
// ABOUTME: File output is JSON lines written through lumberjack size-capped rotation

package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/2389/mcp-runtime/internal/protocol"
)

// Defaults for the logging handlers
const (
	DefaultLogBufferSize = 1000
	DefaultLogFileMaxMB  = 10
	DefaultLogFileCount  = 5
)

// LogEntry is one buffered log record.
type LogEntry struct {
	Timestamp time.Time             `json:"timestamp"`
	Level     protocol.LoggingLevel `json:"level"`
	Message   string                `json:"message"`
	Data      any                   `json:"data,omitempty"`
}

// LogStats summarizes a StructuredLogging buffer.
type LogStats struct {
	TotalEntries int                           `json:"total_entries"`
	BufferSize   int                           `json:"buffer_size"`
	LevelCounts  map[protocol.LoggingLevel]int `json:"level_counts"`
	FileLogging  bool                          `json:"file_logging_enabled"`
	FilePath     string                        `json:"log_file_path,omitempty"`
	Level        protocol.LoggingLevel         `json:"level"`
}

// RotatingFile returns a lumberjack writer capped at maxMB megabytes with
// maxFiles rotated backups.
func RotatingFile(path string, maxMB, maxFiles int) *lumberjack.Logger {
	if maxMB <= 0 {
		maxMB = DefaultLogFileMaxMB
	}
	if maxFiles <= 0 {
		maxFiles = DefaultLogFileCount
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxMB,
		MaxBackups: maxFiles,
	}
}

func writeEntry(w io.Writer, e LogEntry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = w.Write(append(line, '\n'))
	return err
}

// StructuredLoggingOptions configures StructuredLogging.
type StructuredLoggingOptions struct {
	BufferSize int
	// FilePath enables appending entries to a rotating file.
	FilePath    string
	FileMaxMB   int
	FileMaxKeep int
}

// StructuredLogging keeps the most recent entries in a fixed ring and
// optionally mirrors them to a rotating file. Entries below the configured
// level are dropped.
type StructuredLogging struct {
	mu    sync.Mutex
	level protocol.LoggingLevel
	ring  []LogEntry
	start int
	count int
	file  *lumberjack.Logger
	path  string
	now   func() time.Time

	listeners []func(LogEntry)
}

// NewStructuredLogging creates a handler at level info.
func NewStructuredLogging(opts StructuredLoggingOptions) *StructuredLogging {
	size := opts.BufferSize
	if size <= 0 {
		size = DefaultLogBufferSize
	}
	h := &StructuredLogging{
		level: protocol.LevelInfo,
		ring:  make([]LogEntry, size),
		now:   time.Now,
	}
	if opts.FilePath != "" {
		h.file = RotatingFile(opts.FilePath, opts.FileMaxMB, opts.FileMaxKeep)
		h.path = opts.FilePath
	}
	return h
}

// SetLogging applies a new threshold.
func (h *StructuredLogging) SetLogging(ctx context.Context, cfg LoggingConfig) error {
	level, err := protocol.ParseLoggingLevel(string(cfg.Level))
	if err != nil {
		return InvalidParams("%v", err)
	}
	h.mu.Lock()
	h.level = level
	h.mu.Unlock()
	return h.Log(protocol.LevelInfo, "Logging configuration updated", map[string]any{"level": level})
}

// Level returns the current threshold.
func (h *StructuredLogging) Level() protocol.LoggingLevel {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level
}

// Log records an entry. Unknown levels are rejected. Accepted entries are
// passed to every OnEntry listener after the buffer is updated.
func (h *StructuredLogging) Log(level protocol.LoggingLevel, msg string, data any) error {
	lvl, err := protocol.ParseLoggingLevel(string(level))
	if err != nil {
		return InvalidParams("%v", err)
	}

	h.mu.Lock()
	if !h.level.Enables(lvl) {
		h.mu.Unlock()
		return nil
	}

	e := LogEntry{Timestamp: h.now().UTC(), Level: lvl, Message: msg, Data: data}
	idx := (h.start + h.count) % len(h.ring)
	h.ring[idx] = e
	if h.count < len(h.ring) {
		h.count++
	} else {
		h.start = (h.start + 1) % len(h.ring)
	}

	var fileErr error
	if h.file != nil {
		fileErr = writeEntry(h.file, e)
	}
	listeners := h.listeners
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(e)
	}
	if fileErr != nil {
		return Execution("writing log file: %v", fileErr)
	}
	return nil
}

// OnEntry registers fn to receive every accepted entry.
func (h *StructuredLogging) OnEntry(fn func(LogEntry)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners[:len(h.listeners):len(h.listeners)], fn)
}

// Recent returns up to limit entries, oldest first. limit <= 0 returns all.
func (h *StructuredLogging) Recent(limit int) []LogEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]LogEntry, n)
	first := h.count - n
	for i := range n {
		out[i] = h.ring[(h.start+first+i)%len(h.ring)]
	}
	return out
}

// Clear drops every buffered entry.
func (h *StructuredLogging) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.ring)
	h.start, h.count = 0, 0
}

// Stats summarizes the buffer.
func (h *StructuredLogging) Stats() LogStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[protocol.LoggingLevel]int)
	for i := range h.count {
		counts[h.ring[(h.start+i)%len(h.ring)].Level]++
	}
	return LogStats{
		TotalEntries: h.count,
		BufferSize:   len(h.ring),
		LevelCounts:  counts,
		FileLogging:  h.file != nil,
		FilePath:     h.path,
		Level:        h.level,
	}
}

// Close closes the mirror file, if any.
func (h *StructuredLogging) Close() error {
	if h.file == nil {
		return nil
	}
	return h.file.Close()
}

// FileLogging writes every accepted entry to a dedicated rotating file.
type FileLogging struct {
	mu    sync.Mutex
	level protocol.LoggingLevel
	out   *lumberjack.Logger
}

// NewFileLogging opens path lazily with the given caps. Zero caps use
// DefaultLogFileMaxMB and DefaultLogFileCount.
func NewFileLogging(path string, maxMB, maxFiles int) *FileLogging {
	return &FileLogging{
		level: protocol.LevelInfo,
		out:   RotatingFile(path, maxMB, maxFiles),
	}
}

// SetLogging applies a new threshold and records the change in the file.
func (h *FileLogging) SetLogging(ctx context.Context, cfg LoggingConfig) error {
	level, err := protocol.ParseLoggingLevel(string(cfg.Level))
	if err != nil {
		return InvalidParams("%v", err)
	}
	h.mu.Lock()
	h.level = level
	h.mu.Unlock()
	return h.Log(protocol.LevelInfo, "Logging configuration updated", map[string]any{"level": level})
}

// Log appends an entry when it passes the threshold.
func (h *FileLogging) Log(level protocol.LoggingLevel, msg string, data any) error {
	lvl, err := protocol.ParseLoggingLevel(string(level))
	if err != nil {
		return InvalidParams("%v", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.level.Enables(lvl) {
		return nil
	}
	if err := writeEntry(h.out, LogEntry{Timestamp: time.Now().UTC(), Level: lvl, Message: msg, Data: data}); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrExecution, h.out.Filename, err)
	}
	return nil
}

// Close closes the file.
func (h *FileLogging) Close() error {
	return h.out.Close()
}
