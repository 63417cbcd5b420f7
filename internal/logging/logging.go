// ABOUTME: Logger setup from config: JSON, text or colorized console handlers
// ABOUTME: Optional rotating file sink backed by lumberjack

package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fatih/color"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/2389/mcp-runtime/internal/config"
)

// ParseLevel maps debug, info, warn and error to slog levels. Anything else
// is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup builds a logger writing to sink.
func Setup(cfg config.LoggingConfig, sink io.Writer) *slog.Logger {
	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(sink, opts)
	case "text":
		handler = slog.NewTextHandler(sink, opts)
	default:
		handler = NewConsoleHandler(sink, level, isTerminal(sink))
	}
	return slog.New(handler)
}

func isTerminal(w io.Writer) bool {
	return !color.NoColor && (w == os.Stdout || w == os.Stderr)
}

// OpenSink returns a rotating file when cfg.File is set, otherwise fallback.
// Relative file names are placed in config.LogDir.
func OpenSink(cfg config.LoggingConfig, fallback io.Writer) io.WriteCloser {
	if cfg.File == "" {
		return nopCloser{fallback}
	}
	path := cfg.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(config.LogDir(), path)
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxFiles,
		Compress:   false,
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// ConsoleHandler writes one colorized line per record.
type ConsoleHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Level
	attrs  []slog.Attr
	prefix string
	pal    palette
}

type palette struct {
	dim, debug, info, warn, err *color.Color
}

func newPalette(colorize bool) palette {
	p := palette{
		dim:   color.New(color.FgHiBlack),
		debug: color.New(color.FgMagenta),
		info:  color.New(color.FgCyan),
		warn:  color.New(color.FgYellow),
		err:   color.New(color.FgRed, color.Bold),
	}
	for _, c := range []*color.Color{p.dim, p.debug, p.info, p.warn, p.err} {
		if colorize {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// NewConsoleHandler creates a handler writing to w. Colors are emitted only
// when colorize is set.
func NewConsoleHandler(w io.Writer, level slog.Level, colorize bool) *ConsoleHandler {
	return &ConsoleHandler{
		mu:    &sync.Mutex{},
		w:     w,
		level: level,
		pal:   newPalette(colorize),
	}
}

func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(h.pal.dim.Sprint(r.Time.Format("15:04:05") + " "))

	switch {
	case r.Level >= slog.LevelError:
		buf.WriteString(h.pal.err.Sprint("ERR "))
	case r.Level >= slog.LevelWarn:
		buf.WriteString(h.pal.warn.Sprint("WRN "))
	case r.Level >= slog.LevelInfo:
		buf.WriteString(h.pal.info.Sprint("INF "))
	default:
		buf.WriteString(h.pal.debug.Sprint("DBG "))
	}

	buf.WriteString(r.Message)

	// Handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		h.writeAttr(&buf, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(&buf, h.prefix, a)
		return true
	})
	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, buf.String())
	return err
}

func (h *ConsoleHandler) writeAttr(buf *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			h.writeAttr(buf, p, ga)
		}
		return
	}
	buf.WriteString(h.pal.dim.Sprint(" " + prefix + a.Key + "="))
	buf.WriteString(a.Value.String())
}

func (h *ConsoleHandler) clone() *ConsoleHandler {
	c := *h
	c.attrs = append([]slog.Attr(nil), h.attrs...)
	return &c
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := h.clone()
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		c.attrs = append(c.attrs, a)
	}
	return c
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := h.clone()
	c.prefix = h.prefix + name + "."
	return c
}
