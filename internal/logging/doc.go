// Package logging builds the process logger from configuration.
//
// Three formats are supported: "json" and "text" use the slog handlers,
// "console" uses a compact colorized handler meant for terminals. OpenSink
// returns a size-rotated file when logging.file is set.
//
// The STDIO transport owns stdout, so callers serving stdio must pass a sink
// other than os.Stdout: the log file, or os.Stderr.
package logging
