// Package stdio implements the newline-delimited JSON transport used when an
// MCP server runs as a child process: Server reads envelopes from stdin and
// writes replies to stdout, Client spawns such a process and correlates
// responses by request id.
//
// Nothing but envelopes may be written to the output stream, so loggers
// passed here must point at stderr or a file.
package stdio
