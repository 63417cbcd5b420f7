// Package transport defines the contract between wire transports (STDIO,
// HTTP, SSE) and the protocol handler that consumes decoded envelopes.
//
// Ownership is one-way: a Transport holds a MessageHandler, and handlers reply
// through the Transport's Send method. Handlers never own their transport.
package transport
