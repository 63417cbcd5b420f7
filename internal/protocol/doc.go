// Package protocol defines the Model Context Protocol domain types exchanged
// inside JSON-RPC envelopes: protocol versions, capability advertisements,
// content items, resources, tools, prompts and logging levels.
//
// Validated value types (ProtocolVersion, URI, MimeType) are constructed with
// Parse* helpers; the zero value is never valid.
package protocol
