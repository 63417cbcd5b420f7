// Package jsonrpc implements the JSON-RPC 2.0 message model used by every transport.
//
// # Envelope
//
// A single Message type carries requests, responses and notifications. Classify
// decides which one a decoded message is:
//
//   - Request: method and id present
//   - Notification: method present, id absent
//   - Response: id present and exactly one of result / error
//
// Anything else is Invalid and must be answered with -32600.
//
// # Identifiers
//
// Request ids are either strings or 64-bit integers. ID keeps the kind it was
// decoded with so that responses echo exactly what the peer sent:
//
//	id := jsonrpc.IntID(1)
//	req, _ := jsonrpc.NewRequest(id, "tools/list", nil)
//
// # Codec
//
// Decode never panics on hostile input. Malformed JSON produces a ParseError
// (-32700) that the caller answers with a null id; envelopes with the wrong
// version tag are rejected as invalid requests while preserving the id.
package jsonrpc
