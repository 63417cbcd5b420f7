// Package httpengine serves MCP over HTTP.
//
// The engine mounts:
//
//	POST   /mcp        one JSON-RPC envelope per request, JSON response
//	GET    /mcp        SSE stream of server-initiated messages for a session
//	DELETE /mcp        terminate a session
//	GET    /health     liveness, never authenticated by default
//	GET    /sse        legacy stream announcing a POST endpoint (optional)
//	POST   /messages   legacy inbound endpoint, replies go to the stream (optional)
//	GET    /.well-known/oauth-authorization-server (optional)
//	GET    /.well-known/oauth-protected-resource   (optional)
//
// POST requests flow through authentication, body parsing, authorization and
// the message handler, in that order. The parser attaches the decoded
// envelope to the request context; the authorization stage reads the method
// from it, never from the URL, so /mcp/<anything> behaves exactly like /mcp.
//
// The Engine implements transport.Transport. A request is handed to the
// MessageHandler and the POST waits for the handler to Send a response with
// the same session and id. Anything else the handler sends is fanned out to
// the session's SSE streams.
package httpengine
