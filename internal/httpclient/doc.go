// Package httpclient is the client side of the HTTP engine: a
// transport.Client that POSTs JSON-RPC envelopes to /mcp.
//
// The client remembers the Mcp-Session-Id the server assigns and echoes it on
// every later request, so an mcp.Client on top keeps one server session.
// Stream opens GET /mcp as an event stream and hands server-initiated
// messages to a callback.
//
//	c, err := httpclient.New(httpclient.Options{URL: "http://127.0.0.1:8080/mcp", BearerToken: tok})
//	mc := mcp.NewClient(c, protocol.Implementation{Name: "cli", Version: "1"})
//	_, err = mc.Initialize(ctx)
package httpclient
