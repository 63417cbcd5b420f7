// Package mcp implements the Model Context Protocol router and handshake on
// top of any transport.Transport, plus a typed client over transport.Client.
//
// # Lifecycle
//
// Every session moves through four states:
//
//	Uninitialized --initialize--> AwaitingInitialized --initialized--> Operational
//	any state --close--> Terminal
//
// Before Operational only initialize and ping are served; everything else is
// rejected with an invalid-state error (-32020). A second initialize on the
// same session is rejected the same way.
//
// # Routing
//
// The method registry is fixed and case-sensitive. Unknown methods produce
// -32601 with the method name as error data. A method whose provider is not
// configured is also reported as not found, and its capability section is
// omitted from the initialize response.
//
// # Errors
//
// Provider errors are mapped at this boundary:
//
//   - providers.ErrInvalidParams and providers.ErrNotFound become -32602
//   - providers.ErrExecution and anything unclassified become -32603
//   - deadline expiry becomes -32004
//
// Error data always carries a "recoverable" flag so clients can decide whether
// to retry.
//
// # Usage
//
//	srv := mcp.NewServer(mcp.Config{
//		Info:  protocol.Implementation{Name: "demo", Version: "1.0.0"},
//		Tools: registry,
//	})
//	t := stdio.NewServer(os.Stdin, os.Stdout, stdio.ServerOptions{})
//	if err := srv.Serve(ctx, t); err != nil {
//		log.Fatal(err)
//	}
package mcp
