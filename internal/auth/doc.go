// Package auth authenticates inbound MCP requests.
//
// # Strategies
//
// A Strategy turns a transport-specific request into an authentication
// Context carrying strategy-specific data:
//
//   - NoneStrategy: every request is accepted (local development, STDIO).
//   - APIKeyStrategy: a static or stored API key in a configured header or
//     an Authorization: Bearer header.
//   - OAuth2Strategy: a bearer JWT verified by an oauth2.Validator.
//
// # HTTP Middleware
//
// Middleware is generic over the strategy's data type and the strategy
// itself, so each wiring is compiled for one concrete strategy:
//
//	mw := auth.Middleware[*oauth2.AuthContext](auth.NewOAuth2Strategy(v), auth.MiddlewareOptions{Realm: "mcp"})
//
// Skip paths (default /health) bypass authentication. Failures are answered
// with 401 and an RFC 6750 WWW-Authenticate challenge.
//
// Authorization of the JSON-RPC method is a separate stage (package authz)
// that reads the Context attached here with FromContext.
package auth
