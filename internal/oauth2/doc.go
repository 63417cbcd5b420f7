// Package oauth2 validates bearer tokens for the MCP runtime: JWT signature
// and claim checks (HMAC secret or RSA keys from a JWKS endpoint), MCP scope
// rules per JSON-RPC method, a TTL+LRU cache of validated tokens and the
// RFC 8414 / RFC 9728 discovery documents.
package oauth2
