// Package authz decides whether an authenticated caller may invoke a
// JSON-RPC method. The method always comes from the decoded request body;
// URL paths are never consulted.
package authz
