// Package providers defines the surfaces the MCP router serves: resources,
// tools, prompts and logging configuration.
//
// Providers report failures with the sentinel errors ErrNotFound,
// ErrInvalidParams and ErrExecution, wrapped with detail. The router maps
// them onto JSON-RPC codes; providers never build wire errors themselves.
//
// Reference implementations ship alongside the interfaces: a root-confined
// filesystem resource provider, a math tool set, code review prompts, and
// two logging handlers backed by lumberjack for size-capped files.
package providers
