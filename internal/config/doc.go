// Package config handles configuration loading for mcp-runtime.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files (chosen by extension) with
// environment variable expansion. Keys missing from the file keep the values
// from Default, which serves stdio with no authentication.
//
// # Configuration File
//
// Default location: ConfigDir()/config.yaml, where ConfigDir is
//
//  1. MCP_RUNTIME_CONFIG_DIR
//  2. $XDG_CONFIG_HOME/mcp-runtime
//  3. ~/.config/mcp-runtime
//
// Logs go to LogDir (MCP_RUNTIME_LOG_DIR or the XDG state directory) and the
// API key database to DataDir.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	oauth2:
//	  secret: "${MCP_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	server:
//	  request_timeout: "30s"
//	  shutdown_grace: "5s"
//	sse:
//	  heartbeat_interval: "30s"
//
// # Generating a Config
//
// Marshal renders a Config in either format, which is how the setup and
// config commands write a starting file:
//
//	data, err := config.Default().Marshal("toml")
package config
