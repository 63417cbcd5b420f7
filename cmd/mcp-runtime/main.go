// ABOUTME: Entry point for the mcp-runtime host binary
// ABOUTME: Dispatches setup, config, serve, keys and health subcommands

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/mcp-runtime/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                               _   _
  _ __ ___   ___ _ __        _ __ _   _ _ __ | |_(_)_ __ ___   ___
 | '_ ' _ \ / __| '_ \ _____| '__| | | | '_ \| __| | '_ ' _ \ / _ \
 | | | | | | (__| |_) |_____| |  | |_| | | | | |_| | | | | | |  __/
 |_| |_| |_|\___| .__/      |_|   \__,_|_| |_|\__|_|_| |_| |_|\___|
                |_|
`

// Exit codes
const (
	exitOK      = 0
	exitConfig  = 1
	exitRuntime = 2
)

// configError marks failures caused by configuration or usage rather than
// by the running server.
type configError struct {
	err error
}

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func configErr(format string, args ...any) error {
	return &configError{err: fmt.Errorf(format, args...)}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: mcp-runtime <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  setup                         Create config and log directories with a default config")
	fmt.Fprintln(w, "  config [--format yaml|toml]   Print the default configuration")
	fmt.Fprintln(w, "  serve [--transport stdio|http]")
	fmt.Fprintln(w, "                                Start the MCP server")
	fmt.Fprintln(w, "  keys create|list|revoke       Manage API keys")
	fmt.Fprintln(w, "  health                        Check a running HTTP server")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Every command accepts --config PATH (default "+config.DefaultPath()+").")
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(stderr)
		return exitConfig
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch args[0] {
	case "setup":
		err = runSetup(args[1:], stdout)
	case "config":
		err = runConfig(args[1:], stdout)
	case "serve":
		err = runServe(ctx, args[1:], stderr)
	case "keys":
		err = runKeys(ctx, args[1:], stdout)
	case "health":
		err = runHealth(ctx, args[1:], stdout)
	case "help", "-h", "--help":
		usage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		usage(stderr)
		return exitConfig
	}

	if err == nil {
		return exitOK
	}
	red := color.New(color.FgRed)
	red.Fprintf(stderr, "Error: %v\n", err)
	var ce *configError
	if errors.As(err, &ce) {
		return exitConfig
	}
	return exitRuntime
}

// loadConfig reads path, falling back to defaults when the default path
// does not exist yet.
func loadConfig(path string) (*config.Config, error) {
	explicit := path != ""
	if !explicit {
		path = config.DefaultPath()
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !explicit {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, &configError{err: fmt.Errorf("loading config: %w", err)}
	}
	return cfg, nil
}
