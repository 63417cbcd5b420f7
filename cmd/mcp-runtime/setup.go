// ABOUTME: The setup, config and health subcommands
// ABOUTME: setup writes a default config without overwriting an existing one

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"

	"github.com/2389/mcp-runtime/internal/config"
)

func runSetup(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	fs.SetOutput(stdout)
	configPath := fs.String("config", config.DefaultPath(), "config file to create")
	format := fs.String("format", "", "yaml or toml (default from the file extension)")
	force := fs.Bool("force", false, "overwrite an existing config")
	if err := fs.Parse(args); err != nil {
		return &configError{err: err}
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	for _, dir := range []string{filepath.Dir(*configPath), config.LogDir(), config.DataDir()} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
		green.Fprintf(stdout, "  ✓ Directory: %s\n", dir)
	}

	if _, err := os.Stat(*configPath); err == nil && !*force {
		cyan.Fprintf(stdout, "  Using existing config: %s\n", *configPath)
		return nil
	}

	f := *format
	if f == "" {
		f = "yaml"
		if filepath.Ext(*configPath) == ".toml" {
			f = "toml"
		}
	}
	data, err := config.Default().Marshal(f)
	if err != nil {
		return &configError{err: err}
	}
	if err := os.WriteFile(*configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	green.Fprintf(stdout, "  ✓ Created config: %s\n", *configPath)

	fmt.Fprintln(stdout)
	color.New(color.FgYellow).Fprintln(stdout, "  Ready to go:")
	fmt.Fprintln(stdout, "    mcp-runtime serve                    # stdio")
	fmt.Fprintln(stdout, "    mcp-runtime serve --transport http   # streamable HTTP")
	return nil
}

func runConfig(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(stdout)
	format := fs.String("format", "yaml", "yaml or toml")
	if err := fs.Parse(args); err != nil {
		return &configError{err: err}
	}
	data, err := config.Default().Marshal(*format)
	if err != nil {
		return &configError{err: err}
	}
	_, err = stdout.Write(data)
	return err
}

func runHealth(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(stdout)
	configPath := fs.String("config", "", "config file path")
	url := fs.String("url", "", "server base URL (default from server.http_addr)")
	if err := fs.Parse(args); err != nil {
		return &configError{err: err}
	}

	base := *url
	if base == "" {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			return err
		}
		base = "http://" + cfg.Server.HTTPAddr
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return &configError{err: fmt.Errorf("creating request: %w", err)}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.New("unhealthy: status " + resp.Status)
	}
	fmt.Fprintln(stdout, "healthy")
	return nil
}
