// ABOUTME: The serve subcommand: runs the MCP server over stdio or HTTP
// ABOUTME: In stdio mode nothing but protocol frames is written to stdout

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/mcp-runtime/internal/bufpool"
	"github.com/2389/mcp-runtime/internal/config"
	"github.com/2389/mcp-runtime/internal/httpengine"
	"github.com/2389/mcp-runtime/internal/logging"
	"github.com/2389/mcp-runtime/internal/mcp"
	"github.com/2389/mcp-runtime/internal/session"
	"github.com/2389/mcp-runtime/internal/transport/stdio"
)

func runServe(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "config file path")
	transportName := fs.String("transport", "", "transport: stdio or http (overrides config)")
	addr := fs.String("addr", "", "HTTP listen address (overrides config)")
	if err := fs.Parse(args); err != nil {
		return &configError{err: err}
	}

	load := func() (*config.Config, error) {
		cfg, err := loadConfig(*configPath)
		if err != nil {
			return nil, err
		}
		if *transportName != "" {
			cfg.Server.Transport = *transportName
		}
		if *addr != "" {
			cfg.Server.HTTPAddr = *addr
		}
		if err := cfg.Validate(); err != nil {
			return nil, &configError{err: err}
		}
		return cfg, nil
	}
	cfg, err := load()
	if err != nil {
		return err
	}

	// Logs never go to stdout: stdio mode owns it for protocol frames.
	sink := logging.OpenSink(cfg.Logging, stderr)
	defer sink.Close()
	logger := logging.Setup(cfg.Logging, sink)
	slog.SetDefault(logger)

	printStartup(stderr, cfg)

	p, err := buildProviders(cfg, logger)
	if err != nil {
		return err
	}
	defer p.logging.Close()
	srv := newMCPServer(cfg, p, logger)
	defer srv.Close()
	if p.config != nil {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go reloadConfig(ctx, hup, load, p.config, logger)
	}

	logger.Info("starting mcp-runtime",
		"version", version,
		"transport", cfg.Server.Transport,
		"auth", cfg.Auth.Strategy,
		"authz", cfg.Authz.Policy,
	)

	if cfg.Server.Transport == config.TransportStdio {
		return serveStdio(ctx, srv, os.Stdin, os.Stdout, logger)
	}
	return serveHTTP(ctx, cfg, srv, logger)
}

func printStartup(w io.Writer, cfg *config.Config) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Fprint(w, banner)
	gray.Fprintf(w, "    version: %s\n\n", version)

	green.Fprint(w, "    ▶ ")
	fmt.Fprintf(w, "Transport: %s\n", cfg.Server.Transport)
	if cfg.Server.Transport == config.TransportHTTP {
		green.Fprint(w, "    ▶ ")
		fmt.Fprintf(w, "HTTP:      %s\n", cfg.Server.HTTPAddr)
		green.Fprint(w, "    ▶ ")
		fmt.Fprintf(w, "Auth:      %s / %s\n", cfg.Auth.Strategy, cfg.Authz.Policy)
	}
	if cfg.Tailscale.Enabled {
		green.Fprint(w, "    ▶ ")
		fmt.Fprint(w, "Tailscale: ")
		cyan.Fprint(w, cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Fprint(w, " [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Fprint(w, " (ephemeral)")
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)
}

// serveStdio runs until the peer closes stdin or ctx is cancelled.
func serveStdio(ctx context.Context, srv *mcp.Server, in io.Reader, out io.Writer, logger *slog.Logger) error {
	t := stdio.NewServer(in, out, stdio.ServerOptions{Logger: logger})
	if err := srv.Serve(ctx, t); err != nil {
		return fmt.Errorf("starting stdio transport: %w", err)
	}
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case <-t.Done():
		logger.Info("stdin closed")
	}
	return t.Close()
}

func serveHTTP(ctx context.Context, cfg *config.Config, srv *mcp.Server, logger *slog.Logger) error {
	sec, err := buildSecurity(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sec.closers.Close()

	buffers, err := bufpool.NewStrategy(cfg.Buffers.Strategy, bufpool.Config{
		MaxBuffers: cfg.Buffers.MaxBuffers,
		BufferSize: cfg.Buffers.BufferSize,
	})
	if err != nil {
		return &configError{err: err}
	}

	sessions := session.NewManager(cfg.Sessions.MaxConnections, session.HealthConfig{
		CheckInterval:            cfg.Sessions.CheckInterval,
		IdleTimeout:              cfg.Sessions.IdleTimeout,
		MaxRequestsPerConnection: cfg.Sessions.MaxRequests,
		RequestsPerSecond:        cfg.Sessions.RequestsPerSecond,
		Burst:                    cfg.Sessions.Burst,
	}, logger)

	engine := httpengine.New(httpengine.Config{
		Addr:           cfg.Server.HTTPAddr,
		MaxBodySize:    cfg.Server.MaxBodySize,
		RequestTimeout: cfg.Server.RequestTimeout,
		ShutdownGrace:  cfg.Server.ShutdownGrace,
		Buffers:        buffers,
		Sessions:       sessions,
		Security:       sec.stages,
		SSE: httpengine.SSEConfig{
			HeartbeatInterval: cfg.SSE.HeartbeatInterval,
			Retry:             cfg.SSE.Retry,
			BufferSize:        cfg.SSE.BufferSize,
			Legacy:            cfg.SSE.Legacy,
		},
		Discovery: sec.discovery,
		Tailscale: httpengine.TailscaleConfig{
			Enabled:   cfg.Tailscale.Enabled,
			Hostname:  cfg.Tailscale.Hostname,
			StateDir:  cfg.Tailscale.StateDir,
			AuthKey:   cfg.Tailscale.AuthKey,
			Ephemeral: cfg.Tailscale.Ephemeral,
			HTTPS:     cfg.Tailscale.HTTPS,
			Funnel:    cfg.Tailscale.Funnel,
		},
		SessionClosed: srv.CloseSession,
		Logger:        logger,
	})
	engine.SetMessageHandler(srv)
	srv.Attach(engine)

	return engine.Run(ctx)
}
