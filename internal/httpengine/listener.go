// ABOUTME: Listener setup for the engine: plain TCP or a tailnet node via tsnet
// ABOUTME: Tailnet mode supports plain HTTP, HTTPS with tailnet certs, or funnel

package httpengine

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"tailscale.com/tsnet"
)

func (e *Engine) listen(ctx context.Context) (net.Listener, error) {
	if e.cfg.Tailscale.Enabled {
		return e.listenTailscale(ctx)
	}
	ln, err := net.Listen("tcp", e.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "mcp-runtime", "tailscale"), nil
}

func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

func (e *Engine) listenTailscale(ctx context.Context) (net.Listener, error) {
	tsCfg := e.cfg.Tailscale
	if e.cfg.Addr != DefaultAddr {
		e.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", e.cfg.Addr)
	}

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}
	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	ts := &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}
	e.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := ts.Up(ctx)
	if err != nil {
		_ = ts.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	var dnsName string
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	e.logger.Info("tailscale node ready", "hostname", tsCfg.Hostname, "dns_name", dnsName)

	ln, err := e.tailnetListener(ts)
	if err != nil {
		_ = ts.Close()
		return nil, err
	}
	e.mu.Lock()
	e.ts = ts
	e.mu.Unlock()
	return ln, nil
}

func (e *Engine) tailnetListener(ts *tsnet.Server) (net.Listener, error) {
	tsCfg := e.cfg.Tailscale
	switch {
	case tsCfg.Funnel:
		e.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := ts.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		ln, err := ts.Listen("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
		}
		lc, err := ts.LocalClient()
		if err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("getting tailscale local client: %w", err)
		}
		return tls.NewListener(ln, &tls.Config{
			GetCertificate: lc.GetCertificate,
			MinVersion:     tls.VersionTLS12,
		}), nil
	default:
		ln, err := ts.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}
