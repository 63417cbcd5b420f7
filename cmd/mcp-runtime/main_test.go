// ABOUTME: Tests for the host binary's subcommands and wiring
// ABOUTME: Exercises exit codes, key management, stdio serving and security assembly

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mcp-runtime/internal/auth"
	"github.com/2389/mcp-runtime/internal/config"
	"github.com/2389/mcp-runtime/internal/httpengine"
	"github.com/2389/mcp-runtime/internal/jsonrpc"
	"github.com/2389/mcp-runtime/internal/providers"
	"github.com/2389/mcp-runtime/internal/store"
)

func isolateDirs(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("MCP_RUNTIME_CONFIG_DIR", filepath.Join(dir, "config"))
	t.Setenv("MCP_RUNTIME_LOG_DIR", filepath.Join(dir, "logs"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	return dir
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExitCodes(t *testing.T) {
	isolateDirs(t)
	var out, errOut bytes.Buffer

	assert.Equal(t, exitConfig, run(nil, &out, &errOut))
	assert.Equal(t, exitConfig, run([]string{"frobnicate"}, &out, &errOut))
	assert.Equal(t, exitOK, run([]string{"help"}, &out, &errOut))
	assert.Equal(t, exitConfig, run([]string{"config", "--format", "ini"}, &out, &errOut))
	assert.Equal(t, exitConfig, run([]string{"serve", "--transport", "carrier-pigeon"}, &out, &errOut))
	assert.Equal(t, exitConfig, run([]string{"serve", "--config", "/does/not/exist.yaml"}, &out, &errOut))
}

func TestConfigCommandWritesLoadableConfig(t *testing.T) {
	isolateDirs(t)
	for _, format := range []string{"yaml", "toml"} {
		t.Run(format, func(t *testing.T) {
			var out bytes.Buffer
			require.Equal(t, exitOK, run([]string{"config", "--format", format}, &out, io.Discard))
			cfg, err := config.Parse(out.String(), format)
			require.NoError(t, err)
			assert.NoError(t, cfg.Validate())
			assert.Equal(t, config.TransportStdio, cfg.Server.Transport)
		})
	}
}

func TestSetup(t *testing.T) {
	dir := isolateDirs(t)
	var out bytes.Buffer
	require.Equal(t, exitOK, run([]string{"setup"}, &out, io.Discard))

	path := config.DefaultPath()
	_, err := config.Load(path)
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(dir, "logs"))
	assert.DirExists(t, filepath.Join(dir, "data", "mcp-runtime"))

	require.NoError(t, os.WriteFile(path, []byte("server:\n  name: custom\n"), 0600))
	out.Reset()
	require.Equal(t, exitOK, run([]string{"setup"}, &out, io.Discard))
	assert.Contains(t, out.String(), "Using existing config")
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom", cfg.Server.Name)
}

var plaintextKey = regexp.MustCompile(`mcpk_[0-9a-f]+_[0-9a-f]+`)

func TestKeysLifecycle(t *testing.T) {
	isolateDirs(t)
	db := filepath.Join(t.TempDir(), "keys.db")
	var out bytes.Buffer

	require.Equal(t, exitOK, run([]string{"keys", "create", "--db", db, "--name", "ci", "--scopes", "mcp:tools:read, mcp:tools:execute"}, &out, io.Discard))
	key := plaintextKey.FindString(out.String())
	require.NotEmpty(t, key)

	s, err := store.NewSQLiteStore(db)
	require.NoError(t, err)
	k, err := s.ValidateKey(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, []string{"mcp:tools:read", "mcp:tools:execute"}, k.Scopes)
	require.NoError(t, s.Close())

	out.Reset()
	require.Equal(t, exitOK, run([]string{"keys", "list", "--db", db}, &out, io.Discard))
	assert.Contains(t, out.String(), k.ID)
	assert.Contains(t, out.String(), "active")

	require.Equal(t, exitOK, run([]string{"keys", "revoke", "--db", db, k.ID}, &out, io.Discard))
	out.Reset()
	require.Equal(t, exitOK, run([]string{"keys", "list", "--db", db}, &out, io.Discard))
	assert.Contains(t, out.String(), "revoked")

	assert.Equal(t, exitConfig, run([]string{"keys", "revoke", "--db", db, "missing"}, &out, io.Discard))
	assert.Equal(t, exitConfig, run([]string{"keys", "create", "--db", db}, &out, io.Discard))
	assert.Equal(t, exitConfig, run([]string{"keys", "rotate", "--db", db}, &out, io.Discard))
}

func TestHealthCommand(t *testing.T) {
	isolateDirs(t)
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	sick := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer sick.Close()

	var out bytes.Buffer
	assert.Equal(t, exitOK, run([]string{"health", "--url", healthy.URL}, &out, io.Discard))
	assert.Contains(t, out.String(), "healthy")
	assert.Equal(t, exitRuntime, run([]string{"health", "--url", sick.URL}, &out, io.Discard))
}

func TestServeStdio(t *testing.T) {
	cfg := config.Default()
	cfg.Providers.MathPrecision = 1
	p, err := buildProviders(cfg, quietLogger())
	require.NoError(t, err)
	srv := newMCPServer(cfg, p, quietLogger())
	defer srv.Close()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- serveStdio(context.Background(), srv, inR, outW, quietLogger()) }()

	lines := bufio.NewScanner(outR)
	roundTrip := func(line string) *jsonrpc.Message {
		t.Helper()
		_, err := io.WriteString(inW, line+"\n")
		require.NoError(t, err)
		require.True(t, lines.Scan())
		msg, err := jsonrpc.Decode(lines.Bytes())
		require.NoError(t, err)
		return msg
	}

	initResp := roundTrip(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"t","version":"0"}}}`)
	require.Nil(t, initResp.Error)
	var res map[string]any
	require.NoError(t, json.Unmarshal(initResp.Result, &res))
	assert.Equal(t, "2025-06-18", res["protocolVersion"])

	_, err = io.WriteString(inW, `{"jsonrpc":"2.0","method":"notifications/initialized"}`+"\n")
	require.NoError(t, err)

	call := roundTrip(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"add","arguments":{"a":1,"b":2}}}`)
	require.Nil(t, call.Error)
	assert.Contains(t, string(call.Result), `3.0`)

	go func() { _, _ = io.Copy(io.Discard, outR) }()
	require.NoError(t, inW.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serveStdio did not return after stdin closed")
	}
}

func TestBuildProviders(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hi"), 0600))

	cfg := config.Default()
	cfg.Providers.FilesystemRoot = root
	cfg.Providers.ConfigResources = true
	cfg.Providers.Prompts = false
	p, err := buildProviders(cfg, quietLogger())
	require.NoError(t, err)
	require.NotNil(t, p.resources)
	assert.NotNil(t, p.tools)
	assert.Nil(t, p.prompts)

	list, err := p.resources.ListResources(context.Background())
	require.NoError(t, err)
	var uris []string
	for _, r := range list {
		uris = append(uris, string(r.URI))
	}
	assert.Contains(t, strings.Join(uris, " "), "notes.txt")
	assert.Contains(t, strings.Join(uris, " "), "config://server")

	cfg.Providers.FilesystemRoot = filepath.Join(root, "missing")
	_, err = buildProviders(cfg, quietLogger())
	var ce *configError
	assert.ErrorAs(t, err, &ce)
}

func TestReloadConfigPublishesChangedSections(t *testing.T) {
	cfg := config.Default()
	cr := providers.NewConfigResources()
	publishConfig(cr, cfg)

	updates := make(chan string, 8)
	cr.OnChange(func(c providers.Change) { updates <- c.URI })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hup := make(chan os.Signal)
	loads := 0
	load := func() (*config.Config, error) {
		loads++
		next := config.Default()
		if loads > 1 {
			next.Server.Name = "renamed"
		}
		return next, nil
	}
	done := make(chan struct{})
	go func() {
		reloadConfig(ctx, hup, load, cr, quietLogger())
		close(done)
	}()

	hup <- os.Interrupt
	hup <- os.Interrupt
	select {
	case uri := <-updates:
		assert.Equal(t, "config://server", uri)
	case <-time.After(2 * time.Second):
		t.Fatal("no update after reload")
	}
	assert.Empty(t, updates, "an unchanged reload publishes nothing")

	v, ok := cr.Get("server")
	require.True(t, ok)
	assert.Equal(t, "renamed", v.(config.ServerConfig).Name)

	cancel()
	<-done
}

func TestAPIKeySecurityChecksStaticKeysThenStore(t *testing.T) {
	db := filepath.Join(t.TempDir(), "keys.db")
	s, err := store.NewSQLiteStore(db)
	require.NoError(t, err)
	stored, _, err := s.CreateKey(context.Background(), "stored", []string{"mcp:*"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	cfg := config.Default()
	cfg.Server.Transport = config.TransportHTTP
	cfg.Auth.Strategy = config.AuthAPIKey
	cfg.Auth.KeysDB = db
	cfg.Auth.StaticKeys = []config.StaticKey{{Name: "reader", Key: "static-key", Scopes: []string{"mcp:tools:read"}}}
	cfg.Authz.Policy = config.PolicyScope
	require.NoError(t, cfg.Validate())

	sec, err := buildSecurity(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer sec.closers.Close()

	p, err := buildProviders(cfg, quietLogger())
	require.NoError(t, err)
	srv := newMCPServer(cfg, p, quietLogger())
	defer srv.Close()
	e := httpengine.New(httpengine.Config{Security: sec.stages, SessionClosed: srv.CloseSession, Logger: quietLogger()})
	e.SetMessageHandler(srv)
	srv.Attach(e)
	defer e.Close()
	ts := httptest.NewServer(e)
	defer ts.Close()

	post := func(key, body string) int {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		if key != "" {
			req.Header.Set(auth.DefaultAPIKeyHeader, key)
		}
		resp, err := ts.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	list := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`
	call := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"add","arguments":{"a":1,"b":2}}}`

	assert.Equal(t, http.StatusUnauthorized, post("", list))
	assert.Equal(t, http.StatusUnauthorized, post("wrong", list))
	assert.Equal(t, http.StatusForbidden, post("static-key", call))
	assert.NotEqual(t, http.StatusUnauthorized, post(stored, list))
	assert.NotEqual(t, http.StatusForbidden, post(stored, call))
}

func TestOAuth2SecurityDiscovery(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Transport = config.TransportHTTP
	cfg.Auth.Strategy = config.AuthOAuth2
	cfg.OAuth2.Secret = "0123456789abcdef0123456789abcdef"
	cfg.OAuth2.Issuer = "https://issuer.test"
	cfg.OAuth2.Resource = "https://mcp.test"
	cfg.OAuth2.ScopeMappings = []config.ScopeMapping{{Method: "tools/list", Scope: "mcp:catalog"}}
	require.NoError(t, cfg.Validate())

	sec, err := buildSecurity(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer sec.closers.Close()

	require.NotNil(t, sec.discovery.AuthorizationServer)
	require.NotNil(t, sec.discovery.ProtectedResource)
	assert.Equal(t, "https://issuer.test", sec.discovery.AuthorizationServer.Issuer)
	assert.Contains(t, sec.discovery.ProtectedResource.ScopesSupported, "mcp:catalog")
	assert.NotNil(t, sec.stages.Authenticate)
	assert.NotNil(t, sec.stages.Authorize)

	cfg.OAuth2.Algorithms = []string{"none"}
	_, err = buildSecurity(context.Background(), cfg, quietLogger())
	var ce *configError
	assert.ErrorAs(t, err, &ce)
}
