// ABOUTME: Builds providers, the MCP server and the HTTP security stack from config
// ABOUTME: Each auth strategy instantiates the generic middleware for its own data type

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/2389/mcp-runtime/internal/auth"
	"github.com/2389/mcp-runtime/internal/authz"
	"github.com/2389/mcp-runtime/internal/config"
	"github.com/2389/mcp-runtime/internal/httpengine"
	"github.com/2389/mcp-runtime/internal/mcp"
	"github.com/2389/mcp-runtime/internal/oauth2"
	"github.com/2389/mcp-runtime/internal/protocol"
	"github.com/2389/mcp-runtime/internal/providers"
	"github.com/2389/mcp-runtime/internal/store"
)

// closers collects resources released when the runtime stops.
type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type closeFunc func()

func (f closeFunc) Close() error {
	f()
	return nil
}

// providerSet is the provider wiring for one server.
type providerSet struct {
	resources providers.ResourceProvider
	tools     providers.ToolProvider
	prompts   providers.PromptProvider
	logging   *providers.StructuredLogging
	config    *providers.ConfigResources
}

func buildProviders(cfg *config.Config, logger *slog.Logger) (*providerSet, error) {
	p := &providerSet{
		logging: providers.NewStructuredLogging(providers.StructuredLoggingOptions{}),
	}

	mux := providers.NewResourceMux()
	hasResources := false
	if root := cfg.Providers.FilesystemRoot; root != "" {
		fs, err := providers.NewFileSystemResources(providers.FileSystemOptions{
			Root:              root,
			AllowedExtensions: cfg.Providers.AllowedExtensions,
			MaxFileSize:       cfg.Providers.MaxFileSize,
		})
		if err != nil {
			return nil, configErr("filesystem provider: %w", err)
		}
		mux.Handle("file", fs)
		hasResources = true
		logger.Info("filesystem resources enabled", "root", fs.Root())
	}
	if cfg.Providers.ConfigResources {
		cr := providers.NewConfigResources()
		publishConfig(cr, cfg)
		mux.Handle("config", cr)
		p.config = cr
		hasResources = true
	}
	if hasResources {
		p.resources = mux
	}

	if cfg.Providers.Math {
		reg := providers.NewToolRegistry(logger)
		if err := reg.Register(providers.MathTools(providers.MathOptions{
			Precision: cfg.Providers.MathPrecision,
			Advanced:  cfg.Providers.AdvancedMath,
		})); err != nil {
			return nil, fmt.Errorf("registering math tools: %w", err)
		}
		p.tools = reg
	}
	if cfg.Providers.Prompts {
		p.prompts = providers.NewCodeReviewPrompts(providers.AllReviews)
	}
	return p, nil
}

// publishConfig exposes the config sections that carry no credentials.
func publishConfig(cr *providers.ConfigResources, cfg *config.Config) {
	cr.Set("server", cfg.Server)
	cr.Set("sessions", cfg.Sessions)
	cr.Set("sse", cfg.SSE)
	cr.Set("buffers", cfg.Buffers)
	cr.Set("providers", cfg.Providers)
}

// reloadConfig republishes the config resources each time hup fires. Only
// the published view changes; listeners and limits keep their startup values.
func reloadConfig(ctx context.Context, hup <-chan os.Signal, load func() (*config.Config, error), cr *providers.ConfigResources, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := load()
			if err != nil {
				logger.Warn("config reload failed", "error", err)
				continue
			}
			publishConfig(cr, cfg)
			logger.Info("config resources reloaded")
		}
	}
}

func newMCPServer(cfg *config.Config, p *providerSet, logger *slog.Logger) *mcp.Server {
	return mcp.NewServer(mcp.Config{
		Info:           protocol.Implementation{Name: cfg.Server.Name, Version: version},
		Instructions:   cfg.Server.Instructions,
		Resources:      p.resources,
		Tools:          p.tools,
		Prompts:        p.prompts,
		Logging:        p.logging,
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         logger,
	})
}

// security is the HTTP auth wiring plus anything it must release.
type security struct {
	stages    httpengine.Security
	discovery httpengine.Discovery
	closers   closers
}

func buildSecurity(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*security, error) {
	authOpts := auth.MiddlewareOptions{
		SkipPaths: cfg.Auth.SkipPaths,
		Realm:     cfg.Auth.Realm,
		Logger:    logger,
	}
	authzOpts := authz.MiddlewareOptions{Logger: logger}
	scopes := scopeValidator(cfg.OAuth2.ScopeMappings)
	public := cfg.Authz.PublicMethods

	sec := &security{}
	switch cfg.Auth.Strategy {
	case config.AuthNone:
		sec.stages = httpengine.NewSecurity[auth.NoAuthData](
			auth.NoneStrategy{}, authz.NoAuthPolicy[auth.NoAuthData]{}, authOpts, authzOpts)

	case config.AuthAPIKey:
		keys, err := keyValidator(cfg.Auth, sec)
		if err != nil {
			return nil, err
		}
		strategy := auth.NewAPIKeyStrategy(keys, cfg.Auth.APIKeyHeader, cfg.Auth.SkipPaths)
		if cfg.Authz.Policy == config.PolicyScope {
			sec.stages = httpengine.NewSecurity[*auth.APIKeyData](
				strategy, authz.NewScopePolicy[*auth.APIKeyData](scopes, public), authOpts, authzOpts)
		} else {
			sec.stages = httpengine.NewSecurity[*auth.APIKeyData](
				strategy, authz.NoAuthPolicy[*auth.APIKeyData]{}, authOpts, authzOpts)
		}

	case config.AuthOAuth2:
		v, err := oauthValidator(ctx, cfg.OAuth2, scopes, sec, logger)
		if err != nil {
			return nil, err
		}
		strategy := auth.NewOAuth2Strategy(v, cfg.Auth.SkipPaths)
		if cfg.Authz.Policy == config.PolicyScope {
			sec.stages = httpengine.NewSecurity[*oauth2.AuthContext](
				strategy, authz.NewScopePolicy[*oauth2.AuthContext](scopes, public), authOpts, authzOpts)
		} else {
			sec.stages = httpengine.NewSecurity[*oauth2.AuthContext](
				strategy, authz.NoAuthPolicy[*oauth2.AuthContext]{}, authOpts, authzOpts)
		}
		sec.discovery = discovery(cfg.OAuth2, scopes)

	default:
		return nil, configErr("unknown auth strategy %q", cfg.Auth.Strategy)
	}
	return sec, nil
}

func scopeValidator(mappings []config.ScopeMapping) *oauth2.ScopeValidator {
	v := oauth2.NewDefaultScopeValidator()
	for _, m := range mappings {
		v.AddMapping(oauth2.ScopeMapping{Method: m.Method, Scope: m.Scope})
	}
	return v
}

// keyValidator checks static keys first and then the key database.
func keyValidator(cfg config.AuthConfig, sec *security) (auth.KeyValidator, error) {
	var chain []auth.KeyValidator
	if len(cfg.StaticKeys) > 0 {
		static := make([]auth.StaticKey, len(cfg.StaticKeys))
		for i, k := range cfg.StaticKeys {
			static[i] = auth.StaticKey{Key: k.Key, Name: k.Name, Scopes: k.Scopes}
		}
		chain = append(chain, auth.NewStaticKeyValidator(static))
	}
	if cfg.KeysDB != "" {
		s, err := store.NewSQLiteStore(cfg.KeysDB)
		if err != nil {
			return nil, fmt.Errorf("opening key store: %w", err)
		}
		sec.closers = append(sec.closers, s)
		chain = append(chain, store.Validator(s))
	}
	if len(chain) == 1 {
		return chain[0], nil
	}
	return auth.KeyValidatorFunc(func(ctx context.Context, key string) (*auth.APIKeyData, error) {
		var err error
		for _, v := range chain {
			var data *auth.APIKeyData
			data, err = v.ValidateKey(ctx, key)
			if !errors.Is(err, auth.ErrInvalidCredentials) {
				return data, err
			}
		}
		return nil, err
	}), nil
}

func oauthValidator(ctx context.Context, cfg config.OAuth2Config, scopes *oauth2.ScopeValidator, sec *security, logger *slog.Logger) (*oauth2.Validator, error) {
	var keys oauth2.KeySource
	if cfg.JWKSURL != "" {
		jwks := oauth2.NewJWKSCache(cfg.JWKSURL, &http.Client{Timeout: 10 * time.Second}, cfg.JWKSRefresh, logger)
		runCtx, cancel := context.WithCancel(ctx)
		go jwks.Run(runCtx)
		sec.closers = append(sec.closers, closeFunc(cancel))
		keys = jwks
	}

	var secret []byte
	if cfg.Secret != "" {
		secret = []byte(cfg.Secret)
	}
	tokens, err := oauth2.NewJWTValidator(oauth2.JWTConfig{
		Issuer:     cfg.Issuer,
		Audience:   cfg.Audience,
		Algorithms: cfg.Algorithms,
		Leeway:     cfg.Leeway,
		Secret:     secret,
	}, keys)
	if err != nil {
		return nil, configErr("oauth2: %w", err)
	}

	cache := oauth2.NewTokenCache(cfg.CacheTTL, cfg.CacheSize)
	sec.closers = append(sec.closers, closeFunc(cache.Close))

	v := oauth2.NewValidator(tokens, scopes, cache)
	v.SetRefreshThreshold(cfg.RefreshThreshold)
	return v, nil
}

func discovery(cfg config.OAuth2Config, scopes *oauth2.ScopeValidator) httpengine.Discovery {
	meta := oauth2.MetadataConfig{
		Issuer:                cfg.Issuer,
		AuthorizationEndpoint: cfg.AuthorizationEndpoint,
		TokenEndpoint:         cfg.TokenEndpoint,
		JWKSURI:               cfg.JWKSURL,
		Resource:              cfg.Resource,
	}
	var d httpengine.Discovery
	if cfg.Issuer != "" {
		doc := oauth2.NewAuthorizationServerMetadata(meta, scopes.RequiredScopes())
		d.AuthorizationServer = &doc
	}
	if cfg.Resource != "" {
		doc := oauth2.NewProtectedResourceMetadata(meta, scopes.RequiredScopes())
		d.ProtectedResource = &doc
	}
	return d
}
