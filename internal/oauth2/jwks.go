// ABOUTME: JWKS key cache: fetches RSA signing keys over HTTP and refreshes them
// ABOUTME: Reads are lock-shared; one background task refreshes on an interval

package oauth2

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// DefaultJWKSRefresh is the background refresh interval.
const DefaultJWKSRefresh = time.Hour

// minRefetchInterval throttles on-demand refetches for unknown key ids.
const minRefetchInterval = 30 * time.Second

type jsonWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jsonWebKeySet struct {
	Keys []jsonWebKey `json:"keys"`
}

// JWKSCache holds RSA keys fetched from a JWKS endpoint.
type JWKSCache struct {
	url      string
	client   *http.Client
	interval time.Duration
	logger   *slog.Logger

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
	fetchMu   sync.Mutex
}

// NewJWKSCache creates a cache for url. A nil client uses a 10s timeout client.
func NewJWKSCache(url string, client *http.Client, interval time.Duration, logger *slog.Logger) *JWKSCache {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if interval <= 0 {
		interval = DefaultJWKSRefresh
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JWKSCache{
		url:      url,
		client:   client,
		interval: interval,
		logger:   logger.With("component", "jwks"),
		keys:     make(map[string]*rsa.PublicKey),
	}
}

// Key returns the key for kid, fetching the set once when it is unknown.
// An empty kid matches the only key when the set holds exactly one.
func (c *JWKSCache) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if k, ok := c.lookup(kid); ok {
		return k, nil
	}

	c.mu.RLock()
	stale := time.Since(c.fetchedAt) > minRefetchInterval
	c.mu.RUnlock()
	if stale {
		if err := c.Refresh(ctx); err != nil {
			return nil, newError(KindJWKSUnavailable, "fetching signing keys", err)
		}
		if k, ok := c.lookup(kid); ok {
			return k, nil
		}
	}
	return nil, fmt.Errorf("unknown signing key %q", kid)
}

func (c *JWKSCache) lookup(kid string) (*rsa.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if kid == "" && len(c.keys) == 1 {
		for _, k := range c.keys {
			return k, true
		}
	}
	k, ok := c.keys[kid]
	return k, ok
}

// Refresh fetches the key set and replaces the cached keys.
func (c *JWKSCache) Refresh(ctx context.Context) error {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("building jwks request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching jwks: unexpected status %d", resp.StatusCode)
	}

	var set jsonWebKeySet
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&set); err != nil {
		return fmt.Errorf("decoding jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.Kty != "RSA" || (jwk.Use != "" && jwk.Use != "sig") {
			continue
		}
		pub, err := parseRSAKey(jwk)
		if err != nil {
			c.logger.Warn("skipping invalid jwk", "kid", jwk.Kid, "error", err)
			continue
		}
		keys[jwk.Kid] = pub
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	c.logger.Debug("refreshed signing keys", "count", len(keys))
	return nil
}

// Run refreshes the key set every interval until ctx is done.
func (c *JWKSCache) Run(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("initial jwks fetch failed", "error", err)
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn("jwks refresh failed", "error", err)
			}
		}
	}
}

func parseRSAKey(jwk jsonWebKey) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	if len(nb) == 0 || len(eb) == 0 || len(eb) > 4 {
		return nil, fmt.Errorf("invalid key parameters")
	}
	e := 0
	for _, b := range eb {
		e = e<<8 | int(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}
