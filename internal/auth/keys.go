package auth

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	util "github.com/CodeAndHammer/duelqueue/internal/util"
)

// KeyFetcher loads the issuer's current verification keys and how long they
// may be cached. A zero maxAge means the issuer sent no cache directive.
type KeyFetcher interface {
	FetchKeys(ctx context.Context) (keys map[string]crypto.PublicKey, maxAge time.Duration, err error)
}

// HTTPKeyFetcher reads a JSON object of kid to PEM certificate or public key.
type HTTPKeyFetcher struct {
	URL       string
	Algorithm string
	Client    *http.Client
}

func (f *HTTPKeyFetcher) FetchKeys(ctx context.Context) (map[string]crypto.PublicKey, time.Duration, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build key request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch keys: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("fetch keys: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("read keys: %w", err)
	}
	var raw map[string]string
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, 0, fmt.Errorf("decode keys: %w", err)
	}

	keys := make(map[string]crypto.PublicKey, len(raw))
	for kid, pemData := range raw {
		key, err := parsePublicKeyPEM(f.Algorithm, []byte(pemData))
		if err != nil {
			util.LogWarn("Skipping key %s: %v", kid, err)
			continue
		}
		keys[kid] = key
	}
	if len(keys) == 0 {
		return nil, 0, fmt.Errorf("fetch keys: no usable keys in response")
	}
	return keys, parseMaxAge(resp.Header.Get("Cache-Control")), nil
}

func parsePublicKeyPEM(alg string, data []byte) (crypto.PublicKey, error) {
	switch {
	case strings.HasPrefix(alg, "RS"), strings.HasPrefix(alg, "PS"):
		return jwt.ParseRSAPublicKeyFromPEM(data)
	case strings.HasPrefix(alg, "ES"):
		return jwt.ParseECPublicKeyFromPEM(data)
	case alg == "EdDSA":
		return jwt.ParseEdPublicKeyFromPEM(data)
	default:
		return nil, fmt.Errorf("no PEM key parser for alg %q", alg)
	}
}

// parseMaxAge extracts max-age from a Cache-Control header value.
func parseMaxAge(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		directive = strings.ToLower(strings.TrimSpace(directive))
		value, ok := strings.CutPrefix(directive, "max-age=")
		if !ok {
			continue
		}
		secs, err := strconv.Atoi(strings.Trim(value, `"`))
		if err != nil || secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	return 0
}

// KeyCache holds verification keys by kid until the issuer's cache directive
// expires. It refreshes only on expiry, never because a kid is missing.
type KeyCache struct {
	fetcher       KeyFetcher
	minRefresh    time.Duration
	defaultMaxAge time.Duration
	now           func() time.Time

	mu        sync.RWMutex
	keys      map[string]crypto.PublicKey
	expiresAt time.Time

	group singleflight.Group
}

func NewKeyCache(fetcher KeyFetcher, minRefresh, defaultMaxAge time.Duration, now func() time.Time) *KeyCache {
	if now == nil {
		now = time.Now
	}
	if defaultMaxAge <= 0 {
		defaultMaxAge = time.Hour
	}
	return &KeyCache{
		fetcher:       fetcher,
		minRefresh:    minRefresh,
		defaultMaxAge: defaultMaxAge,
		now:           now,
		keys:          map[string]crypto.PublicKey{},
	}
}

func (c *KeyCache) Expired() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.now().Before(c.expiresAt)
}

// Lookup returns the key for kid, refreshing first if the cache has expired.
func (c *KeyCache) Lookup(ctx context.Context, kid string) (crypto.PublicKey, error) {
	if c.Expired() {
		if err := c.Refresh(ctx); err != nil {
			util.LogWarn("Key refresh failed, using cached keys: %v", err)
		}
	}
	c.mu.RLock()
	key, ok := c.keys[kid]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: kid %q", ErrUnknownKey, kid)
	}
	return key, nil
}

// Refresh fetches the key set. Concurrent callers share one fetch. On failure
// the previous keys stay in place and the next attempt waits minRefresh.
func (c *KeyCache) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		keys, maxAge, err := c.fetcher.FetchKeys(ctx)
		now := c.now()
		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			c.expiresAt = now.Add(c.minRefresh)
			return nil, err
		}
		if maxAge <= 0 {
			maxAge = c.defaultMaxAge
		}
		if maxAge < c.minRefresh {
			maxAge = c.minRefresh
		}
		c.keys = keys
		c.expiresAt = now.Add(maxAge)
		util.LogInfo("Loaded %d verification keys, valid for %v", len(keys), maxAge)
		return nil, nil
	})
	return err
}
