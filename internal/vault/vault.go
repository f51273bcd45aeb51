// internal/vault/vault.go
//
// Vault-backed secret resolution.
//
// Context
// -------
// Provisioning credentials may be written into configuration as
// `vault:mount/path#key` references instead of clear text.  This package
// resolves those references against a KV-v2 mount, caches resolved values
// per key, and keeps the client token renewed in the background.
//
// Public workflow
// ---------------
//
//	cli, err := vault.New(ctx, log.Printf)            // during boot
//	pw, err := cli.Resolve(ctx, "vault:kv/aicms#admin_password", ttl)
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"
)

// RefPrefix marks a config value as a Vault reference.
const RefPrefix = "vault:"

// IsRef reports whether a config value is a `vault:` reference.
func IsRef(v string) bool { return strings.HasPrefix(v, RefPrefix) }

// Client resolves KV-v2 secrets.  Safe for concurrent use; construct once
// at startup.  The zero value is invalid.
type Client struct {
	api   *vault.Client
	logFn func(string, ...any)

	mu    sync.RWMutex
	cache map[string]cachedSecret // "path#key" → value until expiry
}

type cachedSecret struct {
	val     string
	expires time.Time
}

// New builds a client from the standard VAULT_ADDR/VAULT_TOKEN environment
// and starts the token-renewal loop, which runs until ctx is cancelled.
func New(ctx context.Context, logFn func(string, ...any)) (*Client, error) {
	if logFn == nil {
		logFn = func(string, ...any) {}
	}

	cfg := vault.DefaultConfig()
	if err := cfg.ReadEnvironment(); err != nil {
		return nil, fmt.Errorf("vault env cfg: %w", err)
	}
	apiCli, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault api: %w", err)
	}
	if tok := os.Getenv("VAULT_TOKEN"); tok != "" {
		apiCli.SetToken(tok)
	}

	c := &Client{api: apiCli, logFn: logFn, cache: make(map[string]cachedSecret)}
	go c.keepTokenFresh(ctx)
	return c, nil
}

// Resolve parses a `vault:mount/path#key` reference and fetches the value.
// A non-reference input is returned unchanged, so callers can pass config
// values through without checking IsRef first.
func (c *Client) Resolve(ctx context.Context, ref string, ttl time.Duration) (string, error) {
	if !IsRef(ref) {
		return ref, nil
	}
	path, key, ok := strings.Cut(strings.TrimPrefix(ref, RefPrefix), "#")
	if !ok {
		return "", fmt.Errorf("malformed vault reference %q (want vault:path#key)", ref)
	}
	return c.GetKV(ctx, path, key, ttl)
}

// GetKV fetches one key from a KV-v2 secret.  With ttl > 0 the value is
// cached and later callers inside the window get the cached copy.
func (c *Client) GetKV(ctx context.Context, secretPath, key string, ttl time.Duration) (string, error) {
	if secretPath == "" || key == "" {
		return "", errors.New("secret path and key must be non-empty")
	}
	cacheKey := secretPath + "#" + key

	if ttl > 0 {
		c.mu.RLock()
		hit, ok := c.cache[cacheKey]
		c.mu.RUnlock()
		if ok && time.Now().Before(hit.expires) {
			return hit.val, nil
		}
	}

	mount, rel, _ := strings.Cut(secretPath, "/")
	sec, err := c.api.KVv2(mount).Get(ctx, rel)
	if err != nil {
		return "", fmt.Errorf("vault get %s: %w", secretPath, err)
	}
	raw, ok := sec.Data[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret %q", key, secretPath)
	}
	val, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("value at %s#%s is not a string", secretPath, key)
	}

	if ttl > 0 {
		c.mu.Lock()
		c.cache[cacheKey] = cachedSecret{val: val, expires: time.Now().Add(ttl)}
		c.mu.Unlock()
	}
	return val, nil
}

// keepTokenFresh probes the token, and when it is renewable hands it to a
// lifetime watcher.  Non-renewable tokens are re-probed hourly; transient
// errors back off and retry.
func (c *Client) keepTokenFresh(ctx context.Context) {
	for ctx.Err() == nil {
		sec, err := c.api.Auth().Token().RenewSelf(0)
		if err != nil {
			c.logFn("vault: token renew self failed: %v", err)
			sleepCtx(ctx, 30*time.Second)
			continue
		}
		if sec == nil || sec.Auth == nil || !sec.Auth.Renewable {
			c.logFn("vault: token is not renewable, re-probing in 1h")
			sleepCtx(ctx, time.Hour)
			continue
		}

		watcher, err := c.api.NewLifetimeWatcher(&vault.LifetimeWatcherInput{
			Secret: sec,
			Grace:  15 * time.Second,
		})
		if err != nil {
			c.logFn("vault: watcher init error: %v", err)
			sleepCtx(ctx, 30*time.Second)
			continue
		}
		go watcher.Start()
		c.watch(ctx, watcher)
	}
}

// watch drains one watcher until it stops or ctx is cancelled.
func (c *Client) watch(ctx context.Context, w *vault.LifetimeWatcher) {
	defer w.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-w.DoneCh():
			if err != nil {
				c.logFn("vault: token renewal stopped: %v", err)
			}
			sleepCtx(ctx, 15*time.Second)
			return
		case ev := <-w.RenewCh():
			if ev != nil && ev.Secret != nil && ev.Secret.Auth != nil {
				c.logFn("vault: token renewed, ttl=%ds", ev.Secret.Auth.LeaseDuration)
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
