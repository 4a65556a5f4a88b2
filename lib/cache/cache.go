/*
 * Authen Gateway
 * Copyright (C) 2026  Authen Authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package cache implements the gateway's cache-aside resolvers: hot Redis
// lookups for application snapshots, enabled login methods, granted
// scopes and encrypted OAuth configuration, each falling back to the
// relational configuration store on a miss. Nothing in the cache is
// authoritative; every key can be rebuilt from the store, so invalidation
// is always deletion, never in-place mutation.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gravitational/trace"
	"github.com/redis/go-redis/v9"

	gateway "github.com/Johnie198946/Authen-sub000"
	"github.com/Johnie198946/Authen-sub000/lib/defaults"
	"github.com/Johnie198946/Authen-sub000/lib/metrics"
	"github.com/Johnie198946/Authen-sub000/lib/secret"
	"github.com/Johnie198946/Authen-sub000/lib/services"
)

// ErrAppDisabled is returned by VerifyApplication when the presented
// secret matched but the application is not active. It is deliberately
// distinct from the uniform invalid-credentials failure: status is only
// ever inspected after a hash match, so it cannot be used to probe for
// application existence.
var ErrAppDisabled = errors.New("application is disabled")

// Config holds the resolver configuration.
type Config struct {
	// Client is the shared Redis client.
	Client redis.UniversalClient
	// Store is the relational configuration store of record.
	Store services.ConfigStore
	// Key opens the encrypted OAuth configuration blobs.
	Key secret.Key
	// TTL bounds every cache entry.
	TTL time.Duration
	// Logger, optional.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Client == nil {
		return trace.BadParameter("missing redis client")
	}
	if c.Store == nil {
		return trace.BadParameter("missing config store")
	}
	if len(c.Key) == 0 {
		return trace.BadParameter("missing oauth decryption key")
	}
	if c.TTL <= 0 {
		c.TTL = defaults.CacheTTL
	}
	if c.Logger == nil {
		c.Logger = slog.Default().With(gateway.ComponentKey, gateway.ComponentCache)
	}
	return nil
}

// Cache resolves application configuration through Redis with the store
// as fallback.
type Cache struct {
	cfg Config
}

// New returns a resolver for the given configuration.
func New(cfg Config) (*Cache, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Cache{cfg: cfg}, nil
}

// appSnapshot is the cached wire form of an application record. Unlike
// the API-facing Application marshalling it carries the secret hash, so
// credential verification on a cache hit needs no store round trip. The
// hash is one-way; the snapshot never contains a plaintext secret.
type appSnapshot struct {
	ID         string    `json:"app_id"`
	Name       string    `json:"name"`
	SecretHash string    `json:"secret_hash"`
	Status     string    `json:"status"`
	RateLimit  int       `json:"rate_limit"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func snapshotOf(app *services.Application) appSnapshot {
	return appSnapshot{
		ID:         app.ID,
		Name:       app.Name,
		SecretHash: app.SecretHash,
		Status:     app.Status,
		RateLimit:  app.RateLimit,
		CreatedAt:  app.CreatedAt,
		UpdatedAt:  app.UpdatedAt,
	}
}

func (s *appSnapshot) application() *services.Application {
	return &services.Application{
		ID:         s.ID,
		Name:       s.Name,
		SecretHash: s.SecretHash,
		Status:     s.Status,
		RateLimit:  s.RateLimit,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

// GetApplication loads the application snapshot cache-aside. It returns
// trace.NotFound only when the record does not exist in the store.
func (c *Cache) GetApplication(ctx context.Context, appID string) (*services.Application, error) {
	key := appKey(appID)
	cached, err := c.cfg.Client.Get(ctx, key).Result()
	switch {
	case err == nil:
		var snap appSnapshot
		if err := json.Unmarshal([]byte(cached), &snap); err == nil {
			metrics.CacheHits.WithLabelValues("app").Inc()
			return snap.application(), nil
		}
		// Corrupt entry: evict and fall through to the store.
		c.cfg.Client.Del(ctx, key)
	case !errors.Is(err, redis.Nil):
		// The cache being down degrades to store reads, it does not
		// fail the request.
		c.cfg.Logger.WarnContext(ctx, "application cache read failed", "error", err)
	}
	metrics.CacheMisses.WithLabelValues("app").Inc()

	app, err := c.cfg.Store.GetApplication(ctx, appID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if out, err := json.Marshal(snapshotOf(app)); err == nil {
		if err := c.cfg.Client.Set(ctx, key, out, c.cfg.TTL).Err(); err != nil {
			c.cfg.Logger.WarnContext(ctx, "application cache write failed", "error", err)
		}
	}
	return app, nil
}

// VerifyApplication authenticates per-application credentials. An unknown
// application, a missing secret and a mismatched secret are all the same
// access-denied failure so the endpoint cannot be used as an existence
// oracle; the hash comparison always runs before status is looked at.
func (c *Cache) VerifyApplication(ctx context.Context, appID, appSecret string) (*services.Application, error) {
	if appID == "" || appSecret == "" {
		return nil, trace.AccessDenied("invalid application credentials")
	}
	app, err := c.GetApplication(ctx, appID)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.AccessDenied("invalid application credentials")
		}
		return nil, trace.Wrap(err)
	}
	if err := app.CheckSecret(appSecret); err != nil {
		return nil, trace.AccessDenied("invalid application credentials")
	}
	if !app.IsActive() {
		return nil, trace.Wrap(ErrAppDisabled)
	}
	return app, nil
}

// GetEnabledMethods returns the application's enabled login methods. An
// unknown application yields an empty set; empty sets are not written
// back so a later configuration change is picked up immediately.
func (c *Cache) GetEnabledMethods(ctx context.Context, appID string) ([]string, error) {
	return c.getSet(ctx, methodsKey(appID), "methods", func(ctx context.Context) ([]string, error) {
		return c.cfg.Store.GetEnabledMethods(ctx, appID)
	})
}

// GetGrantedScopes returns the application's granted capability strings.
func (c *Cache) GetGrantedScopes(ctx context.Context, appID string) ([]string, error) {
	return c.getSet(ctx, scopesKey(appID), "scopes", func(ctx context.Context) ([]string, error) {
		return c.cfg.Store.GetGrantedScopes(ctx, appID)
	})
}

func (c *Cache) getSet(ctx context.Context, key, kind string, load func(context.Context) ([]string, error)) ([]string, error) {
	members, err := c.cfg.Client.SMembers(ctx, key).Result()
	if err == nil && len(members) > 0 {
		metrics.CacheHits.WithLabelValues(kind).Inc()
		return members, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		c.cfg.Logger.WarnContext(ctx, "set cache read failed", "kind", kind, "error", err)
	}
	metrics.CacheMisses.WithLabelValues(kind).Inc()

	values, err := load(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	pipe := c.cfg.Client.TxPipeline()
	pipe.SAdd(ctx, key, args...)
	pipe.Expire(ctx, key, c.cfg.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		c.cfg.Logger.WarnContext(ctx, "set cache write failed", "kind", kind, "error", err)
	}
	return values, nil
}

// GetOAuthConfig returns the decrypted OAuth client configuration for one
// provider. The cache stores ciphertext verbatim; a blob that fails to
// open is treated as cache corruption or a rotated encryption key, so the
// entry is evicted and the store re-read. trace.NotFound means the
// provider has no configuration for this application.
func (c *Cache) GetOAuthConfig(ctx context.Context, appID, provider string) (*services.OAuthClientConfig, error) {
	key := oauthKey(appID, provider)
	cached, err := c.cfg.Client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if cfg, err := c.open(cached); err == nil {
			metrics.CacheHits.WithLabelValues("oauth").Inc()
			return cfg, nil
		}
		c.cfg.Logger.WarnContext(ctx, "evicting undecryptable oauth blob",
			"app_id", appID, "provider", provider)
		c.cfg.Client.Del(ctx, key)
	case !errors.Is(err, redis.Nil):
		c.cfg.Logger.WarnContext(ctx, "oauth cache read failed", "error", err)
	}
	metrics.CacheMisses.WithLabelValues("oauth").Inc()

	ciphertext, err := c.cfg.Store.GetOAuthConfig(ctx, appID, provider)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	cfg, err := c.open(ciphertext)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := c.cfg.Client.Set(ctx, key, ciphertext, c.cfg.TTL).Err(); err != nil {
		c.cfg.Logger.WarnContext(ctx, "oauth cache write failed", "error", err)
	}
	return cfg, nil
}

func (c *Cache) open(ciphertext []byte) (*services.OAuthClientConfig, error) {
	plaintext, err := c.cfg.Key.Open(ciphertext)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var cfg services.OAuthClientConfig
	if err := json.Unmarshal(plaintext, &cfg); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := cfg.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &cfg, nil
}

// InvalidateApp deletes the application snapshot key.
func (c *Cache) InvalidateApp(ctx context.Context, appID string) error {
	return trace.Wrap(c.cfg.Client.Del(ctx, appKey(appID)).Err())
}

// InvalidateMethods deletes the enabled-methods set.
func (c *Cache) InvalidateMethods(ctx context.Context, appID string) error {
	return trace.Wrap(c.cfg.Client.Del(ctx, methodsKey(appID)).Err())
}

// InvalidateScopes deletes the granted-scopes set.
func (c *Cache) InvalidateScopes(ctx context.Context, appID string) error {
	return trace.Wrap(c.cfg.Client.Del(ctx, scopesKey(appID)).Err())
}

// InvalidateOAuth deletes one provider's cached OAuth blob.
func (c *Cache) InvalidateOAuth(ctx context.Context, appID, provider string) error {
	return trace.Wrap(c.cfg.Client.Del(ctx, oauthKey(appID, provider)).Err())
}

// InvalidateAll scan-and-deletes every key derived from the application,
// used on application deletion and credential rotation.
func (c *Cache) InvalidateAll(ctx context.Context, appID string) error {
	pattern := appKey(appID) + "*"
	iter := c.cfg.Client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return trace.Wrap(err)
	}
	if len(keys) == 0 {
		return nil
	}
	return trace.Wrap(c.cfg.Client.Del(ctx, keys...).Err())
}

func appKey(appID string) string {
	return defaults.AppKeyPrefix + appID
}

func methodsKey(appID string) string {
	return appKey(appID) + defaults.MethodsKeySuffix
}

func scopesKey(appID string) string {
	return appKey(appID) + defaults.ScopesKeySuffix
}

func oauthKey(appID, provider string) string {
	return appKey(appID) + defaults.OAuthKeyInfix + provider
}
