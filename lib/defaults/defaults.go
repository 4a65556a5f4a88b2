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

// Package defaults contains default constants set in various parts of
// the gateway codebase.
package defaults

import "time"

const (
	// HTTPListenAddr is the default bind address of the gateway API.
	HTTPListenAddr = "0.0.0.0:8080"

	// CacheTTL bounds every derived cache entry. No value in the cache is
	// authoritative; all of them can be rebuilt from the configuration store.
	CacheTTL = 300 * time.Second

	// RateLimitWindow is the length of the sliding admission window.
	RateLimitWindow = 60 * time.Second

	// RateLimitKeyTTL is the expiry set on a window's backing sorted set.
	// One second longer than the window so an idle key disappears on its own.
	RateLimitKeyTTL = 61 * time.Second

	// DefaultRateLimit is the per-application request budget used when an
	// application record does not carry one.
	DefaultRateLimit = 60

	// ForwardTimeout is the total deadline of one downstream HTTP call.
	ForwardTimeout = 10 * time.Second

	// HealthProbeTimeout bounds each individual downstream health probe.
	HealthProbeTimeout = 2 * time.Second

	// AccessTokenTTL is the lifetime of gateway-signed access tokens.
	AccessTokenTTL = 30 * time.Minute

	// RefreshTokenTTL is the lifetime of gateway-signed refresh tokens.
	RefreshTokenTTL = 7 * 24 * time.Hour

	// TokenIssuer is the iss claim stamped on gateway-signed tokens.
	TokenIssuer = "authen-gateway"

	// AuditQueueSize bounds the asynchronous audit queue. Writes beyond
	// the bound are dropped and counted, never blocked on.
	AuditQueueSize = 1024

	// AuditWriteTimeout bounds a single audit row insert.
	AuditWriteTimeout = 5 * time.Second

	// ProvisionTimeout bounds one auto-provisioning transaction.
	ProvisionTimeout = 15 * time.Second
)

// Cache key layout. Every derived key is scoped under the application it
// belongs to so wholesale invalidation is a prefix scan.
const (
	// AppKeyPrefix + app id holds the application snapshot.
	AppKeyPrefix = "app:"

	// MethodsKeySuffix trails an app key for the enabled-methods set.
	MethodsKeySuffix = ":methods"

	// ScopesKeySuffix trails an app key for the granted-scopes set.
	ScopesKeySuffix = ":scopes"

	// OAuthKeyInfix sits between the app key and the provider name for
	// encrypted OAuth client configuration.
	OAuthKeyInfix = ":oauth:"

	// RateLimitKeyPrefix + app id holds the sliding-window sorted set.
	RateLimitKeyPrefix = "rate_limit:"
)
