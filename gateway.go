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

// Package gateway holds constants shared by every gateway component.
package gateway

// Version is the semantic version of the gateway, stamped at build time
// via -ldflags when building release artifacts.
var Version = "1.0.0-dev"

const (
	// ComponentKey is the slog attribute key used to mark the component
	// a log line originates from.
	ComponentKey = "component"

	// ComponentWeb is the inbound HTTP API surface.
	ComponentWeb = "gateway:web"

	// ComponentCache is the Redis cache-aside resolver layer.
	ComponentCache = "gateway:cache"

	// ComponentLimiter is the sliding-window rate limiter.
	ComponentLimiter = "gateway:limiter"

	// ComponentProxy is the downstream service router.
	ComponentProxy = "gateway:proxy"

	// ComponentProvision is the auto-provisioner.
	ComponentProvision = "gateway:provision"

	// ComponentAudit is the asynchronous audit sink.
	ComponentAudit = "gateway:audit"

	// ComponentStorage is the relational configuration store.
	ComponentStorage = "gateway:storage"
)

// HTTP headers the gateway reads or writes.
const (
	// HeaderAppID carries the application identifier on credential-gated calls.
	HeaderAppID = "X-App-Id"

	// HeaderAppSecret carries the application shared secret on
	// credential-gated calls.
	HeaderAppSecret = "X-App-Secret"

	// HeaderRequestID carries the correlation id generated by the gateway.
	// It is never read from inbound requests; the gateway is the origin
	// of correlation ids.
	HeaderRequestID = "X-Request-Id"

	// HeaderRateLimitLimit is the window capacity of the calling application.
	HeaderRateLimitLimit = "X-RateLimit-Limit"

	// HeaderRateLimitRemaining is the remaining capacity in the current window.
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"

	// HeaderRateLimitReset is the unix time at which the current window ends.
	HeaderRateLimitReset = "X-RateLimit-Reset"

	// HeaderRetryAfter is emitted on 429 responses.
	HeaderRetryAfter = "Retry-After"
)

// APIPrefix is the path prefix of the versioned gateway surface.
const APIPrefix = "/api/v1/gateway"

// Error codes of the unified envelope. The set is closed: every failure
// response carries exactly one of these in its error_code field.
const (
	CodeInvalidCredentials  = "invalid_credentials"
	CodeAppDisabled         = "app_disabled"
	CodeTokenExpired        = "token_expired"
	CodeInvalidToken        = "invalid_token"
	CodeLoginMethodDisabled = "login_method_disabled"
	CodeInsufficientScope   = "insufficient_scope"
	CodeUserNotBound        = "user_not_bound"
	CodeRateLimitExceeded   = "rate_limit_exceeded"
	CodeServiceUnavailable  = "service_unavailable"
	CodeUpstreamError       = "upstream_error"
	CodeValidationError     = "validation_error"
	CodeInternalError       = "internal_error"
	CodeNotFound            = "not_found"
)

// Downstream service names the router knows how to reach.
const (
	ServiceAuth         = "auth"
	ServiceSSO          = "sso"
	ServiceUser         = "user"
	ServicePermission   = "permission"
	ServiceNotification = "notification"
)

// Login methods an application may enable. The set is closed.
const (
	MethodEmail  = "email"
	MethodPhone  = "phone"
	MethodWechat = "wechat"
	MethodAlipay = "alipay"
	MethodGoogle = "google"
	MethodApple  = "apple"
)

// LoginMethods lists every supported login method in a stable order.
var LoginMethods = []string{
	MethodEmail, MethodPhone, MethodWechat, MethodAlipay, MethodGoogle, MethodApple,
}

// OAuthMethods lists the login methods that carry per-application OAuth
// client configuration.
var OAuthMethods = []string{MethodWechat, MethodAlipay, MethodGoogle, MethodApple}

// Scopes of the closed capability set.
const (
	ScopeUserRead     = "user:read"
	ScopeUserWrite    = "user:write"
	ScopeAuthLogin    = "auth:login"
	ScopeAuthRegister = "auth:register"
	ScopeRoleRead     = "role:read"
	ScopeRoleWrite    = "role:write"
	ScopeOrgRead      = "org:read"
	ScopeOrgWrite     = "org:write"
)

// AllScopes lists every capability in the closed set.
var AllScopes = []string{
	ScopeUserRead, ScopeUserWrite,
	ScopeAuthLogin, ScopeAuthRegister,
	ScopeRoleRead, ScopeRoleWrite,
	ScopeOrgRead, ScopeOrgWrite,
}
