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

// Package web is the gateway's inbound HTTP surface. It composes the
// resolvers, the rate limiter, the scope matcher, the token service and
// the downstream router into two pipeline shapes: credential-gated
// endpoints authenticated by application headers, and bearer-gated
// endpoints authenticated by a gateway-signed token.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	gateway "github.com/Johnie198946/Authen-sub000"
	"github.com/Johnie198946/Authen-sub000/lib/cache"
	"github.com/Johnie198946/Authen-sub000/lib/httplib"
	gwjwt "github.com/Johnie198946/Authen-sub000/lib/jwt"
	"github.com/Johnie198946/Authen-sub000/lib/limiter"
	"github.com/Johnie198946/Authen-sub000/lib/metrics"
	"github.com/Johnie198946/Authen-sub000/lib/provision"
	"github.com/Johnie198946/Authen-sub000/lib/proxy"
	"github.com/Johnie198946/Authen-sub000/lib/scopes"
	"github.com/Johnie198946/Authen-sub000/lib/services"
)

// maxRequestBytes bounds how much of an inbound body is read.
const maxRequestBytes = 1 << 20

// Config holds the web handler configuration.
type Config struct {
	// Cache resolves application configuration.
	Cache *cache.Cache
	// Limiter makes per-application admission decisions.
	Limiter *limiter.Limiter
	// Scopes maps endpoints to required capabilities. Defaults to the
	// built-in table.
	Scopes *scopes.Matcher
	// Tokens signs, verifies and rewrites bearer tokens.
	Tokens *gwjwt.Service
	// Router forwards requests downstream.
	Router *proxy.Router
	// Provisioner runs post-registration provisioning.
	Provisioner *provision.Provisioner
	// Store answers binding lookups and health probes.
	Store services.Store
	// Audit, optional, receives one record per inbound request.
	Audit provision.Emitter
	// Redis is pinged by the health endpoint.
	Redis redis.UniversalClient
	// Clock measures request latency.
	Clock clockwork.Clock
	// Logger, optional.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Cache == nil {
		return trace.BadParameter("missing cache")
	}
	if c.Limiter == nil {
		return trace.BadParameter("missing limiter")
	}
	if c.Tokens == nil {
		return trace.BadParameter("missing token service")
	}
	if c.Router == nil {
		return trace.BadParameter("missing downstream router")
	}
	if c.Store == nil {
		return trace.BadParameter("missing store")
	}
	if c.Scopes == nil {
		matcher, err := scopes.NewDefaultMatcher()
		if err != nil {
			return trace.Wrap(err)
		}
		c.Scopes = matcher
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default().With(gateway.ComponentKey, gateway.ComponentWeb)
	}
	return nil
}

// Handler is the gateway's HTTP API router.
type Handler struct {
	httprouter.Router
	cfg Config
	log *slog.Logger
}

// NewHandler builds the route table and returns the public handler with
// correlation, panic recovery, auditing and metrics wired around it.
func NewHandler(cfg Config) (http.Handler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	h := &Handler{
		Router: *httprouter.New(),
		cfg:    cfg,
		log:    cfg.Logger,
	}

	h.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httplib.ReplyError(w, r, httplib.NewError(http.StatusNotFound, gateway.CodeNotFound, "endpoint not found"))
	})
	h.MethodNotAllowed = h.NotFound

	// Meta endpoints, no authentication.
	h.bind(http.MethodGet, "/", h.banner)
	h.bind(http.MethodGet, "/health", h.health)
	h.bindStd(http.MethodGet, "/metrics", promhttp.Handler())
	h.bind(http.MethodGet, gateway.APIPrefix+"/info", h.info)

	// Credential-gated endpoints.
	h.bind(http.MethodPost, gateway.APIPrefix+"/auth/register/email", h.register(gateway.MethodEmail))
	h.bind(http.MethodPost, gateway.APIPrefix+"/auth/register/phone", h.register(gateway.MethodPhone))
	h.bind(http.MethodPost, gateway.APIPrefix+"/auth/login", h.login)
	h.bind(http.MethodPost, gateway.APIPrefix+"/auth/oauth/:provider", h.oauth)
	h.bind(http.MethodPost, gateway.APIPrefix+"/auth/refresh", h.refresh)

	// Bearer-gated endpoints.
	h.bind(http.MethodPost, gateway.APIPrefix+"/auth/change-password", h.changePassword)
	h.bind(http.MethodGet, gateway.APIPrefix+"/users/:user_id", h.getUser)
	h.bind(http.MethodGet, gateway.APIPrefix+"/users/:user_id/roles", h.getUserRoles)
	h.bind(http.MethodPost, gateway.APIPrefix+"/users/:user_id/permissions/check", h.checkPermissions)

	return httplib.NewCorrelationHandler(httplib.CorrelationConfig{
		Handler: h.observe(&h.Router),
		Clock:   cfg.Clock,
		Logger:  cfg.Logger,
	}), nil
}

func (h *Handler) bind(method, pattern string, fn httplib.HandlerFunc) {
	h.Handle(method, pattern, httplib.MakeHandler(func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
		if sc := scopeFrom(r.Context()); sc != nil {
			sc.Route = pattern
		}
		return fn(w, r, p)
	}))
}

// bindStd mounts a handler that writes its own response, outside the
// JSON reply adapter, so no second status line is written after it.
func (h *Handler) bindStd(method, pattern string, handler http.Handler) {
	h.Handle(method, pattern, func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if sc := scopeFrom(r.Context()); sc != nil {
			sc.Route = pattern
		}
		handler.ServeHTTP(w, r)
	})
}

// requestScope accumulates per-request attribution for the audit record
// and metrics. One goroutine per request, no locking required.
type requestScope struct {
	AppID  string
	UserID string
	Action string
	Route  string
}

type scopeKey struct{}

func scopeFrom(ctx context.Context) *requestScope {
	sc, _ := ctx.Value(scopeKey{}).(*requestScope)
	return sc
}

// observe wraps the router with per-request auditing and metrics. It
// runs inside the correlation handler, so the request id is already on
// the context. A panic passes through the deferred block, the record is
// still emitted, and the panic is re-raised for the correlation
// handler's recovery to turn into a response.
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc := &requestScope{AppID: services.AnonymousApp, Route: "unmatched"}
		r = r.WithContext(context.WithValue(r.Context(), scopeKey{}, sc))
		recorder := httplib.NewResponseRecorder(w)
		start := h.cfg.Clock.Now()

		defer func() {
			status := recorder.Status()
			if p := recover(); p != nil {
				status = http.StatusInternalServerError
				defer panic(p)
			}
			elapsed := h.cfg.Clock.Now().Sub(start)
			metrics.RequestsTotal.WithLabelValues(sc.Route, strconv.Itoa(status)).Inc()
			metrics.RequestDuration.WithLabelValues(sc.Route).Observe(elapsed.Seconds())
			if h.cfg.Audit != nil {
				h.cfg.Audit.Emit(services.AuditRecord{
					Time:      h.cfg.Clock.Now().UTC(),
					RequestID: httplib.RequestIDFromContext(r.Context()),
					AppID:     sc.AppID,
					UserID:    sc.UserID,
					Action:    sc.Action,
					Method:    r.Method,
					Path:      r.URL.Path,
					Status:    status,
					ElapsedMS: elapsed.Milliseconds(),
					ClientIP:  clientIP(r),
					UserAgent: r.UserAgent(),
				})
			}
		}()

		next.ServeHTTP(recorder, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// authenticateApp runs the shared head of the credential pipeline:
// credential verification, the per-endpoint method gate, the scope gate
// and rate-limit admission, in that order. boundMethod is empty for
// endpoints not tied to one login method.
func (h *Handler) authenticateApp(w http.ResponseWriter, r *http.Request, boundMethod string) (*services.Application, error) {
	app, err := h.verifyApp(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := h.gateApp(r.Context(), w, r, app, boundMethod); err != nil {
		return nil, trace.Wrap(err)
	}
	return app, nil
}

// verifyApp runs credential verification alone. It comes before any
// body inspection so a caller with bad credentials always sees the
// uniform 401, never a body validation error.
func (h *Handler) verifyApp(r *http.Request) (*services.Application, error) {
	ctx := r.Context()
	app, err := h.cfg.Cache.VerifyApplication(ctx,
		r.Header.Get(gateway.HeaderAppID), r.Header.Get(gateway.HeaderAppSecret))
	if err != nil {
		if errors.Is(err, cache.ErrAppDisabled) {
			return nil, httplib.NewError(http.StatusForbidden, gateway.CodeAppDisabled, "application is disabled")
		}
		return nil, trace.Wrap(err)
	}
	if sc := scopeFrom(ctx); sc != nil {
		sc.AppID = app.ID
	}
	return app, nil
}

// gateApp runs the method gate, the scope gate and rate-limit admission
// for an already verified application.
func (h *Handler) gateApp(ctx context.Context, w http.ResponseWriter, r *http.Request, app *services.Application, boundMethod string) error {
	if boundMethod != "" {
		enabled, err := h.cfg.Cache.GetEnabledMethods(ctx, app.ID)
		if err != nil {
			return trace.Wrap(err)
		}
		if !slices.Contains(enabled, boundMethod) {
			return httplib.NewError(http.StatusBadRequest, gateway.CodeLoginMethodDisabled,
				fmt.Sprintf("login method %q is not enabled for this application; enabled methods: [%v]",
					boundMethod, strings.Join(enabled, ", ")))
		}
	}

	if err := h.checkScope(ctx, app.ID, r.URL.Path); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(h.admit(ctx, w, app))
}

// checkScope enforces the endpoint's required capability, if any.
func (h *Handler) checkScope(ctx context.Context, appID, endpoint string) error {
	required, ok := h.cfg.Scopes.RequiredScope(endpoint)
	if !ok {
		return nil
	}
	granted, err := h.cfg.Cache.GetGrantedScopes(ctx, appID)
	if err != nil {
		return trace.Wrap(err)
	}
	if !slices.Contains(granted, required) {
		return httplib.NewError(http.StatusForbidden, gateway.CodeInsufficientScope,
			fmt.Sprintf("scope %q is required for this endpoint", required))
	}
	return nil
}

// admit runs rate-limit admission and writes the quota headers. The
// headers go out on allow and deny alike.
func (h *Handler) admit(ctx context.Context, w http.ResponseWriter, app *services.Application) error {
	result, err := h.cfg.Limiter.Admit(ctx, app.ID, app.RateLimit)
	if err != nil {
		return trace.Wrap(err)
	}
	httplib.SetRateLimitHeaders(w.Header(), result.Limit, result.Remaining, result.Reset)
	if !result.Allowed {
		metrics.RateLimited.Inc()
		httplib.SetRetryAfter(w.Header(), result.RetryAfter)
		return httplib.NewError(http.StatusTooManyRequests, gateway.CodeRateLimitExceeded, "rate limit exceeded")
	}
	return nil
}

// authenticateBearer runs the shared head of the bearer pipeline. The
// target user is the user_id path parameter when present, the token
// subject otherwise; it must be bound to the token's application.
func (h *Handler) authenticateBearer(w http.ResponseWriter, r *http.Request, p httprouter.Params) (*services.Application, *gwjwt.Claims, string, error) {
	ctx := r.Context()
	raw, err := bearerToken(r)
	if err != nil {
		return nil, nil, "", trace.Wrap(err)
	}
	claims, err := h.cfg.Tokens.Verify(raw)
	if err != nil {
		if gwjwt.IsExpired(err) {
			return nil, nil, "", httplib.NewError(http.StatusUnauthorized, gateway.CodeTokenExpired, "token has expired")
		}
		return nil, nil, "", httplib.NewError(http.StatusUnauthorized, gateway.CodeInvalidToken, "invalid token")
	}
	if claims.AppID == "" {
		return nil, nil, "", httplib.NewError(http.StatusUnauthorized, gateway.CodeInvalidToken, "token is not bound to an application")
	}

	app, err := h.cfg.Cache.GetApplication(ctx, claims.AppID)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, nil, "", httplib.NewError(http.StatusUnauthorized, gateway.CodeInvalidToken, "invalid token")
		}
		return nil, nil, "", trace.Wrap(err)
	}
	if !app.IsActive() {
		return nil, nil, "", httplib.NewError(http.StatusForbidden, gateway.CodeAppDisabled, "application is disabled")
	}
	if sc := scopeFrom(ctx); sc != nil {
		sc.AppID = app.ID
		sc.UserID = claims.Subject
	}

	target := p.ByName("user_id")
	if target == "" {
		target = claims.Subject
	}
	bound, err := h.cfg.Store.HasAppUserBinding(ctx, app.ID, target)
	if err != nil {
		return nil, nil, "", trace.Wrap(err)
	}
	if !bound {
		return nil, nil, "", httplib.NewError(http.StatusForbidden, gateway.CodeUserNotBound, "user is not bound to this application")
	}

	if err := h.checkScope(ctx, app.ID, r.URL.Path); err != nil {
		return nil, nil, "", trace.Wrap(err)
	}
	if err := h.admit(ctx, w, app); err != nil {
		return nil, nil, "", trace.Wrap(err)
	}
	return app, claims, target, nil
}

func bearerToken(r *http.Request) (string, error) {
	value := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(value, "Bearer ")
	if !ok || token == "" {
		return "", httplib.NewError(http.StatusUnauthorized, gateway.CodeInvalidToken, "missing bearer token")
	}
	return token, nil
}

// forward proxies the request downstream, keeping the downstream path
// equal to the gateway path minus the API prefix.
func (h *Handler) forward(ctx context.Context, service, method, endpoint string, body []byte) (*proxy.Response, error) {
	header := http.Header{}
	if id := httplib.RequestIDFromContext(ctx); id != "" {
		header.Set(gateway.HeaderRequestID, id)
	}
	resp, err := h.cfg.Router.Forward(ctx, service, method, "/"+scopes.Normalize(endpoint), header, body)
	return resp, trace.Wrap(err)
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	return body, trace.Wrap(err)
}

// register handles POST auth/register/email and auth/register/phone.
// On a successful downstream registration the new user is provisioned
// asynchronously; the response goes back before provisioning runs.
func (h *Handler) register(method string) httplib.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
		if sc := scopeFrom(r.Context()); sc != nil {
			sc.Action = "register"
		}
		app, err := h.authenticateApp(w, r, method)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		body, err := readBody(r)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		resp, err := h.forward(r.Context(), gateway.ServiceAuth, http.MethodPost, r.URL.Path, body)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if userID := userIDFromBody(resp.Body); userID != "" {
			h.provisionAsync(r, app.ID, userID)
		}
		return &httplib.RawResponse{Status: resp.StatusCode, Body: resp.Body}, nil
	}
}

// login handles POST auth/login. When the body names a login method it
// is gated like the dedicated endpoints; tokens in the response are
// rewritten to carry the application binding.
func (h *Handler) login(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	if sc := scopeFrom(r.Context()); sc != nil {
		sc.Action = "login"
	}
	app, err := h.verifyApp(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	body, err := readBody(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var fields struct {
		Method string `json:"method"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, httplib.NewError(http.StatusUnprocessableEntity, gateway.CodeValidationError, "malformed request body")
		}
	}
	if err := h.gateApp(r.Context(), w, r, app, fields.Method); err != nil {
		return nil, trace.Wrap(err)
	}
	resp, err := h.forward(r.Context(), gateway.ServiceAuth, http.MethodPost, r.URL.Path, body)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out, err := h.rewriteTokens(r.Context(), resp.Body, app.ID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &httplib.RawResponse{Status: resp.StatusCode, Body: out}, nil
}

// oauth handles POST auth/oauth/:provider. The application's configured
// OAuth client credentials replace whatever the caller put in the body;
// a first-time user flagged by the downstream service is provisioned.
func (h *Handler) oauth(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	if sc := scopeFrom(r.Context()); sc != nil {
		sc.Action = "oauth_login"
	}
	provider := p.ByName("provider")
	app, err := h.authenticateApp(w, r, provider)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	oauthCfg, err := h.cfg.Cache.GetOAuthConfig(r.Context(), app.ID, provider)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, httplib.NewError(http.StatusBadRequest, gateway.CodeLoginMethodDisabled,
				fmt.Sprintf("oauth provider %q is not configured for this application", provider))
		}
		return nil, trace.Wrap(err)
	}

	body, err := httplib.ReadJSONObject(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	body["client_id"] = oauthCfg.ClientID
	body["client_secret"] = oauthCfg.ClientSecret
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	resp, err := h.forward(r.Context(), gateway.ServiceAuth, http.MethodPost, r.URL.Path, payload)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out, err := h.rewriteTokens(r.Context(), resp.Body, app.ID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var flags struct {
		IsNewUser bool   `json:"is_new_user"`
		UserID    string `json:"user_id"`
	}
	if err := json.Unmarshal(resp.Body, &flags); err == nil && flags.IsNewUser && flags.UserID != "" {
		h.provisionAsync(r, app.ID, flags.UserID)
	}
	return &httplib.RawResponse{Status: resp.StatusCode, Body: out}, nil
}

// refresh handles POST auth/refresh.
func (h *Handler) refresh(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	if sc := scopeFrom(r.Context()); sc != nil {
		sc.Action = "refresh"
	}
	app, err := h.authenticateApp(w, r, "")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	body, err := readBody(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	resp, err := h.forward(r.Context(), gateway.ServiceAuth, http.MethodPost, r.URL.Path, body)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out, err := h.rewriteTokens(r.Context(), resp.Body, app.ID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &httplib.RawResponse{Status: resp.StatusCode, Body: out}, nil
}

// changePassword handles POST auth/change-password. The target is the
// token subject; the call is forwarded to the auth service.
func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	if sc := scopeFrom(r.Context()); sc != nil {
		sc.Action = "change_password"
	}
	if _, _, _, err := h.authenticateBearer(w, r, p); err != nil {
		return nil, trace.Wrap(err)
	}
	body, err := readBody(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	resp, err := h.forward(r.Context(), gateway.ServiceAuth, http.MethodPost, r.URL.Path, body)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &httplib.RawResponse{Status: resp.StatusCode, Body: resp.Body}, nil
}

// getUser handles GET users/:user_id.
func (h *Handler) getUser(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	if sc := scopeFrom(r.Context()); sc != nil {
		sc.Action = "get_user"
	}
	if _, _, _, err := h.authenticateBearer(w, r, p); err != nil {
		return nil, trace.Wrap(err)
	}
	resp, err := h.forward(r.Context(), gateway.ServiceUser, http.MethodGet, r.URL.Path, nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &httplib.RawResponse{Status: resp.StatusCode, Body: resp.Body}, nil
}

// getUserRoles handles GET users/:user_id/roles.
func (h *Handler) getUserRoles(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	if sc := scopeFrom(r.Context()); sc != nil {
		sc.Action = "get_user_roles"
	}
	if _, _, _, err := h.authenticateBearer(w, r, p); err != nil {
		return nil, trace.Wrap(err)
	}
	resp, err := h.forward(r.Context(), gateway.ServicePermission, http.MethodGet, r.URL.Path, nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &httplib.RawResponse{Status: resp.StatusCode, Body: resp.Body}, nil
}

// checkPermissions handles POST users/:user_id/permissions/check.
func (h *Handler) checkPermissions(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	if sc := scopeFrom(r.Context()); sc != nil {
		sc.Action = "check_permissions"
	}
	if _, _, _, err := h.authenticateBearer(w, r, p); err != nil {
		return nil, trace.Wrap(err)
	}
	body, err := readBody(r)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	resp, err := h.forward(r.Context(), gateway.ServicePermission, http.MethodPost, r.URL.Path, body)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &httplib.RawResponse{Status: resp.StatusCode, Body: resp.Body}, nil
}

// rewriteTokens re-signs the access_token and refresh_token fields of a
// successful auth response under the gateway key with the application
// binding injected. Responses without token fields pass through as-is.
// A token field the gateway cannot parse is downstream non-conformance,
// reported as an upstream error rather than a caller mistake.
func (h *Handler) rewriteTokens(ctx context.Context, body json.RawMessage, appID string) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return body, nil
	}
	rewrote := false
	if raw, ok := stringField(fields, "access_token"); ok {
		signed, err := h.cfg.Tokens.Rewrite(raw, appID, h.cfg.Tokens.AccessTTL())
		if err != nil {
			return nil, h.upstreamTokenError(ctx, "access_token", err)
		}
		fields["access_token"], _ = json.Marshal(signed)
		rewrote = true
	}
	if raw, ok := stringField(fields, "refresh_token"); ok {
		signed, err := h.cfg.Tokens.Rewrite(raw, appID, h.cfg.Tokens.RefreshTTL())
		if err != nil {
			return nil, h.upstreamTokenError(ctx, "refresh_token", err)
		}
		fields["refresh_token"], _ = json.Marshal(signed)
		rewrote = true
	}
	if !rewrote {
		return body, nil
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return out, nil
}

func (h *Handler) upstreamTokenError(ctx context.Context, field string, err error) error {
	h.log.WarnContext(ctx, "unparseable token in downstream auth response",
		"field", field, "error", err)
	return httplib.NewError(http.StatusBadGateway, gateway.CodeUpstreamError, "upstream service error")
}

func stringField(fields map[string]json.RawMessage, name string) (string, bool) {
	raw, ok := fields[name]
	if !ok {
		return "", false
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil || value == "" {
		return "", false
	}
	return value, true
}

func userIDFromBody(body json.RawMessage) string {
	var fields struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(body, &fields); err != nil {
		return ""
	}
	return fields.UserID
}

func (h *Handler) provisionAsync(r *http.Request, appID, userID string) {
	if h.cfg.Provisioner == nil {
		return
	}
	h.cfg.Provisioner.RunAsync(r.Context(), appID, userID, httplib.RequestIDFromContext(r.Context()))
}
