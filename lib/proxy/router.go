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

// Package proxy implements the gateway's single-process fan-out client to
// the downstream identity microservices. Every call gets the same total
// deadline and every failure is normalized to the unified error model, so
// a downstream stack trace can never reach a caller.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/gravitational/trace"

	gateway "github.com/Johnie198946/Authen-sub000"
	"github.com/Johnie198946/Authen-sub000/lib/defaults"
	"github.com/Johnie198946/Authen-sub000/lib/httplib"
	"github.com/Johnie198946/Authen-sub000/lib/metrics"
)

// genericUpstreamMessage replaces every 5xx message coming back from a
// downstream service.
const genericUpstreamMessage = "upstream service error"

// maxResponseBytes bounds how much of a downstream body is read.
const maxResponseBytes = 4 << 20

// Response is a normalized downstream success.
type Response struct {
	// StatusCode is the downstream status, passed through.
	StatusCode int
	// Body is a well-formed JSON document.
	Body json.RawMessage
}

// Config holds router configuration.
type Config struct {
	// Services maps service names to base URLs.
	Services map[string]string
	// Timeout is the total deadline of one downstream call.
	Timeout time.Duration
	// Client, optional, overrides the HTTP client in tests.
	Client *http.Client
	// Logger, optional.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if len(c.Services) == 0 {
		return trace.BadParameter("missing downstream service map")
	}
	for name, base := range c.Services {
		u, err := url.Parse(base)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return trace.BadParameter("service %q has malformed base url %q", name, base)
		}
	}
	if c.Timeout <= 0 {
		c.Timeout = defaults.ForwardTimeout
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: c.Timeout}
	}
	if c.Logger == nil {
		c.Logger = slog.Default().With(gateway.ComponentKey, gateway.ComponentProxy)
	}
	return nil
}

// Router forwards requests to downstream services.
type Router struct {
	cfg Config
}

// NewRouter returns a router for the given configuration.
func NewRouter(cfg Config) (*Router, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Router{cfg: cfg}, nil
}

// ServiceNames returns the configured downstream service names.
func (r *Router) ServiceNames() []string {
	names := make([]string, 0, len(r.cfg.Services))
	for name := range r.cfg.Services {
		names = append(names, name)
	}
	return names
}

// Forward sends one request downstream and normalizes the outcome.
// Domain-level downstream failures come back as tagged *httplib.Error
// values; transport failures and non-conformant responses are classified
// per the unified error model.
func (r *Router) Forward(ctx context.Context, service, method, path string, header http.Header, body []byte) (*Response, error) {
	base, ok := r.cfg.Services[service]
	if !ok {
		metrics.DownstreamErrors.WithLabelValues(service, "unknown_service").Inc()
		return nil, httplib.NewError(http.StatusBadGateway, gateway.CodeUpstreamError, genericUpstreamMessage)
	}

	endpoint := strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := r.cfg.Client.Do(req)
	if err != nil {
		return nil, r.transportError(ctx, service, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, r.transportError(ctx, service, err)
	}

	if resp.StatusCode < http.StatusBadRequest {
		if json.Valid(payload) && len(payload) > 0 {
			return &Response{StatusCode: resp.StatusCode, Body: payload}, nil
		}
		// A non-JSON success is wrapped so callers always get a JSON
		// object.
		wrapped, err := json.Marshal(map[string]string{"data": string(payload)})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return &Response{StatusCode: resp.StatusCode, Body: wrapped}, nil
	}

	return nil, r.errorFromResponse(service, resp.StatusCode, payload)
}

// transportError classifies connection-level failures: unreachable or
// slow services are 503, everything else at the transport layer is 502.
func (r *Router) transportError(ctx context.Context, service string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.As(err, &netErr) && netErr.Timeout():
		metrics.DownstreamErrors.WithLabelValues(service, "unavailable").Inc()
		r.cfg.Logger.WarnContext(ctx, "downstream service unavailable", "service", service, "error", err)
		return httplib.NewError(http.StatusServiceUnavailable, gateway.CodeServiceUnavailable, "downstream service unavailable")
	default:
		metrics.DownstreamErrors.WithLabelValues(service, "transport").Inc()
		r.cfg.Logger.WarnContext(ctx, "downstream transport error", "service", service, "error", err)
		return httplib.NewError(http.StatusBadGateway, gateway.CodeUpstreamError, genericUpstreamMessage)
	}
}

// errorFromResponse normalizes a downstream error status. Well-formed
// unified errors pass through; framework detail fields are mapped; any
// other shape is a 502. 5xx messages are always replaced with a generic
// string.
func (r *Router) errorFromResponse(service string, status int, payload []byte) error {
	var parsed struct {
		ErrorCode string          `json:"error_code"`
		Message   string          `json:"message"`
		Detail    json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		metrics.DownstreamErrors.WithLabelValues(service, "malformed").Inc()
		return httplib.NewError(http.StatusBadGateway, gateway.CodeUpstreamError, genericUpstreamMessage)
	}

	if status >= http.StatusInternalServerError {
		code := parsed.ErrorCode
		if code == "" {
			code = httplib.CodeForStatus(status)
		}
		metrics.DownstreamErrors.WithLabelValues(service, "upstream_5xx").Inc()
		return httplib.NewError(status, code, genericUpstreamMessage)
	}

	switch {
	case parsed.ErrorCode != "" && parsed.Message != "":
		return httplib.NewError(status, parsed.ErrorCode, parsed.Message)
	case len(parsed.Detail) > 0:
		// Framework detail fields may be strings or structured
		// validation blobs; only plain strings are surfaced.
		message := "request rejected by downstream service"
		var detail string
		if err := json.Unmarshal(parsed.Detail, &detail); err == nil && detail != "" {
			message = detail
		}
		return httplib.NewError(status, httplib.CodeForStatus(status), message)
	default:
		metrics.DownstreamErrors.WithLabelValues(service, "malformed").Inc()
		return httplib.NewError(http.StatusBadGateway, gateway.CodeUpstreamError, genericUpstreamMessage)
	}
}

// HealthCheck probes one downstream service's health endpoint.
func (r *Router) HealthCheck(ctx context.Context, service string) error {
	base, ok := r.cfg.Services[service]
	if !ok {
		return trace.NotFound("unknown downstream service %q", service)
	}
	ctx, cancel := context.WithTimeout(ctx, defaults.HealthProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(base, "/")+"/health", nil)
	if err != nil {
		return trace.Wrap(err)
	}
	resp, err := r.cfg.Client.Do(req)
	if err != nil {
		return trace.ConnectionProblem(err, "service %q unreachable", service)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return trace.ConnectionProblem(nil, "service %q unhealthy: status %v", service, resp.StatusCode)
	}
	return nil
}
