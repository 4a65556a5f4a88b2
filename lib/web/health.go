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

package web

import (
	"encoding/json"
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	gateway "github.com/Johnie198946/Authen-sub000"
	"github.com/Johnie198946/Authen-sub000/lib/httplib"
)

// Health status values.
const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

type healthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	Services   map[string]string `json:"services"`
}

type bannerResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type infoResponse struct {
	Version               string   `json:"version"`
	SupportedAPIVersions  []string `json:"supported_api_versions"`
	AvailableLoginMethods []string `json:"available_login_methods"`
}

// banner handles GET /.
func (h *Handler) banner(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	return bannerResponse{Name: "authen-gateway", Version: gateway.Version}, nil
}

// info handles GET /api/v1/gateway/info.
func (h *Handler) info(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	return infoResponse{
		Version:               gateway.Version,
		SupportedAPIVersions:  []string{"v1"},
		AvailableLoginMethods: gateway.LoginMethods,
	}, nil
}

// health handles GET /health: local components (store, cache) plus every
// configured downstream. Partial failure reports degraded with a 200;
// the endpoint goes 503 only when no downstream is reachable, since the
// gateway then cannot serve a single forwarded request.
func (h *Handler) health(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	ctx := r.Context()
	components := map[string]string{}
	degraded := false

	if err := h.cfg.Store.HealthCheck(ctx); err != nil {
		h.log.WarnContext(ctx, "store health probe failed", "error", err)
		components["database"] = statusUnhealthy
		degraded = true
	} else {
		components["database"] = statusHealthy
	}

	if h.cfg.Redis != nil {
		if err := h.cfg.Redis.Ping(ctx).Err(); err != nil {
			h.log.WarnContext(ctx, "cache health probe failed", "error", err)
			components["cache"] = statusUnhealthy
			degraded = true
		} else {
			components["cache"] = statusHealthy
		}
	}

	downstream := map[string]string{}
	reachable := 0
	names := h.cfg.Router.ServiceNames()
	for _, service := range names {
		if err := h.cfg.Router.HealthCheck(ctx, service); err != nil {
			downstream[service] = statusUnhealthy
			degraded = true
			continue
		}
		downstream[service] = statusHealthy
		reachable++
	}

	resp := healthResponse{
		Status:     statusHealthy,
		Components: components,
		Services:   downstream,
	}
	if degraded {
		resp.Status = statusDegraded
	}
	if len(names) > 0 && reachable == 0 {
		resp.Status = statusUnhealthy
		body, err := json.Marshal(resp)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return &httplib.RawResponse{Status: http.StatusServiceUnavailable, Body: body}, nil
	}
	return resp, nil
}
