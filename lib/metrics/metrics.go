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

// Package metrics registers the gateway's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts completed inbound requests by route and status.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Completed inbound requests.",
	}, []string{"route", "status"})

	// RequestDuration observes inbound request latency by route.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_duration_seconds",
		Help:    "Inbound request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// RateLimited counts denied admissions.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_rate_limited_total",
		Help: "Requests denied by the sliding-window rate limiter.",
	})

	// CacheHits counts cache-aside hits by entry kind.
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_cache_hits_total",
		Help: "Cache-aside hits.",
	}, []string{"kind"})

	// CacheMisses counts cache-aside misses by entry kind.
	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_cache_misses_total",
		Help: "Cache-aside misses that fell through to the store.",
	}, []string{"kind"})

	// AuditDropped counts audit records lost to a full queue.
	AuditDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_audit_dropped_total",
		Help: "Audit records dropped because the queue was full.",
	})

	// DownstreamErrors counts normalized downstream failures by service
	// and class.
	DownstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_downstream_errors_total",
		Help: "Downstream calls that failed or returned malformed responses.",
	}, []string{"service", "class"})
)
