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

package services

import "time"

// AnonymousApp is recorded when a request failed before the calling
// application could be identified.
const AnonymousApp = "anonymous"

// AuditRecord is one immutable row per inbound request. Writes are
// best-effort: losing a record must never fail the request it describes.
type AuditRecord struct {
	// Time is when the request completed.
	Time time.Time `json:"time"`
	// RequestID is the correlation id the response carried.
	RequestID string `json:"request_id"`
	// AppID is the calling application, or AnonymousApp when unknown.
	AppID string `json:"app_id"`
	// UserID is the acting user when a bearer token identified one.
	UserID string `json:"user_id,omitempty"`
	// Action is a short verb describing what was attempted.
	Action string `json:"action,omitempty"`
	// Method is the HTTP method.
	Method string `json:"method"`
	// Path is the request path as routed.
	Path string `json:"path"`
	// Status is the HTTP status the gateway returned.
	Status int `json:"status"`
	// ElapsedMS is the wall time the request took, in milliseconds.
	ElapsedMS int64 `json:"elapsed_ms"`
	// ClientIP is the remote peer address.
	ClientIP string `json:"client_ip"`
	// UserAgent is the inbound User-Agent header.
	UserAgent string `json:"user_agent"`
	// ResourceType and ResourceID identify the touched resource, if any.
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	// Details is a free-form blob for anything the pipeline wants to keep,
	// such as partial auto-provisioning state.
	Details map[string]any `json:"details,omitempty"`
}
