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

import (
	"time"

	"github.com/gravitational/trace"
)

// AppUserBinding certifies that a user is a member of an application's
// realm. It is created on first successful registration or OAuth enrollment
// through that application and checked on every bearer-gated call.
type AppUserBinding struct {
	// AppID is the application side of the binding.
	AppID string `json:"app_id"`
	// UserID is the user side of the binding.
	UserID string `json:"user_id"`
	// CreatedAt is when the binding was first materialized.
	CreatedAt time.Time `json:"created_at"`
}

// Check validates the binding.
func (b *AppUserBinding) Check() error {
	if b.AppID == "" {
		return trace.BadParameter("missing application id")
	}
	if b.UserID == "" {
		return trace.BadParameter("missing user id")
	}
	return nil
}

// AutoProvisionRule is the per-application recipe applied when a user first
// registers through that application. At most one rule exists per
// application.
type AutoProvisionRule struct {
	// AppID is the owning application.
	AppID string `json:"app_id"`
	// RoleIDs are assigned to the new user.
	RoleIDs []string `json:"role_ids,omitempty"`
	// PermissionIDs are granted to the new user directly.
	PermissionIDs []string `json:"permission_ids,omitempty"`
	// OrgID, when set, is the organization the user joins.
	OrgID string `json:"org_id,omitempty"`
	// PlanID, when set, is the subscription plan activated for the user.
	PlanID string `json:"plan_id,omitempty"`
	// Enabled gates the whole rule. The app-user binding is created even
	// when the rule is disabled or absent.
	Enabled bool `json:"is_enabled"`
	// CreatedAt is the rule creation timestamp.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is the last rule mutation timestamp.
	UpdatedAt time.Time `json:"updated_at"`
}
