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

// Package services defines the gateway's domain types and the store
// interfaces backing them. Implementations live in lib/storage.
package services

import "context"

// ConfigStore is the read side of the shared relational store. The gateway
// treats every row as admin-owned configuration; it never mutates them.
type ConfigStore interface {
	// GetApplication returns the application record or trace.NotFound.
	GetApplication(ctx context.Context, appID string) (*Application, error)

	// GetEnabledMethods returns the enabled login methods of an
	// application. Unknown applications yield an empty slice, not an error.
	GetEnabledMethods(ctx context.Context, appID string) ([]string, error)

	// GetGrantedScopes returns the capability strings granted to an
	// application. Unknown applications yield an empty slice.
	GetGrantedScopes(ctx context.Context, appID string) ([]string, error)

	// GetOAuthConfig returns the encrypted OAuth client blob for one
	// provider, or trace.NotFound when the method row does not exist or
	// carries no configuration.
	GetOAuthConfig(ctx context.Context, appID, provider string) ([]byte, error)

	// GetAutoProvisionRule returns the application's provisioning rule or
	// trace.NotFound when none is configured.
	GetAutoProvisionRule(ctx context.Context, appID string) (*AutoProvisionRule, error)
}

// ProvisionTx is the transactional surface the auto-provisioner runs on.
// Every operation is idempotent: re-applying a step that already took
// effect is a no-op.
type ProvisionTx interface {
	// UpsertAppUserBinding creates the binding if absent.
	UpsertAppUserBinding(ctx context.Context, binding AppUserBinding) error

	// AssignRole grants a role to a user, skipping existing grants.
	AssignRole(ctx context.Context, userID, roleID string) error

	// AssignPermission grants a permission directly to a user.
	AssignPermission(ctx context.Context, userID, permissionID string) error

	// AddOrganizationMember adds a user to an organization.
	AddOrganizationMember(ctx context.Context, userID, orgID string) error

	// EnsureSubscription creates an active subscription for the plan
	// unless a non-terminated one already exists.
	EnsureSubscription(ctx context.Context, userID, planID string) error
}

// ProvisionStore runs provisioning work and answers binding lookups.
type ProvisionStore interface {
	// HasAppUserBinding reports whether the (application, user) binding
	// exists. Called on every bearer-gated request.
	HasAppUserBinding(ctx context.Context, appID, userID string) (bool, error)

	// Provision runs fn inside one short-lived transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	Provision(ctx context.Context, fn func(tx ProvisionTx) error) error
}

// AuditStore persists audit rows.
type AuditStore interface {
	// EmitAuditRecord appends one immutable audit row.
	EmitAuditRecord(ctx context.Context, record AuditRecord) error
}

// Store is the full backing store surface the gateway wires at startup.
type Store interface {
	ConfigStore
	ProvisionStore
	AuditStore

	// HealthCheck verifies store connectivity.
	HealthCheck(ctx context.Context) error

	// Close releases the underlying pool.
	Close() error
}
