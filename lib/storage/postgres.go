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

// Package storage implements the services store interfaces over the
// shared relational store. The gateway only ever writes app-user
// bindings, provisioning side effects and audit rows; everything else is
// admin-owned configuration it reads.
package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gravitational/trace"

	"github.com/Johnie198946/Authen-sub000/lib/services"
)

// PostgresConfig holds connection parameters for the configuration store.
type PostgresConfig struct {
	// ConnString is a pgx connection string or URL.
	ConnString string
}

// Check validates the config.
func (c *PostgresConfig) Check() error {
	if c.ConnString == "" {
		return trace.BadParameter("missing postgres connection string")
	}
	return nil
}

// Postgres is the pgx-backed store.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects a pool to the configuration store.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if err := cfg.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	pool, err := pgxpool.New(ctx, cfg.ConnString)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, trace.Wrap(err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// HealthCheck verifies connectivity.
func (p *Postgres) HealthCheck(ctx context.Context) error {
	return trace.Wrap(p.pool.Ping(ctx))
}

// GetApplication returns the application record or trace.NotFound.
func (p *Postgres) GetApplication(ctx context.Context, appID string) (*services.Application, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT app_id, name, COALESCE(description, ''), app_secret_hash,
		       status, rate_limit, COALESCE(webhook_secret, ''),
		       created_at, updated_at
		FROM applications
		WHERE app_id = $1`, appID)

	var app services.Application
	err := row.Scan(&app.ID, &app.Name, &app.Description, &app.SecretHash,
		&app.Status, &app.RateLimit, &app.WebhookSecret,
		&app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, trace.NotFound("application %q not found", appID)
		}
		return nil, trace.Wrap(err)
	}
	if err := app.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &app, nil
}

// GetEnabledMethods returns the enabled login methods of an application.
func (p *Postgres) GetEnabledMethods(ctx context.Context, appID string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT method
		FROM app_login_methods
		WHERE app_id = $1 AND is_enabled
		ORDER BY method`, appID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var methods []string
	for rows.Next() {
		var method string
		if err := rows.Scan(&method); err != nil {
			return nil, trace.Wrap(err)
		}
		methods = append(methods, method)
	}
	return methods, trace.Wrap(rows.Err())
}

// GetGrantedScopes returns the capability strings granted to an application.
func (p *Postgres) GetGrantedScopes(ctx context.Context, appID string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT scope
		FROM app_scopes
		WHERE app_id = $1
		ORDER BY scope`, appID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var scopes []string
	for rows.Next() {
		var scope string
		if err := rows.Scan(&scope); err != nil {
			return nil, trace.Wrap(err)
		}
		scopes = append(scopes, scope)
	}
	return scopes, trace.Wrap(rows.Err())
}

// GetOAuthConfig returns the encrypted OAuth blob for one provider.
func (p *Postgres) GetOAuthConfig(ctx context.Context, appID, provider string) ([]byte, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT oauth_config
		FROM app_login_methods
		WHERE app_id = $1 AND method = $2 AND is_enabled`, appID, provider)

	var blob []byte
	if err := row.Scan(&blob); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, trace.NotFound("no oauth configuration for provider %q", provider)
		}
		return nil, trace.Wrap(err)
	}
	if len(blob) == 0 {
		return nil, trace.NotFound("no oauth configuration for provider %q", provider)
	}
	return blob, nil
}

// GetAutoProvisionRule returns the application's provisioning rule.
func (p *Postgres) GetAutoProvisionRule(ctx context.Context, appID string) (*services.AutoProvisionRule, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT app_id, COALESCE(role_ids, '[]'), COALESCE(permission_ids, '[]'),
		       COALESCE(org_id, ''), COALESCE(plan_id, ''), is_enabled,
		       created_at, updated_at
		FROM auto_provision_configs
		WHERE app_id = $1`, appID)

	var rule services.AutoProvisionRule
	var roleIDs, permissionIDs []byte
	err := row.Scan(&rule.AppID, &roleIDs, &permissionIDs,
		&rule.OrgID, &rule.PlanID, &rule.Enabled,
		&rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, trace.NotFound("no auto-provision rule for application %q", appID)
		}
		return nil, trace.Wrap(err)
	}
	if err := json.Unmarshal(roleIDs, &rule.RoleIDs); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := json.Unmarshal(permissionIDs, &rule.PermissionIDs); err != nil {
		return nil, trace.Wrap(err)
	}
	return &rule, nil
}

// HasAppUserBinding reports whether the (application, user) binding exists.
func (p *Postgres) HasAppUserBinding(ctx context.Context, appID, userID string) (bool, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM app_users WHERE app_id = $1 AND user_id = $2
		)`, appID, userID)

	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, trace.Wrap(err)
	}
	return exists, nil
}

// Provision runs fn inside one transaction.
func (p *Postgres) Provision(ctx context.Context, fn func(tx services.ProvisionTx) error) error {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return fn(&provisionTx{tx: tx})
	})
	return trace.Wrap(err)
}

// provisionTx implements services.ProvisionTx on one pgx transaction.
// Every write tolerates rerun: uniqueness conflicts are no-ops. The
// binding write runs directly on the transaction, so its failure aborts
// the whole run. Every enrichment write runs under a savepoint: without
// one, a single failed statement (a stale role id hitting a foreign
// key, say) would put the session into the aborted state (SQLSTATE
// 25P02), fail every later statement, and turn the final commit into a
// rollback that takes the binding with it.
type provisionTx struct {
	tx pgx.Tx
}

// step runs one best-effort write under a savepoint. pgx.Tx.Begin on a
// transaction issues SAVEPOINT; rolling it back clears the aborted
// state so the enclosing transaction stays usable.
func (t *provisionTx) step(ctx context.Context, fn func(sp pgx.Tx) error) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := fn(sp); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return trace.NewAggregate(err, rbErr)
		}
		return trace.Wrap(err)
	}
	return trace.Wrap(sp.Commit(ctx))
}

func (t *provisionTx) UpsertAppUserBinding(ctx context.Context, binding services.AppUserBinding) error {
	if err := binding.Check(); err != nil {
		return trace.Wrap(err)
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO app_users (app_id, user_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (app_id, user_id) DO NOTHING`,
		binding.AppID, binding.UserID, binding.CreatedAt)
	return trace.Wrap(err)
}

func (t *provisionTx) AssignRole(ctx context.Context, userID, roleID string) error {
	return t.step(ctx, func(sp pgx.Tx) error {
		_, err := sp.Exec(ctx, `
			INSERT INTO user_roles (user_id, role_id)
			VALUES ($1, $2)
			ON CONFLICT (user_id, role_id) DO NOTHING`, userID, roleID)
		return trace.Wrap(err)
	})
}

func (t *provisionTx) AssignPermission(ctx context.Context, userID, permissionID string) error {
	return t.step(ctx, func(sp pgx.Tx) error {
		_, err := sp.Exec(ctx, `
			INSERT INTO user_permissions (user_id, permission_id)
			VALUES ($1, $2)
			ON CONFLICT (user_id, permission_id) DO NOTHING`, userID, permissionID)
		return trace.Wrap(err)
	})
}

func (t *provisionTx) AddOrganizationMember(ctx context.Context, userID, orgID string) error {
	return t.step(ctx, func(sp pgx.Tx) error {
		_, err := sp.Exec(ctx, `
			INSERT INTO organization_members (org_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (org_id, user_id) DO NOTHING`, orgID, userID)
		return trace.Wrap(err)
	})
}

func (t *provisionTx) EnsureSubscription(ctx context.Context, userID, planID string) error {
	return t.step(ctx, func(sp pgx.Tx) error {
		_, err := sp.Exec(ctx, `
			INSERT INTO user_subscriptions (user_id, plan_id, status)
			SELECT $1, $2, 'active'
			WHERE NOT EXISTS (
				SELECT 1 FROM user_subscriptions
				WHERE user_id = $1 AND plan_id = $2 AND status <> 'terminated'
			)`, userID, planID)
		return trace.Wrap(err)
	})
}

// EmitAuditRecord appends one immutable audit row.
func (p *Postgres) EmitAuditRecord(ctx context.Context, record services.AuditRecord) error {
	details, err := json.Marshal(record.Details)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO audit_logs (
			time, request_id, app_id, user_id, action, method, path,
			status, elapsed_ms, client_ip, user_agent,
			resource_type, resource_id, details
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		record.Time, record.RequestID, record.AppID, record.UserID,
		record.Action, record.Method, record.Path,
		record.Status, record.ElapsedMS, record.ClientIP, record.UserAgent,
		record.ResourceType, record.ResourceID, details)
	return trace.Wrap(err)
}
