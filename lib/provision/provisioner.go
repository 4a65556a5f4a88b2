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

// Package provision applies per-application onboarding recipes after a
// user first registers through an application: role and permission
// grants, organization membership, and a subscription, plus the
// app-user binding that later bearer-gated requests are checked against.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	gateway "github.com/Johnie198946/Authen-sub000"
	"github.com/Johnie198946/Authen-sub000/lib/defaults"
	"github.com/Johnie198946/Authen-sub000/lib/services"
)

// Emitter receives the audit record describing each provisioning run.
// lib/events satisfies it.
type Emitter interface {
	Emit(record services.AuditRecord)
}

// Config holds provisioner configuration.
type Config struct {
	// Store runs the provisioning transaction.
	Store services.ProvisionStore
	// Rules reads the per-application provisioning rule.
	Rules services.ConfigStore
	// Emitter, optional, records the outcome of each run.
	Emitter Emitter
	// Clock stamps bindings and audit rows.
	Clock clockwork.Clock
	// Logger, optional.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("missing provision store")
	}
	if c.Rules == nil {
		return trace.BadParameter("missing rule store")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default().With(gateway.ComponentKey, gateway.ComponentProvision)
	}
	return nil
}

// Provisioner materializes app-user bindings and applies auto-provision
// rules. Safe for concurrent use.
type Provisioner struct {
	cfg Config
	wg  sync.WaitGroup
}

// NewProvisioner returns a provisioner for the given configuration.
func NewProvisioner(cfg Config) (*Provisioner, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Provisioner{cfg: cfg}, nil
}

// Run provisions a user synchronously. The app-user binding is
// mandatory: if it cannot be written the whole transaction rolls back
// and the error is returned. Every enrichment step after it is
// best-effort: a failed step is logged and skipped, and the audit
// record marks the run partial with the steps that failed.
//
// Every step is idempotent, so re-running after a duplicate login or a
// crashed earlier attempt converges to the same state.
func (p *Provisioner) Run(ctx context.Context, appID, userID, requestID string) error {
	ctx, cancel := context.WithTimeout(ctx, defaults.ProvisionTimeout)
	defer cancel()

	rule, err := p.cfg.Rules.GetAutoProvisionRule(ctx, appID)
	switch {
	case trace.IsNotFound(err):
		rule = nil
	case err != nil:
		p.audit(appID, userID, requestID, "error", nil, err)
		return trace.Wrap(err)
	case !rule.Enabled:
		rule = nil
	}

	var failed []string
	err = p.cfg.Store.Provision(ctx, func(tx services.ProvisionTx) error {
		binding := services.AppUserBinding{
			AppID:     appID,
			UserID:    userID,
			CreatedAt: p.cfg.Clock.Now().UTC(),
		}
		if err := tx.UpsertAppUserBinding(ctx, binding); err != nil {
			return trace.Wrap(err, "binding user %q to application %q", userID, appID)
		}
		if rule == nil {
			return nil
		}

		for _, roleID := range rule.RoleIDs {
			if err := tx.AssignRole(ctx, userID, roleID); err != nil {
				failed = p.skipStep(ctx, failed, fmt.Sprintf("role:%v", roleID), err)
			}
		}
		for _, permissionID := range rule.PermissionIDs {
			if err := tx.AssignPermission(ctx, userID, permissionID); err != nil {
				failed = p.skipStep(ctx, failed, fmt.Sprintf("permission:%v", permissionID), err)
			}
		}
		if rule.OrgID != "" {
			if err := tx.AddOrganizationMember(ctx, userID, rule.OrgID); err != nil {
				failed = p.skipStep(ctx, failed, fmt.Sprintf("organization:%v", rule.OrgID), err)
			}
		}
		if rule.PlanID != "" {
			if err := tx.EnsureSubscription(ctx, userID, rule.PlanID); err != nil {
				failed = p.skipStep(ctx, failed, fmt.Sprintf("subscription:%v", rule.PlanID), err)
			}
		}
		return nil
	})
	if err != nil {
		p.cfg.Logger.ErrorContext(ctx, "auto-provisioning failed",
			"app_id", appID, "user_id", userID, "error", err)
		p.audit(appID, userID, requestID, "error", failed, err)
		return trace.Wrap(err)
	}

	outcome := "complete"
	if len(failed) > 0 {
		outcome = "partial"
	}
	p.audit(appID, userID, requestID, outcome, failed, nil)
	return nil
}

// RunAsync provisions in the background so registration responses are
// not delayed. The run detaches from the request context; cancellation
// of the inbound request must not abandon a half-provisioned user.
func (p *Provisioner) RunAsync(ctx context.Context, appID, userID, requestID string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		// Errors are already logged and audited inside Run.
		_ = p.Run(context.WithoutCancel(ctx), appID, userID, requestID)
	}()
}

// Wait blocks until all background runs finish. Used on shutdown and in
// tests.
func (p *Provisioner) Wait() {
	p.wg.Wait()
}

func (p *Provisioner) skipStep(ctx context.Context, failed []string, step string, err error) []string {
	p.cfg.Logger.WarnContext(ctx, "auto-provisioning step failed, skipping",
		"step", step, "error", err)
	return append(failed, step)
}

func (p *Provisioner) audit(appID, userID, requestID, outcome string, failed []string, runErr error) {
	if p.cfg.Emitter == nil {
		return
	}
	details := map[string]any{"outcome": outcome}
	if len(failed) > 0 {
		details["failed_steps"] = failed
	}
	if runErr != nil {
		details["error"] = runErr.Error()
	}
	p.cfg.Emitter.Emit(services.AuditRecord{
		Time:      p.cfg.Clock.Now().UTC(),
		RequestID: requestID,
		AppID:     appID,
		UserID:    userID,
		Action:    "auto_provision",
		Details:   details,
	})
}
