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

package provision

import (
	"context"
	"sync"
	"testing"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/Johnie198946/Authen-sub000/lib/services"
	"github.com/Johnie198946/Authen-sub000/lib/storage"
)

type recordingEmitter struct {
	mu      sync.Mutex
	records []services.AuditRecord
}

func (e *recordingEmitter) Emit(record services.AuditRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, record)
}

func (e *recordingEmitter) last(t *testing.T) services.AuditRecord {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	require.NotEmpty(t, e.records)
	return e.records[len(e.records)-1]
}

func newTestProvisioner(t *testing.T, store services.ProvisionStore, rules services.ConfigStore) (*Provisioner, *recordingEmitter) {
	t.Helper()
	emitter := &recordingEmitter{}
	p, err := NewProvisioner(Config{
		Store:   store,
		Rules:   rules,
		Emitter: emitter,
		Clock:   clockwork.NewFakeClock(),
	})
	require.NoError(t, err)
	return p, emitter
}

func TestProvisionAppliesFullRule(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := storage.NewMemory()
	mem.UpsertAutoProvisionRule(&services.AutoProvisionRule{
		AppID:         "app1",
		RoleIDs:       []string{"role-member", "role-beta"},
		PermissionIDs: []string{"perm-read"},
		OrgID:         "org1",
		PlanID:        "plan-free",
		Enabled:       true,
	})

	p, emitter := newTestProvisioner(t, mem, mem)
	require.NoError(t, p.Run(ctx, "app1", "u1", "req-1"))

	bound, err := mem.HasAppUserBinding(ctx, "app1", "u1")
	require.NoError(t, err)
	require.True(t, bound)
	require.Equal(t, []string{"role-beta", "role-member"}, mem.UserRoles("u1"))
	require.Equal(t, []string{"perm-read"}, mem.UserPermissions("u1"))
	require.Equal(t, []string{"u1"}, mem.OrganizationMembers("org1"))
	require.Equal(t, []string{"plan-free"}, mem.Subscriptions("u1"))

	record := emitter.last(t)
	require.Equal(t, "auto_provision", record.Action)
	require.Equal(t, "complete", record.Details["outcome"])
}

func TestProvisionBindsWithoutRule(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := storage.NewMemory()
	p, _ := newTestProvisioner(t, mem, mem)
	require.NoError(t, p.Run(ctx, "app1", "u1", "req-1"))

	bound, err := mem.HasAppUserBinding(ctx, "app1", "u1")
	require.NoError(t, err)
	require.True(t, bound)
	require.Empty(t, mem.UserRoles("u1"))
}

func TestProvisionSkipsDisabledRule(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := storage.NewMemory()
	mem.UpsertAutoProvisionRule(&services.AutoProvisionRule{
		AppID:   "app1",
		RoleIDs: []string{"role-member"},
		Enabled: false,
	})

	p, _ := newTestProvisioner(t, mem, mem)
	require.NoError(t, p.Run(ctx, "app1", "u1", "req-1"))

	bound, err := mem.HasAppUserBinding(ctx, "app1", "u1")
	require.NoError(t, err)
	require.True(t, bound)
	require.Empty(t, mem.UserRoles("u1"))
}

func TestProvisionIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := storage.NewMemory()
	mem.UpsertAutoProvisionRule(&services.AutoProvisionRule{
		AppID:   "app1",
		RoleIDs: []string{"role-member"},
		PlanID:  "plan-free",
		Enabled: true,
	})

	p, _ := newTestProvisioner(t, mem, mem)
	require.NoError(t, p.Run(ctx, "app1", "u1", "req-1"))
	require.NoError(t, p.Run(ctx, "app1", "u1", "req-2"))

	require.Equal(t, []string{"role-member"}, mem.UserRoles("u1"))
	require.Equal(t, []string{"plan-free"}, mem.Subscriptions("u1"))
}

// faultyStore injects a failure into one named role assignment.
type faultyStore struct {
	*storage.Memory
	failRole string
}

func (s *faultyStore) Provision(ctx context.Context, fn func(tx services.ProvisionTx) error) error {
	return s.Memory.Provision(ctx, func(tx services.ProvisionTx) error {
		return fn(&faultyTx{ProvisionTx: tx, failRole: s.failRole})
	})
}

type faultyTx struct {
	services.ProvisionTx
	failRole string
}

func (t *faultyTx) AssignRole(ctx context.Context, userID, roleID string) error {
	if roleID == t.failRole {
		return trace.Errorf("role %q does not exist", roleID)
	}
	return t.ProvisionTx.AssignRole(ctx, userID, roleID)
}

func TestProvisionSkipsFailedSteps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := storage.NewMemory()
	mem.UpsertAutoProvisionRule(&services.AutoProvisionRule{
		AppID:   "app1",
		RoleIDs: []string{"role-missing", "role-member"},
		PlanID:  "plan-free",
		Enabled: true,
	})

	p, emitter := newTestProvisioner(t, &faultyStore{Memory: mem, failRole: "role-missing"}, mem)
	require.NoError(t, p.Run(ctx, "app1", "u1", "req-1"))

	// The binding and the healthy steps still land.
	bound, err := mem.HasAppUserBinding(ctx, "app1", "u1")
	require.NoError(t, err)
	require.True(t, bound)
	require.Equal(t, []string{"role-member"}, mem.UserRoles("u1"))
	require.Equal(t, []string{"plan-free"}, mem.Subscriptions("u1"))

	record := emitter.last(t)
	require.Equal(t, "partial", record.Details["outcome"])
	require.Equal(t, []string{"role:role-missing"}, record.Details["failed_steps"])
}

// brokenBindingStore fails every binding upsert.
type brokenBindingStore struct {
	*storage.Memory
}

func (s *brokenBindingStore) Provision(ctx context.Context, fn func(tx services.ProvisionTx) error) error {
	return s.Memory.Provision(ctx, func(tx services.ProvisionTx) error {
		return fn(&brokenBindingTx{ProvisionTx: tx})
	})
}

type brokenBindingTx struct {
	services.ProvisionTx
}

func (t *brokenBindingTx) UpsertAppUserBinding(ctx context.Context, binding services.AppUserBinding) error {
	return trace.ConnectionProblem(nil, "store unavailable")
}

func TestProvisionBindingFailureAborts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := storage.NewMemory()
	p, emitter := newTestProvisioner(t, &brokenBindingStore{Memory: mem}, mem)

	require.Error(t, p.Run(ctx, "app1", "u1", "req-1"))
	record := emitter.last(t)
	require.Equal(t, "error", record.Details["outcome"])
}

func TestProvisionRunAsync(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := storage.NewMemory()
	p, _ := newTestProvisioner(t, mem, mem)

	// Cancel the request context right away; the background run must not
	// be abandoned with it.
	reqCtx, cancel := context.WithCancel(ctx)
	p.RunAsync(reqCtx, "app1", "u1", "req-1")
	cancel()
	p.Wait()

	bound, err := mem.HasAppUserBinding(ctx, "app1", "u1")
	require.NoError(t, err)
	require.True(t, bound)
}
