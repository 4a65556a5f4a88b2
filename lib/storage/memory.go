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

package storage

import (
	"context"
	"slices"
	"sync"

	"github.com/gravitational/trace"

	"github.com/Johnie198946/Authen-sub000/lib/services"
)

// Memory is an in-process implementation of the full store surface, used
// in tests and local development. It mirrors the idempotence guarantees
// of the Postgres store but provides no real transactionality: a failed
// provision leaves earlier steps applied, which the provisioner's own
// idempotence tolerates.
type Memory struct {
	mu sync.RWMutex

	apps     map[string]*services.Application
	methods  map[string][]services.LoginMethod
	scopes   map[string][]string
	rules    map[string]*services.AutoProvisionRule
	bindings map[string]map[string]services.AppUserBinding

	userRoles       map[string]map[string]bool
	userPermissions map[string]map[string]bool
	orgMembers      map[string]map[string]bool
	subscriptions   map[string]map[string]string

	audit []services.AuditRecord
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		apps:            make(map[string]*services.Application),
		methods:         make(map[string][]services.LoginMethod),
		scopes:          make(map[string][]string),
		rules:           make(map[string]*services.AutoProvisionRule),
		bindings:        make(map[string]map[string]services.AppUserBinding),
		userRoles:       make(map[string]map[string]bool),
		userPermissions: make(map[string]map[string]bool),
		orgMembers:      make(map[string]map[string]bool),
		subscriptions:   make(map[string]map[string]string),
	}
}

// Close implements services.Store.
func (m *Memory) Close() error { return nil }

// HealthCheck implements services.Store.
func (m *Memory) HealthCheck(ctx context.Context) error { return nil }

// UpsertApplication seeds or replaces an application record.
func (m *Memory) UpsertApplication(app *services.Application) error {
	if err := app.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *app
	m.apps[app.ID] = &copied
	return nil
}

// DeleteApplication removes an application record.
func (m *Memory) DeleteApplication(appID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.apps, appID)
}

// UpsertLoginMethod seeds or replaces one (application, method) row.
func (m *Memory) UpsertLoginMethod(method services.LoginMethod) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.methods[method.AppID]
	for i := range rows {
		if rows[i].Method == method.Method {
			rows[i] = method
			return
		}
	}
	m.methods[method.AppID] = append(rows, method)
}

// SetScopes replaces the application's scope grants.
func (m *Memory) SetScopes(appID string, scopes []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scopes[appID] = slices.Clone(scopes)
}

// UpsertAutoProvisionRule seeds the application's provisioning rule.
func (m *Memory) UpsertAutoProvisionRule(rule *services.AutoProvisionRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *rule
	m.rules[rule.AppID] = &copied
}

// GetApplication implements services.ConfigStore.
func (m *Memory) GetApplication(ctx context.Context, appID string) (*services.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	app, ok := m.apps[appID]
	if !ok {
		return nil, trace.NotFound("application %q not found", appID)
	}
	copied := *app
	return &copied, nil
}

// GetEnabledMethods implements services.ConfigStore.
func (m *Memory) GetEnabledMethods(ctx context.Context, appID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var enabled []string
	for _, row := range m.methods[appID] {
		if row.Enabled {
			enabled = append(enabled, row.Method)
		}
	}
	slices.Sort(enabled)
	return enabled, nil
}

// GetGrantedScopes implements services.ConfigStore.
func (m *Memory) GetGrantedScopes(ctx context.Context, appID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.scopes[appID]), nil
}

// GetOAuthConfig implements services.ConfigStore.
func (m *Memory) GetOAuthConfig(ctx context.Context, appID, provider string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, row := range m.methods[appID] {
		if row.Method == provider && row.Enabled && len(row.OAuthConfig) > 0 {
			return slices.Clone(row.OAuthConfig), nil
		}
	}
	return nil, trace.NotFound("no oauth configuration for provider %q", provider)
}

// GetAutoProvisionRule implements services.ConfigStore.
func (m *Memory) GetAutoProvisionRule(ctx context.Context, appID string) (*services.AutoProvisionRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rule, ok := m.rules[appID]
	if !ok {
		return nil, trace.NotFound("no auto-provision rule for application %q", appID)
	}
	copied := *rule
	return &copied, nil
}

// HasAppUserBinding implements services.ProvisionStore.
func (m *Memory) HasAppUserBinding(ctx context.Context, appID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.bindings[appID][userID]
	return ok, nil
}

// Provision implements services.ProvisionStore.
func (m *Memory) Provision(ctx context.Context, fn func(tx services.ProvisionTx) error) error {
	return trace.Wrap(fn(&memoryTx{store: m}))
}

type memoryTx struct {
	store *Memory
}

func (t *memoryTx) UpsertAppUserBinding(ctx context.Context, binding services.AppUserBinding) error {
	if err := binding.Check(); err != nil {
		return trace.Wrap(err)
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	perApp, ok := t.store.bindings[binding.AppID]
	if !ok {
		perApp = make(map[string]services.AppUserBinding)
		t.store.bindings[binding.AppID] = perApp
	}
	if _, ok := perApp[binding.UserID]; !ok {
		perApp[binding.UserID] = binding
	}
	return nil
}

func (t *memoryTx) AssignRole(ctx context.Context, userID, roleID string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	addMember(t.store.userRoles, userID, roleID)
	return nil
}

func (t *memoryTx) AssignPermission(ctx context.Context, userID, permissionID string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	addMember(t.store.userPermissions, userID, permissionID)
	return nil
}

func (t *memoryTx) AddOrganizationMember(ctx context.Context, userID, orgID string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	addMember(t.store.orgMembers, orgID, userID)
	return nil
}

func (t *memoryTx) EnsureSubscription(ctx context.Context, userID, planID string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	plans, ok := t.store.subscriptions[userID]
	if !ok {
		plans = make(map[string]string)
		t.store.subscriptions[userID] = plans
	}
	if status, ok := plans[planID]; ok && status != "terminated" {
		return nil
	}
	plans[planID] = "active"
	return nil
}

func addMember(index map[string]map[string]bool, key, member string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]bool)
		index[key] = set
	}
	set[member] = true
}

// EmitAuditRecord implements services.AuditStore.
func (m *Memory) EmitAuditRecord(ctx context.Context, record services.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, record)
	return nil
}

// AuditRecords returns a copy of the recorded audit rows, oldest first.
func (m *Memory) AuditRecords() []services.AuditRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.audit)
}

// UserRoles returns the role ids assigned to a user, for assertions.
func (m *Memory) UserRoles(userID string) []string {
	return m.members(m.userRoles, userID)
}

// UserPermissions returns the permission ids granted to a user.
func (m *Memory) UserPermissions(userID string) []string {
	return m.members(m.userPermissions, userID)
}

// OrganizationMembers returns the user ids belonging to an organization.
func (m *Memory) OrganizationMembers(orgID string) []string {
	return m.members(m.orgMembers, orgID)
}

// Subscriptions returns the user's plan ids with a non-terminated
// subscription.
func (m *Memory) Subscriptions(userID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var plans []string
	for plan, status := range m.subscriptions[userID] {
		if status != "terminated" {
			plans = append(plans, plan)
		}
	}
	slices.Sort(plans)
	return plans
}

func (m *Memory) members(index map[string]map[string]bool, key string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for member := range index[key] {
		out = append(out, member)
	}
	slices.Sort(out)
	return out
}
