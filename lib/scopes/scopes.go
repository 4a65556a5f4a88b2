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

// Package scopes maps gateway endpoint paths to the capability an
// application must hold to reach them. Rules are an ordered table of
// segment globs; the first matching rule wins, so more specific patterns
// must precede more general ones. The table is validated at construction
// and a mis-ordered table is rejected outright.
package scopes

import (
	"path"
	"strings"

	"github.com/gravitational/trace"

	gateway "github.com/Johnie198946/Authen-sub000"
)

// Rule binds one path pattern to the scope it requires. Patterns are
// path.Match globs: `*` matches exactly one path segment, never a slash.
type Rule struct {
	// Pattern is the segment glob, relative to the gateway API prefix,
	// without surrounding slashes.
	Pattern string
	// Scope is the capability required when the pattern matches.
	Scope string
}

// DefaultRules is the gateway's endpoint to scope table, ordered most
// specific first.
var DefaultRules = []Rule{
	{Pattern: "auth/register/*", Scope: gateway.ScopeAuthRegister},
	{Pattern: "auth/login", Scope: gateway.ScopeAuthLogin},
	{Pattern: "auth/oauth/*", Scope: gateway.ScopeAuthLogin},
	{Pattern: "auth/refresh", Scope: gateway.ScopeAuthLogin},
	{Pattern: "auth/change-password", Scope: gateway.ScopeUserWrite},
	{Pattern: "users/*/roles/assign", Scope: gateway.ScopeRoleWrite},
	{Pattern: "users/*/roles/*/remove", Scope: gateway.ScopeRoleWrite},
	{Pattern: "users/*/permissions", Scope: gateway.ScopeRoleRead},
	{Pattern: "users/*/permissions/check", Scope: gateway.ScopeRoleRead},
	{Pattern: "users/*/roles", Scope: gateway.ScopeRoleRead},
	{Pattern: "users/*", Scope: gateway.ScopeUserRead},
}

// Matcher evaluates an ordered rule table.
type Matcher struct {
	rules []Rule
}

// NewMatcher validates the rule table and returns a matcher over it.
// Validation fails on malformed glob syntax, on unknown scopes, and on an
// earlier rule shadowing a later, more specific one.
func NewMatcher(rules []Rule) (*Matcher, error) {
	for i, rule := range rules {
		if rule.Pattern == "" || rule.Pattern != strings.Trim(rule.Pattern, "/") {
			return nil, trace.BadParameter("rule %v: pattern %q must be relative without surrounding slashes", i, rule.Pattern)
		}
		// Probe with the pattern's own shape so the scan reaches every
		// metacharacter; a mismatching probe would mask ErrBadPattern.
		probe := strings.ReplaceAll(rule.Pattern, "*", "x")
		if _, err := path.Match(rule.Pattern, probe); err != nil {
			return nil, trace.BadParameter("rule %v: malformed pattern %q", i, rule.Pattern)
		}
		if !isKnownScope(rule.Scope) {
			return nil, trace.BadParameter("rule %v: unknown scope %q", i, rule.Scope)
		}
		for j := i + 1; j < len(rules); j++ {
			if shadows(rule.Pattern, rules[j].Pattern) {
				return nil, trace.BadParameter(
					"rule %q at %v shadows more specific rule %q at %v; reorder the table",
					rule.Pattern, i, rules[j].Pattern, j)
			}
		}
	}
	return &Matcher{rules: rules}, nil
}

// NewDefaultMatcher returns a matcher over the gateway's built-in table.
func NewDefaultMatcher() (*Matcher, error) {
	matcher, err := NewMatcher(DefaultRules)
	return matcher, trace.Wrap(err)
}

// RequiredScope returns the capability required to reach the endpoint, or
// ok=false when no rule matches and no scope is required. The endpoint is
// matched after stripping the gateway prefix and surrounding slashes.
func (m *Matcher) RequiredScope(endpoint string) (scope string, ok bool) {
	normalized := Normalize(endpoint)
	for _, rule := range m.rules {
		if matched, _ := path.Match(rule.Pattern, normalized); matched {
			return rule.Scope, true
		}
	}
	return "", false
}

// Normalize strips the gateway API prefix and surrounding slashes from an
// endpoint path so it can be matched against the rule table.
func Normalize(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, gateway.APIPrefix)
	return strings.Trim(endpoint, "/")
}

// shadows reports whether an earlier pattern makes a later one
// unreachable. Since `*` never crosses a segment boundary, only patterns
// with the same segment count can collide; the earlier one shadows the
// later when each of its segments is either a wildcard or equal to the
// later segment.
func shadows(earlier, later string) bool {
	a := strings.Split(earlier, "/")
	b := strings.Split(later, "/")
	if len(a) != len(b) {
		return false
	}
	general := false
	for i := range a {
		switch {
		case a[i] == b[i]:
		case a[i] == "*":
			general = true
		default:
			return false
		}
	}
	return general
}

func isKnownScope(scope string) bool {
	for _, known := range gateway.AllScopes {
		if scope == known {
			return true
		}
	}
	return false
}
