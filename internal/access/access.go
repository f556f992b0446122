// Package access implements the replication access gate: principals, role
// resolution and ordered first-match-wins rule evaluation per model.
package access

import (
	"fmt"
	"sync"

	"github.com/syncline-dev/syncline/pkg/replicate"
)

// Synthetic roles every principal resolves to.
const (
	// RoleEveryone is held by all principals, anonymous included.
	RoleEveryone = "$everyone"
	// RoleAuthenticated is held by every non-anonymous principal.
	RoleAuthenticated = "$authenticated"
)

// Principal is an authenticated actor, or Anonymous for unauthenticated
// in-process and credential-less network calls.
type Principal struct {
	ID        string
	Roles     []string
	Anonymous bool
}

// Anonymous is the principal of a call carrying no credential.
var Anonymous = Principal{Anonymous: true}

// ResolveRoles returns the principal's effective role set, including the
// synthetic roles.
func ResolveRoles(p Principal) []string {
	roles := append([]string{RoleEveryone}, p.Roles...)
	if !p.Anonymous {
		roles = append(roles, RoleAuthenticated)
	}
	return roles
}

// PrincipalType tags whom a rule addresses.
type PrincipalType string

const (
	PrincipalUser PrincipalType = "USER"
	PrincipalRole PrincipalType = "ROLE"
)

// Permission is a rule's verdict.
type Permission string

const (
	Allow Permission = "ALLOW"
	Deny  Permission = "DENY"
)

// Rule grants or denies one access type on a model to a user or role.
// Rules are evaluated in order; the first match wins.
type Rule struct {
	PrincipalType PrincipalType        `json:"principal_type" yaml:"principal_type"`
	PrincipalID   string               `json:"principal_id" yaml:"principal_id"`
	Permission    Permission           `json:"permission" yaml:"permission"`
	Access        replicate.AccessType `json:"access" yaml:"access"`
}

// Validate rejects malformed rules before they enter a registry.
func (r Rule) Validate() error {
	switch r.PrincipalType {
	case PrincipalUser, PrincipalRole:
	default:
		return fmt.Errorf("unknown principal type %q", r.PrincipalType)
	}
	switch r.Permission {
	case Allow, Deny:
	default:
		return fmt.Errorf("unknown permission %q", r.Permission)
	}
	switch r.Access {
	case replicate.AccessRead, replicate.AccessWrite, replicate.AccessAny:
	default:
		return fmt.Errorf("unknown access type %q", r.Access)
	}
	return nil
}

// Registry holds the ordered rule lists per model. It is safe for
// concurrent readers; rule configuration happens at startup.
type Registry struct {
	mu    sync.RWMutex
	rules map[string][]Rule
}

// NewRegistry returns an empty registry. With no rules configured every
// check denies.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[string][]Rule)}
}

// SetRules replaces the model's ordered rule list.
func (r *Registry) SetRules(model string, rules []Rule) error {
	for i, rule := range rules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("rule %d for %s: %w", i, model, err)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[model] = append([]Rule(nil), rules...)
	return nil
}

// RulesFor returns a copy of the model's ordered rule list.
func (r *Registry) RulesFor(model string) []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Rule(nil), r.rules[model]...)
}

// GateFor binds a principal to the registry's rules. The result satisfies
// replicate.Gate.
func (r *Registry) GateFor(p Principal) *Gate {
	return &Gate{registry: r, principal: p}
}

// Gate evaluates a single principal against the registry.
type Gate struct {
	registry  *Registry
	principal Principal
}

// Check evaluates the model's rules for the bound principal. Explicit user
// rules are consulted before role rules, in configuration order, and the
// first match decides. No match denies.
func (g *Gate) Check(model string, access replicate.AccessType, recordID string) error {
	rules := g.registry.RulesFor(model)

	if !g.principal.Anonymous {
		for _, rule := range rules {
			if rule.PrincipalType != PrincipalUser {
				continue
			}
			if rule.PrincipalID == g.principal.ID && accessMatches(rule.Access, access) {
				return verdict(rule, g.principal, model, access)
			}
		}
	}

	roles := make(map[string]bool)
	for _, role := range ResolveRoles(g.principal) {
		roles[role] = true
	}
	for _, rule := range rules {
		if rule.PrincipalType != PrincipalRole {
			continue
		}
		if roles[rule.PrincipalID] && accessMatches(rule.Access, access) {
			return verdict(rule, g.principal, model, access)
		}
	}

	return denied(g.principal, model, access)
}

func accessMatches(granted, requested replicate.AccessType) bool {
	return granted == replicate.AccessAny || granted == requested
}

func verdict(rule Rule, p Principal, model string, access replicate.AccessType) error {
	if rule.Permission == Allow {
		return nil
	}
	return denied(p, model, access)
}

func denied(p Principal, model string, access replicate.AccessType) error {
	who := p.ID
	if p.Anonymous {
		who = "anonymous"
	}
	return replicate.NewAuthorizationError("", model,
		fmt.Sprintf("%s access denied for %s", access, who))
}
