package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncline-dev/syncline/pkg/replicate"
)

func userRule(id string, perm Permission, access replicate.AccessType) Rule {
	return Rule{PrincipalType: PrincipalUser, PrincipalID: id, Permission: perm, Access: access}
}

func roleRule(id string, perm Permission, access replicate.AccessType) Rule {
	return Rule{PrincipalType: PrincipalRole, PrincipalID: id, Permission: perm, Access: access}
}

func TestResolveRoles(t *testing.T) {
	roles := ResolveRoles(Principal{ID: "alice", Roles: []string{"admin"}})
	assert.ElementsMatch(t, []string{RoleEveryone, RoleAuthenticated, "admin"}, roles)

	roles = ResolveRoles(Anonymous)
	assert.ElementsMatch(t, []string{RoleEveryone}, roles)
}

func TestRuleValidate(t *testing.T) {
	assert.NoError(t, userRule("alice", Allow, replicate.AccessRead).Validate())
	assert.NoError(t, roleRule(RoleEveryone, Deny, replicate.AccessAny).Validate())

	assert.Error(t, Rule{PrincipalType: "GROUP", PrincipalID: "x", Permission: Allow, Access: replicate.AccessRead}.Validate())
	assert.Error(t, Rule{PrincipalType: PrincipalUser, PrincipalID: "x", Permission: "MAYBE", Access: replicate.AccessRead}.Validate())
	assert.Error(t, Rule{PrincipalType: PrincipalUser, PrincipalID: "x", Permission: Allow, Access: "EXECUTE"}.Validate())
}

func TestRegistry_SetRulesValidates(t *testing.T) {
	registry := NewRegistry()
	err := registry.SetRules("cars", []Rule{
		userRule("alice", Allow, replicate.AccessRead),
		{PrincipalType: "GROUP"},
	})
	require.Error(t, err)
	assert.Empty(t, registry.RulesFor("cars"), "a rejected rule list leaves nothing behind")
}

func TestGate_DefaultDeny(t *testing.T) {
	registry := NewRegistry()
	gate := registry.GateFor(Principal{ID: "alice"})

	err := gate.Check("cars", replicate.AccessRead, "")
	require.Error(t, err)
	assert.True(t, replicate.IsAuthorization(err))
}

func TestGate_FirstMatchWins(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.SetRules("cars", []Rule{
		roleRule(RoleAuthenticated, Deny, replicate.AccessWrite),
		roleRule(RoleAuthenticated, Allow, replicate.AccessAny),
	}))
	gate := registry.GateFor(Principal{ID: "alice"})

	assert.NoError(t, gate.Check("cars", replicate.AccessRead, ""))
	assert.Error(t, gate.Check("cars", replicate.AccessWrite, ""), "the earlier deny shadows the later allow")
}

func TestGate_UserRulesBeforeRoleRules(t *testing.T) {
	registry := NewRegistry()
	// The role allow comes first in configuration order, but the user deny
	// is still consulted before any role rule.
	require.NoError(t, registry.SetRules("cars", []Rule{
		roleRule(RoleEveryone, Allow, replicate.AccessAny),
		userRule("mallory", Deny, replicate.AccessAny),
	}))

	assert.Error(t, registry.GateFor(Principal{ID: "mallory"}).Check("cars", replicate.AccessRead, ""))
	assert.NoError(t, registry.GateFor(Principal{ID: "alice"}).Check("cars", replicate.AccessRead, ""))
}

func TestGate_WildcardAccess(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.SetRules("cars", []Rule{
		userRule("peter", Allow, replicate.AccessAny),
	}))
	gate := registry.GateFor(Principal{ID: "peter"})

	assert.NoError(t, gate.Check("cars", replicate.AccessRead, ""))
	assert.NoError(t, gate.Check("cars", replicate.AccessWrite, ""))
}

func TestGate_AccessTypesAreDistinct(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.SetRules("cars", []Rule{
		userRule("alice", Allow, replicate.AccessRead),
	}))
	gate := registry.GateFor(Principal{ID: "alice"})

	assert.NoError(t, gate.Check("cars", replicate.AccessRead, ""))
	assert.Error(t, gate.Check("cars", replicate.AccessWrite, ""))
}

func TestGate_Anonymous(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.SetRules("cars", []Rule{
		// A user rule for the empty id must never match an anonymous call.
		userRule("", Allow, replicate.AccessAny),
		roleRule(RoleAuthenticated, Allow, replicate.AccessAny),
		roleRule(RoleEveryone, Allow, replicate.AccessRead),
	}))
	gate := registry.GateFor(Anonymous)

	assert.NoError(t, gate.Check("cars", replicate.AccessRead, ""))
	assert.Error(t, gate.Check("cars", replicate.AccessWrite, ""))
}

func TestGate_CustomRoles(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.SetRules("cars", []Rule{
		roleRule("fleet-admin", Allow, replicate.AccessAny),
	}))

	admin := registry.GateFor(Principal{ID: "alice", Roles: []string{"fleet-admin"}})
	assert.NoError(t, admin.Check("cars", replicate.AccessWrite, ""))

	plain := registry.GateFor(Principal{ID: "bob"})
	assert.Error(t, plain.Check("cars", replicate.AccessWrite, ""))
}

func TestGate_ModelsAreIsolated(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.SetRules("cars", []Rule{
		roleRule(RoleEveryone, Allow, replicate.AccessAny),
	}))
	gate := registry.GateFor(Principal{ID: "alice"})

	assert.NoError(t, gate.Check("cars", replicate.AccessRead, ""))
	assert.Error(t, gate.Check("drivers", replicate.AccessRead, ""))
}
