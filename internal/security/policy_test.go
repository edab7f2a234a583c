package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthorizeGrantsExactRoleAndMap(t *testing.T) {
	e := NewEngine([]Policy{
		{Role: "writer", MapNamePattern: "orders", Action: ActionPut},
	})
	ok := e.Authorize(Principal{UserID: "u1", Roles: []string{"writer"}}, "orders", ActionPut, nil)
	assert.True(t, ok)
}

func TestAuthorizeDeniesWrongAction(t *testing.T) {
	e := NewEngine([]Policy{
		{Role: "reader", MapNamePattern: "orders", Action: ActionRead},
	})
	ok := e.Authorize(Principal{Roles: []string{"reader"}}, "orders", ActionPut, nil)
	assert.False(t, ok)
}

func TestAuthorizeActionAllCoversEverything(t *testing.T) {
	e := NewEngine([]Policy{
		{Role: "admin", MapNamePattern: "*", Action: ActionAll},
	})
	for _, a := range []Action{ActionRead, ActionPut, ActionRemove} {
		assert.True(t, e.Authorize(Principal{Roles: []string{"admin"}}, "anything", a, nil))
	}
}

func TestAuthorizeGlobMapPattern(t *testing.T) {
	e := NewEngine([]Policy{
		{Role: "writer", MapNamePattern: "orders-*", Action: ActionPut},
	})
	assert.True(t, e.Authorize(Principal{Roles: []string{"writer"}}, "orders-2026", ActionPut, nil))
	assert.False(t, e.Authorize(Principal{Roles: []string{"writer"}}, "invoices-2026", ActionPut, nil))
}

func TestAuthorizeFieldWhitelist(t *testing.T) {
	e := NewEngine([]Policy{
		{Role: "writer", MapNamePattern: "orders", Action: ActionPut, AllowedFields: []string{"status", "total"}},
	})
	assert.True(t, e.Authorize(Principal{Roles: []string{"writer"}}, "orders", ActionPut, []string{"status"}))
	assert.False(t, e.Authorize(Principal{Roles: []string{"writer"}}, "orders", ActionPut, []string{"status", "secret"}))
}

func TestAuthorizeDeniesWithoutMatchingRole(t *testing.T) {
	e := NewEngine([]Policy{
		{Role: "writer", MapNamePattern: "*", Action: ActionAll},
	})
	assert.False(t, e.Authorize(Principal{Roles: []string{"reader"}}, "orders", ActionPut, nil))
}

func TestSetPoliciesReplacesWholesale(t *testing.T) {
	e := NewEngine([]Policy{{Role: "writer", MapNamePattern: "*", Action: ActionAll}})
	e.SetPolicies([]Policy{{Role: "reader", MapNamePattern: "*", Action: ActionRead}})
	assert.False(t, e.Authorize(Principal{Roles: []string{"writer"}}, "orders", ActionPut, nil))
	assert.True(t, e.Authorize(Principal{Roles: []string{"reader"}}, "orders", ActionRead, nil))
}
