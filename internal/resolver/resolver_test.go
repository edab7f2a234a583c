package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/maxiokv/dkvd/internal/resolver/expr"
	"github.com/maxiokv/dkvd/internal/wire"
)

func TestResolveAcceptsWhenNoRuleMatches(t *testing.T) {
	e := NewEngine(nil)
	accept, reason := e.Resolve(context.Background(), "widgets", wire.ClientOpMsg{Key: "k1", OpType: wire.OpPut})
	assert.True(t, accept)
	assert.Empty(t, reason)
}

func TestResolveRejectsMatchingRule(t *testing.T) {
	e := NewEngine([]Rule{
		{Name: "no-large-writes", MapNamePattern: "widgets", When: expr.MustParse(`valueLen > 1024`), Outcome: OutcomeReject, Reason: "value too large"},
	})
	accept, reason := e.Resolve(context.Background(), "widgets", wire.ClientOpMsg{Key: "k1", OpType: wire.OpPut, Value: make([]byte, 2048)})
	assert.False(t, accept)
	assert.Equal(t, "value too large", reason)
}

func TestResolveOnlyMatchesDeclaredMapPattern(t *testing.T) {
	e := NewEngine([]Rule{
		{Name: "reject-all-gadgets", MapNamePattern: "gadgets", Outcome: OutcomeReject},
	})
	accept, _ := e.Resolve(context.Background(), "widgets", wire.ClientOpMsg{Key: "k1", OpType: wire.OpPut})
	assert.True(t, accept)
}

func TestResolveKeyGlobScopesRule(t *testing.T) {
	e := NewEngine([]Rule{
		{Name: "protect-admin-keys", MapNamePattern: "*", KeyGlobPattern: "admin.*", Outcome: OutcomeReject, Reason: "admin keys are read-only"},
	})
	accept, reason := e.Resolve(context.Background(), "widgets", wire.ClientOpMsg{Key: "admin.settings", OpType: wire.OpPut})
	assert.False(t, accept)
	assert.Equal(t, "admin keys are read-only", reason)

	accept, _ = e.Resolve(context.Background(), "widgets", wire.ClientOpMsg{Key: "user.settings", OpType: wire.OpPut})
	assert.True(t, accept)
}

func TestResolvePreferLocalRejectsWithTaggedReason(t *testing.T) {
	e := NewEngine([]Rule{
		{Name: "keep-local-overrides", MapNamePattern: "*", KeyGlobPattern: "override.*", Outcome: OutcomePreferLocal},
	})
	accept, reason := e.Resolve(context.Background(), "widgets", wire.ClientOpMsg{Key: "override.theme", OpType: wire.OpPut})
	assert.False(t, accept)
	assert.Contains(t, reason, "prefer-local")
}

func TestResolveHigherPriorityRuleWinsOverLower(t *testing.T) {
	e := NewEngine([]Rule{
		{Name: "low-priority-allow", MapNamePattern: "*", Priority: 1, Outcome: OutcomeAccept},
		{Name: "high-priority-reject", MapNamePattern: "*", Priority: 10, Outcome: OutcomeReject, Reason: "blocked"},
	})
	accept, reason := e.Resolve(context.Background(), "widgets", wire.ClientOpMsg{Key: "k1", OpType: wire.OpPut})
	assert.False(t, accept)
	assert.Equal(t, "blocked", reason)
}

func TestResolveSkipsRuleWhenConditionFalse(t *testing.T) {
	e := NewEngine([]Rule{
		{Name: "reject-removes", MapNamePattern: "*", When: expr.MustParse(`opType == "REMOVE"`), Outcome: OutcomeReject},
	})
	accept, _ := e.Resolve(context.Background(), "widgets", wire.ClientOpMsg{Key: "k1", OpType: wire.OpPut})
	assert.True(t, accept)

	accept, _ = e.Resolve(context.Background(), "widgets", wire.ClientOpMsg{Key: "k1", OpType: wire.OpRemove})
	assert.False(t, accept)
}
