// Package security implements the policy engine that decides whether a
// principal may perform an action on a map, and optionally on specific
// fields within a value.
package security

import (
	"path"
	"sync"

	"github.com/maxiokv/dkvd/internal/wire"
)

// Action is an operation kind a policy can grant.
type Action string

const (
	ActionRead   Action = "READ"
	ActionPut    Action = "PUT"
	ActionRemove Action = "REMOVE"
	ActionAll    Action = "ALL"
)

// covers reports whether a granted action covers a requested one: ALL covers
// everything, otherwise the actions must match exactly.
func covers(granted, requested Action) bool {
	return granted == ActionAll || granted == requested
}

// Principal identifies the caller making a request.
type Principal struct {
	UserID string
	Roles  []string
}

// Policy grants one role access to maps matching a glob pattern.
type Policy struct {
	Role            string
	MapNamePattern  string // glob with '*'
	Action          Action
	AllowedFields   []string // if non-empty, every touched field must be listed
}

// matchesMap reports whether mapName satisfies the policy's glob pattern.
// '*' is Go's path.Match wildcard, which does not cross '/' boundaries;
// map names in this system are flat, so that restriction never bites.
func (p Policy) matchesMap(mapName string) bool {
	ok, err := path.Match(p.MapNamePattern, mapName)
	return err == nil && ok
}

func (p Policy) hasRole(roles []string) bool {
	for _, r := range roles {
		if r == p.Role {
			return true
		}
	}
	return false
}

// Engine evaluates Principal/action/mapName/fieldPath requests against a
// policy set. Safe for concurrent use; policies are replaced wholesale via
// SetPolicies so readers never observe a partial update.
type Engine struct {
	mu       sync.RWMutex
	policies []Policy
}

// NewEngine constructs an Engine with the given initial policy set.
func NewEngine(policies []Policy) *Engine {
	e := &Engine{}
	e.SetPolicies(policies)
	return e
}

// SetPolicies atomically replaces the policy set.
func (e *Engine) SetPolicies(policies []Policy) {
	cp := append([]Policy(nil), policies...)
	e.mu.Lock()
	e.policies = cp
	e.mu.Unlock()
}

// Authorize returns true if any policy grants principal's roles the action
// on mapName, and (when fieldPaths is non-empty) every field is allowed by
// that policy's AllowedFields list.
func (e *Engine) Authorize(principal Principal, mapName string, action Action, fieldPaths []string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, p := range e.policies {
		if !p.hasRole(principal.Roles) {
			continue
		}
		if !p.matchesMap(mapName) {
			continue
		}
		if !covers(p.Action, action) {
			continue
		}
		if len(p.AllowedFields) == 0 {
			return true
		}
		if allFieldsAllowed(p.AllowedFields, fieldPaths) {
			return true
		}
	}
	return false
}

// ActionForOp maps a wire op type to the Action a policy must grant for it.
func ActionForOp(opType wire.OpType) Action {
	switch opType {
	case wire.OpPut, wire.OpOrAdd:
		return ActionPut
	case wire.OpRemove, wire.OpOrRemove:
		return ActionRemove
	default:
		return ActionAll
	}
}

func allFieldsAllowed(allowed, touched []string) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, f := range allowed {
		set[f] = struct{}{}
	}
	for _, f := range touched {
		if _, ok := set[f]; !ok {
			return false
		}
	}
	return true
}
