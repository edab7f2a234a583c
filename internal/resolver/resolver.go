// Package resolver implements the conflict resolver: per-map (optionally
// per-key-glob) rules that may veto an otherwise-winning CRDT write before
// it is applied, evaluated via the sandboxed expression language in
// internal/resolver/expr rather than arbitrary host code.
package resolver

import (
	"context"
	"path"
	"sort"
	"sync"

	"github.com/maxiokv/dkvd/internal/resolver/expr"
	"github.com/maxiokv/dkvd/internal/wire"
)

// Outcome is a rule's verdict on one write.
type Outcome int

const (
	OutcomeAccept Outcome = iota
	OutcomeReject
	// OutcomePreferLocal accepts the op without error but instructs the
	// pipeline to keep the local value: used for rules like "never let a
	// remote write clobber a key tagged authoritative-local".
	OutcomePreferLocal
)

// Rule gates writes to maps matching MapNamePattern (and, if set,
// KeyGlobPattern) through a boolean expression over the op's fields. Rules
// are evaluated in descending Priority order; the first matching rule wins.
type Rule struct {
	Name           string
	MapNamePattern string
	KeyGlobPattern string // empty matches every key
	Priority       int
	When           expr.Expr // must evaluate truthy for the rule to apply
	Outcome        Outcome
	Reason         string
}

func (r Rule) matches(mapName, key string) bool {
	if ok, err := path.Match(r.MapNamePattern, mapName); err != nil || !ok {
		return false
	}
	if r.KeyGlobPattern == "" {
		return true
	}
	ok, err := path.Match(r.KeyGlobPattern, key)
	return err == nil && ok
}

// Engine evaluates an op against its registered rule set. Safe for
// concurrent use; rules are replaced wholesale via SetRules.
type Engine struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewEngine constructs an Engine with the given initial rule set.
func NewEngine(rules []Rule) *Engine {
	e := &Engine{}
	e.SetRules(rules)
	return e
}

// SetRules atomically replaces the rule set, sorted by descending priority.
func (e *Engine) SetRules(rules []Rule) {
	cp := append([]Rule(nil), rules...)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].Priority > cp[j].Priority })
	e.mu.Lock()
	e.rules = cp
	e.mu.Unlock()
}

// Resolve implements session.ConflictResolver. It returns false for both
// OutcomeReject and OutcomePreferLocal (the pipeline treats
// a rejected write and a prefer-local write identically: the incoming value
// is not applied) but with a reason prefixed so operators can tell them
// apart in logs and MERGE_REJECTION frames.
func (e *Engine) Resolve(ctx context.Context, mapName string, op wire.ClientOpMsg) (bool, string) {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	env := envFromOp(mapName, op)
	for _, r := range rules {
		if !r.matches(mapName, op.Key) {
			continue
		}
		if r.When != nil {
			truthy, err := expr.EvalBool(r.When, env)
			if err != nil || !truthy {
				continue
			}
		}
		switch r.Outcome {
		case OutcomeAccept:
			return true, ""
		case OutcomeReject:
			return false, reasonOr(r, "rejected by rule "+r.Name)
		case OutcomePreferLocal:
			return false, "prefer-local: " + reasonOr(r, r.Name)
		}
	}
	return true, ""
}

func reasonOr(r Rule, fallback string) string {
	if r.Reason != "" {
		return r.Reason
	}
	return fallback
}

func envFromOp(mapName string, op wire.ClientOpMsg) expr.Env {
	return expr.Env{
		"mapName":   mapName,
		"key":       op.Key,
		"opType":    opTypeName(op.OpType),
		"tag":       op.Tag,
		"valueLen":  float64(len(op.Value)),
		"ttlMs":     float64(op.TTLMs),
		"nodeId":    op.Timestamp.NodeID,
		"origin":    op.OriginNodeID,
		"fromCluster": op.OriginNodeID != "",
	}
}

func opTypeName(t wire.OpType) string {
	switch t {
	case wire.OpPut:
		return "PUT"
	case wire.OpRemove:
		return "REMOVE"
	case wire.OpOrAdd:
		return "OR_ADD"
	case wire.OpOrRemove:
		return "OR_REMOVE"
	default:
		return "UNKNOWN"
	}
}
