package server

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/maxiokv/dkvd/internal/resolver"
	"github.com/maxiokv/dkvd/internal/resolver/expr"
	"github.com/maxiokv/dkvd/internal/security"
)

// policySpec is the YAML shape of one security.Policy.
type policySpec struct {
	Role           string   `yaml:"role"`
	MapNamePattern string   `yaml:"mapNamePattern"`
	Action         string   `yaml:"action"`
	AllowedFields  []string `yaml:"allowedFields"`
}

// loadSecurityPolicies reads a YAML policy file into security.Policy values.
// An empty path yields an empty policy set (every Authorize call denies),
// which is the safe default for a node with no policy file configured.
func loadSecurityPolicies(path string) ([]security.Policy, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var specs []policySpec
	if err := yaml.Unmarshal(b, &specs); err != nil {
		return nil, fmt.Errorf("failed to parse security policy file %s: %w", path, err)
	}

	policies := make([]security.Policy, 0, len(specs))
	for _, s := range specs {
		policies = append(policies, security.Policy{
			Role:           s.Role,
			MapNamePattern: s.MapNamePattern,
			Action:         security.Action(s.Action),
			AllowedFields:  s.AllowedFields,
		})
	}
	return policies, nil
}

// ruleSpec is the YAML shape of one resolver.Rule; When is parsed through
// the boolean expression language's own parser rather than re-implemented
// here.
type ruleSpec struct {
	Name           string `yaml:"name"`
	MapNamePattern string `yaml:"mapNamePattern"`
	KeyGlobPattern string `yaml:"keyGlobPattern"`
	Priority       int    `yaml:"priority"`
	When           string `yaml:"when"`
	Outcome        string `yaml:"outcome"` // accept, reject, prefer-local
	Reason         string `yaml:"reason"`
}

// loadResolverRules reads a YAML rule file into resolver.Rule values. An
// empty path yields no rules, so every write is accepted and CRDT merge
// semantics alone decide the outcome.
func loadResolverRules(path string) ([]resolver.Rule, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var specs []ruleSpec
	if err := yaml.Unmarshal(b, &specs); err != nil {
		return nil, fmt.Errorf("failed to parse conflict resolver rule file %s: %w", path, err)
	}

	rules := make([]resolver.Rule, 0, len(specs))
	for _, s := range specs {
		var when expr.Expr
		if s.When != "" {
			when, err = expr.Parse(s.When)
			if err != nil {
				return nil, fmt.Errorf("rule %q: %w", s.Name, err)
			}
		}
		outcome, err := outcomeFromString(s.Outcome)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", s.Name, err)
		}
		rules = append(rules, resolver.Rule{
			Name: s.Name, MapNamePattern: s.MapNamePattern, KeyGlobPattern: s.KeyGlobPattern,
			Priority: s.Priority, When: when, Outcome: outcome, Reason: s.Reason,
		})
	}
	return rules, nil
}

func outcomeFromString(s string) (resolver.Outcome, error) {
	switch s {
	case "accept":
		return resolver.OutcomeAccept, nil
	case "reject":
		return resolver.OutcomeReject, nil
	case "prefer-local":
		return resolver.OutcomePreferLocal, nil
	default:
		return 0, fmt.Errorf("unknown outcome %q: must be accept, reject, or prefer-local", s)
	}
}
