// Package expr realizes collab.ExpressionEvaluator (§4.F) as an ordered
// rule table -- condition expression plus typed result -- evaluated against
// the Variable Resolver, the same table-driven shape the rest of this tree
// uses for command/stage lookups (proto.verbTable, sieve.RuleRuntime),
// standing in for the out-of-scope expression language named in §6.
package expr

import (
	"context"
	"strings"

	"github.com/relaydog/mtasession/daemon/smtpd/collab"
)

// Condition tests whether a rule fires against the current variable
// resolver: Variable's value must contain Substring (case-insensitively).
// An empty Substring always matches, letting a rule act as a catch-all
// default at the end of its table.
type Condition struct {
	Variable  collab.Variable
	Substring string
}

func (c Condition) matches(vars collab.VariableResolver) bool {
	if c.Substring == "" {
		return true
	}
	return strings.Contains(strings.ToLower(vars.Resolve(c.Variable)), strings.ToLower(c.Substring))
}

// StringRule resolves RuleName to Value the first time Condition matches.
type StringRule struct {
	RuleName  string
	Condition Condition
	Value     string
}

// BoolRule resolves RuleName to Value the first time Condition matches.
type BoolRule struct {
	RuleName  string
	Condition Condition
	Value     bool
}

// Table is an ordered collection of string- and bool-valued rules,
// implementing collab.ExpressionEvaluator.
type Table struct {
	StringRules []StringRule
	BoolRules   []BoolRule
}

// EvalIfString implements collab.ExpressionEvaluator.
func (t *Table) EvalIfString(ctx context.Context, rule string, vars collab.VariableResolver, sessionID string) (string, bool) {
	for _, r := range t.StringRules {
		if r.RuleName != rule {
			continue
		}
		if r.Condition.matches(vars) {
			return r.Value, true
		}
	}
	return "", false
}

// EvalIfBool implements collab.ExpressionEvaluator.
func (t *Table) EvalIfBool(ctx context.Context, rule string, vars collab.VariableResolver, sessionID string) (bool, bool) {
	for _, r := range t.BoolRules {
		if r.RuleName != rule {
			continue
		}
		if r.Condition.matches(vars) {
			return r.Value, true
		}
	}
	return false, false
}

var _ collab.ExpressionEvaluator = (*Table)(nil)
