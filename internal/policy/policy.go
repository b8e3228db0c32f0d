// Package policy evaluates configurable guard rules before a purchase is
// sent to a gateway. Rules are govaluate expressions over the transaction
// (amount, currency, gateway, manual); the first matching rule, in priority
// order, decides whether the purchase proceeds.
package policy

import (
	"fmt"
	"sort"

	"github.com/Knetic/govaluate"
)

// Decision is the outcome of evaluating the rule set.
type Decision struct {
	Allow  bool
	Reason string
}

// Rule is one guard rule. Lower Priority evaluates first.
type Rule struct {
	ID         string
	Expression string
	Priority   int
	Decision   Decision
}

type compiledRule struct {
	rule Rule
	expr *govaluate.EvaluableExpression
}

// Enforcer holds the compiled rule set.
type Enforcer struct {
	rules []compiledRule
}

// NewEnforcer compiles the rules, failing fast on an invalid or empty
// expression. A nil or empty rule set allows everything.
func NewEnforcer(rules []Rule) (*Enforcer, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if r.Expression == "" {
			return nil, fmt.Errorf("policy rule %q has an empty expression", r.ID)
		}
		expr, err := govaluate.NewEvaluableExpression(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("failed to compile rule %q: %w", r.ID, err)
		}
		compiled = append(compiled, compiledRule{rule: r, expr: expr})
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].rule.Priority < compiled[j].rule.Priority
	})
	return &Enforcer{rules: compiled}, nil
}

// Input is the parameter set rules evaluate against.
type Input struct {
	Amount   float64
	Currency string
	Gateway  string
	Manual   bool
}

// Evaluate runs the rules in priority order and returns the first matching
// rule's decision. No match means the purchase is allowed.
func (e *Enforcer) Evaluate(in Input) (Decision, error) {
	params := map[string]any{
		"amount":   in.Amount,
		"currency": in.Currency,
		"gateway":  in.Gateway,
		"manual":   in.Manual,
	}

	for _, cr := range e.rules {
		result, err := cr.expr.Evaluate(params)
		if err != nil {
			return Decision{}, fmt.Errorf("evaluating rule %q: %w", cr.rule.ID, err)
		}
		matched, ok := result.(bool)
		if !ok {
			return Decision{}, fmt.Errorf("rule %q did not evaluate to a boolean", cr.rule.ID)
		}
		if matched {
			d := cr.rule.Decision
			if d.Reason == "" {
				d.Reason = cr.rule.ID
			}
			return d, nil
		}
	}
	return Decision{Allow: true}, nil
}
