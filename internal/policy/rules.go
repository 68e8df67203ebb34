// Package policy evaluates governance rules against analyzed statements.
package policy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// RuleKind identifies what a rule inspects.
type RuleKind string

// Rule kinds. Unknown kinds always evaluate to no-match, which combined with
// the allow-required policy semantics keeps the evaluator fail-closed.
const (
	RuleStatementKind  RuleKind = "statement_kind"
	RuleContainsTable  RuleKind = "contains_table"
	RuleContainsColumn RuleKind = "contains_column"
	RuleHasWhere       RuleKind = "has_where_clause"
	RuleHasLimit       RuleKind = "has_limit_clause"
	RuleMatchesRegex   RuleKind = "matches_regex"
	RuleMaxLimit       RuleKind = "max_limit"
	RuleUserContext    RuleKind = "user_context"
	RuleTimeOfDay      RuleKind = "time_of_day"
)

// RuleAction is what a matching rule contributes to the policy decision.
type RuleAction string

// Rule actions.
const (
	ActionAllow RuleAction = "allow"
	ActionDeny  RuleAction = "deny"
)

// Rule is a validated, typed rule condition. Exactly the payload fields for
// its Kind are meaningful; Validate enforces that at definition time instead
// of parsing free-text conditions at evaluation time.
type Rule struct {
	// Kind selects the check to perform.
	Kind RuleKind `json:"kind"`
	// Action is allow or deny.
	Action RuleAction `json:"action"`
	// Message is surfaced verbatim when a deny rule matches.
	Message string `json:"message,omitempty"`

	// Values holds the membership list for statement_kind, contains_table
	// and contains_column rules.
	Values []string `json:"values,omitempty"`
	// Expected holds the boolean for has_where_clause / has_limit_clause.
	Expected bool `json:"expected,omitempty"`
	// Pattern holds the regex for matches_regex.
	Pattern string `json:"pattern,omitempty"`
	// Max holds the ceiling for max_limit.
	Max int `json:"max,omitempty"`
	// Key and Value hold the key=value check for user_context.
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`
	// FromHour and ToHour hold the inclusive hour range for time_of_day.
	FromHour int `json:"from_hour,omitempty"`
	ToHour   int `json:"to_hour,omitempty"`

	compiled *regexp.Regexp
}

// Validation errors.
var (
	ErrUnknownRuleKind = errors.New("unknown rule kind")
	ErrInvalidRule     = errors.New("invalid rule")
)

// Validate checks the rule's payload and compiles its pattern if any.
// Rules must be validated once at definition-creation time; Evaluate assumes
// a validated rule.
func (r *Rule) Validate() error {
	if r.Action != ActionAllow && r.Action != ActionDeny {
		return fmt.Errorf("%w: action %q", ErrInvalidRule, r.Action)
	}

	switch r.Kind {
	case RuleStatementKind, RuleContainsTable, RuleContainsColumn:
		if len(r.Values) == 0 {
			return fmt.Errorf("%w: %s requires values", ErrInvalidRule, r.Kind)
		}
	case RuleHasWhere, RuleHasLimit:
		// Expected defaults to false; nothing further to check.
	case RuleMatchesRegex:
		if r.Pattern == "" {
			return fmt.Errorf("%w: matches_regex requires a pattern", ErrInvalidRule)
		}
		compiled, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return fmt.Errorf("%w: bad pattern %q: %v", ErrInvalidRule, r.Pattern, err)
		}
		r.compiled = compiled
	case RuleMaxLimit:
		if r.Max <= 0 {
			return fmt.Errorf("%w: max_limit requires a positive ceiling", ErrInvalidRule)
		}
	case RuleUserContext:
		if r.Key == "" {
			return fmt.Errorf("%w: user_context requires a key", ErrInvalidRule)
		}
	case RuleTimeOfDay:
		if r.FromHour < 0 || r.FromHour > 23 || r.ToHour < 0 || r.ToHour > 23 {
			return fmt.Errorf("%w: time_of_day hours must be 0-23", ErrInvalidRule)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRuleKind, r.Kind)
	}

	return nil
}

// ParseValues splits a comma list into trimmed, lowercased values. Used when
// loading rule definitions from config or storage.
func ParseValues(list string) []string {
	parts := strings.Split(list, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			values = append(values, p)
		}
	}
	return values
}
