package policy

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"sqlgate/internal/analyzer"
)

// Context carries caller-supplied request context for user_context and
// time_of_day rules.
type Context struct {
	// Attributes are arbitrary key=value pairs about the caller.
	Attributes map[string]string
	// Now is the evaluation time; the zero value means time.Now().
	Now time.Time
}

func (c *Context) now() time.Time {
	if c == nil || c.Now.IsZero() {
		return time.Now()
	}
	return c.Now
}

func (c *Context) attribute(key string) (string, bool) {
	if c == nil || c.Attributes == nil {
		return "", false
	}
	v, ok := c.Attributes[key]
	return v, ok
}

// EvaluateRule reports whether one rule's condition matches the statement.
// Unknown rule kinds never match.
func EvaluateRule(rule *Rule, text string, facts *analyzer.StructuralFacts, ctx *Context) bool {
	switch rule.Kind {
	case RuleStatementKind:
		return containsFold(rule.Values, string(facts.Kind))

	case RuleContainsTable:
		for _, v := range rule.Values {
			if facts.HasTable(v) {
				return true
			}
		}
		return false

	case RuleContainsColumn:
		for _, v := range rule.Values {
			if facts.HasColumn(v) {
				return true
			}
		}
		return false

	case RuleHasWhere:
		return facts.HasWhere == rule.Expected

	case RuleHasLimit:
		return facts.HasLimit == rule.Expected

	case RuleMatchesRegex:
		re := rule.compiled
		if re == nil {
			var err error
			re, err = regexp.Compile("(?i)" + rule.Pattern)
			if err != nil {
				return false
			}
		}
		return re.MatchString(text)

	case RuleMaxLimit:
		// Matches when the statement exceeds the ceiling: either no LIMIT at
		// all or a LIMIT above Max.
		if !facts.HasLimit || facts.LimitValue == nil {
			return true
		}
		return *facts.LimitValue > rule.Max

	case RuleUserContext:
		v, ok := ctx.attribute(rule.Key)
		if !ok {
			return false
		}
		return rule.Value == "" || strings.EqualFold(v, rule.Value)

	case RuleTimeOfDay:
		hour := ctx.now().Hour()
		if rule.FromHour <= rule.ToHour {
			return hour >= rule.FromHour && hour <= rule.ToHour
		}
		// Wrapping range, e.g. 22-6.
		return hour >= rule.FromHour || hour <= rule.ToHour

	default:
		return false
	}
}

// EvaluatePolicy applies an ordered rule list to one statement. Deny rules
// short-circuit: the first matching deny returns false with its message,
// regardless of any later allow rules. With no matching deny, the statement
// is allowed only if at least one allow rule matched; no match at all denies.
func EvaluatePolicy(rules []*Rule, text string, facts *analyzer.StructuralFacts, ctx *Context) (bool, string) {
	allowed := false
	for _, rule := range rules {
		if !EvaluateRule(rule, text, facts, ctx) {
			continue
		}
		if rule.Action == ActionDeny {
			msg := rule.Message
			if msg == "" {
				msg = "denied by " + string(rule.Kind) + " rule"
			}
			return false, msg
		}
		allowed = true
	}

	if !allowed {
		return false, "no policy rule allows this statement"
	}
	return true, ""
}

// WorkflowDefinition describes a multi-step approval workflow and when it
// applies. Empty applicability lists mean the definition applies to all
// roles or servers.
type WorkflowDefinition struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Priority int      `json:"priority"`
	Roles    []string `json:"roles,omitempty"`
	Servers  []string `json:"servers,omitempty"`
	Rule     *Rule    `json:"rule,omitempty"`
	Steps    []Step   `json:"steps"`
}

// Step is one approval step inside a workflow definition.
type Step struct {
	// ApproverType is how the approver is addressed (role, user, group).
	ApproverType string `json:"approver_type"`
	// ApproverValue names the approver.
	ApproverValue string `json:"approver_value"`
	// Required steps must be approved; optional steps are skipped.
	Required bool `json:"required"`
}

// AppliesTo reports whether the definition covers the role/server pair.
func (d *WorkflowDefinition) AppliesTo(role, server string) bool {
	return (len(d.Roles) == 0 || containsFold(d.Roles, role)) &&
		(len(d.Servers) == 0 || containsFold(d.Servers, server))
}

// SelectWorkflow returns the applicable definition with the highest priority.
// Equal priorities are broken deterministically by the lexicographically
// smallest definition ID. Returns nil when nothing applies.
func SelectWorkflow(defs []*WorkflowDefinition, role, server string) *WorkflowDefinition {
	applicable := make([]*WorkflowDefinition, 0, len(defs))
	for _, d := range defs {
		if d.AppliesTo(role, server) {
			applicable = append(applicable, d)
		}
	}
	if len(applicable) == 0 {
		return nil
	}

	sort.Slice(applicable, func(i, j int) bool {
		if applicable[i].Priority != applicable[j].Priority {
			return applicable[i].Priority > applicable[j].Priority
		}
		return applicable[i].ID < applicable[j].ID
	})

	return applicable[0]
}

func containsFold(values []string, v string) bool {
	for _, candidate := range values {
		if strings.EqualFold(candidate, v) {
			return true
		}
	}
	return false
}
