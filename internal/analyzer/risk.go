package analyzer

import (
	"fmt"
	"regexp"
	"strings"
)

// RiskLevel classifies a statement as low, medium or high risk.
type RiskLevel string

// Risk levels, lowest to highest.
const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Valid returns true if the level is a known risk level.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	default:
		return false
	}
}

// AtLeast reports whether the level is at or above the given floor.
func (r RiskLevel) AtLeast(floor RiskLevel) bool {
	return riskOrder(r) >= riskOrder(floor)
}

func riskOrder(r RiskLevel) int {
	switch r {
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	default:
		return 1
	}
}

// RiskAssessment is the risk classification attached to an analyzed statement.
type RiskAssessment struct {
	Level   RiskLevel `json:"level"`
	Reasons []string  `json:"reasons"`
}

// System and stored procedure prefixes that force review.
var procedurePattern = regexp.MustCompile(`(?i)\b(?:exec|execute|call)\b|\b(?:sp_|xp_)\w+`)

// AssessRisk applies the risk rules in order against the statement text and
// its structural facts. The rules are cumulative: every matching rule appends
// a reason, and any matched rule forces the level to high. Statements with no
// flags are medium when they write data, change schema or invoke procedures,
// and low otherwise. The ordering and the any-flag-means-high rule are relied
// on by the authorization pipeline and must not change.
func AssessRisk(text string, facts *StructuralFacts) *RiskAssessment {
	assessment := &RiskAssessment{Reasons: []string{}}

	// Rule 1: schema-changing statements.
	if facts.Kind.IsDDL() {
		assessment.Reasons = append(assessment.Reasons,
			fmt.Sprintf("%s statement changes schema", strings.ToUpper(string(facts.Kind))))
	}

	// Rule 2: destructive writes without a filter.
	if (facts.Kind == StatementDelete || facts.Kind == StatementUpdate) && !facts.HasWhere {
		assessment.Reasons = append(assessment.Reasons,
			fmt.Sprintf("%s without WHERE clause affects all rows", strings.ToUpper(string(facts.Kind))))
	}

	// Rule 3: stored or system procedure invocation.
	if facts.Kind == StatementExecute || procedurePattern.MatchString(text) {
		assessment.Reasons = append(assessment.Reasons, "stored procedure invocation")
	}

	// Rule 4: raw quote or embedded semicolon characters (possible injection).
	if containsRawQuoteOrSemicolon(text) {
		assessment.Reasons = append(assessment.Reasons,
			"raw quote or semicolon characters (possible injection)")
	}

	switch {
	case len(assessment.Reasons) > 0:
		assessment.Level = RiskHigh
	case facts.Kind.IsWrite() || facts.Kind.IsDDL() || facts.Kind == StatementExecute:
		assessment.Level = RiskMedium
	default:
		assessment.Level = RiskLow
	}

	return assessment
}

// containsRawQuoteOrSemicolon flags single quotes and semicolons in the raw
// text. A single trailing statement terminator is not counted.
func containsRawQuoteOrSemicolon(text string) bool {
	trimmed := strings.TrimRight(strings.TrimSpace(text), ";")
	return strings.ContainsAny(trimmed, "';")
}
