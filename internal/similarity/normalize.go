// Package similarity normalizes SQL statements and fuzzy-matches them
// against whitelist and history candidates.
package similarity

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"sqlgate/internal/analyzer"
)

// Level controls how much literal and structural detail normalization strips.
type Level string

// Normalization levels.
const (
	// LevelBasic strips comments and collapses whitespace.
	LevelBasic Level = "basic"
	// LevelMedium additionally replaces literals with placeholders,
	// collapses IN/BETWEEN bodies and generalizes simple aliases.
	// This is the default level.
	LevelMedium Level = "medium"
	// LevelHigh reduces the statement to its structural shape only.
	LevelHigh Level = "high"
)

// Valid returns true if the level is a known normalization level.
func (l Level) Valid() bool {
	switch l {
	case LevelBasic, LevelMedium, LevelHigh:
		return true
	default:
		return false
	}
}

// DefaultLevel is the level used when callers do not specify one.
const DefaultLevel = LevelMedium

var (
	lineCommentPattern  = regexp.MustCompile(`--[^\n]*`)
	blockCommentPattern = regexp.MustCompile(`(?s)/\*.*?\*/`)
	whitespacePattern   = regexp.MustCompile(`\s+`)

	stringLiteralPattern = regexp.MustCompile(`'(?:[^']|'')*'`)
	numberLiteralPattern = regexp.MustCompile(`\b\d+(?:\.\d+)?(?:[eE][+-]?\d+)?\b`)
	dateLiteralPattern   = regexp.MustCompile(`\{\s*(?:d|t|ts)\s*'[^']*'\s*\}`)

	inBodyPattern      = regexp.MustCompile(`(?i)\bIN\s*\(\s*(?:\?\s*,\s*)*\?\s*\)`)
	betweenPattern     = regexp.MustCompile(`(?i)\bBETWEEN\s+\?\s+AND\s+\?`)
	simpleAliasPattern = regexp.MustCompile(`(?i)\bAS\s+[a-z_][a-z0-9_]*`)
)

// Normalize returns the statement text normalized at the given level.
// Normalization is deterministic: the same text at the same level always
// yields the same output.
func Normalize(text string, level Level) string {
	out := blockCommentPattern.ReplaceAllString(text, " ")
	out = lineCommentPattern.ReplaceAllString(out, " ")
	out = whitespacePattern.ReplaceAllString(out, " ")
	out = strings.TrimSpace(out)

	if level == LevelBasic {
		return out
	}

	if level == LevelHigh {
		return structuralShape(out)
	}

	// Medium: literals become placeholders before IN/BETWEEN collapse so
	// their bodies are uniform runs of '?'.
	out = dateLiteralPattern.ReplaceAllString(out, "?")
	out = stringLiteralPattern.ReplaceAllString(out, "?")
	out = numberLiteralPattern.ReplaceAllString(out, "?")
	out = inBodyPattern.ReplaceAllString(out, "IN (?)")
	out = betweenPattern.ReplaceAllString(out, "BETWEEN ? AND ?")
	out = simpleAliasPattern.ReplaceAllString(out, "AS ?")
	out = whitespacePattern.ReplaceAllString(out, " ")
	return strings.ToLower(strings.TrimSpace(out))
}

// structuralShape reduces a statement to a token sequence describing only its
// kind, table/column presence, joins, filters and ordering/grouping/limiting.
func structuralShape(text string) string {
	facts, _, err := analyzer.Analyze(text)
	if err != nil {
		return ""
	}

	parts := []string{string(facts.Kind)}
	if len(facts.Tables) > 0 {
		parts = append(parts, "tables")
	}
	if len(facts.Columns) > 0 {
		parts = append(parts, "columns")
	}
	for range facts.Joins {
		parts = append(parts, "join")
	}
	if facts.HasSubquery {
		parts = append(parts, "subquery")
	}
	if facts.HasWhere {
		parts = append(parts, "where")
	}
	if len(facts.GroupBy) > 0 {
		parts = append(parts, "group")
	}
	if facts.HasHaving {
		parts = append(parts, "having")
	}
	if len(facts.OrderBy) > 0 {
		parts = append(parts, "order")
	}
	if facts.HasLimit {
		parts = append(parts, "limit")
	}
	return strings.Join(parts, " ")
}

// Fingerprint computes the stable content hash of the normalized statement.
// Identical text at the same level always produces the same fingerprint; it
// is the identity key for whitelist and history lookups.
func Fingerprint(text string, level Level) string {
	sum := sha256.Sum256([]byte(Normalize(text, level)))
	return hex.EncodeToString(sum[:])
}
