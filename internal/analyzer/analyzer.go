// Package analyzer extracts structural facts from SQL statement text.
package analyzer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrParse indicates the statement text could not be tokenized at all.
// Semantically odd but tokenizable SQL never produces this error.
var ErrParse = errors.New("statement could not be parsed")

// StatementKind classifies a statement by its leading keyword.
type StatementKind string

// Statement kinds recognized by the analyzer.
const (
	StatementSelect   StatementKind = "select"
	StatementInsert   StatementKind = "insert"
	StatementUpdate   StatementKind = "update"
	StatementDelete   StatementKind = "delete"
	StatementCreate   StatementKind = "create"
	StatementDrop     StatementKind = "drop"
	StatementAlter    StatementKind = "alter"
	StatementTruncate StatementKind = "truncate"
	StatementExecute  StatementKind = "execute"
	StatementUnknown  StatementKind = "unknown"
)

// IsWrite reports whether the kind mutates data.
func (k StatementKind) IsWrite() bool {
	switch k {
	case StatementInsert, StatementUpdate, StatementDelete:
		return true
	default:
		return false
	}
}

// IsDDL reports whether the kind changes schema.
func (k StatementKind) IsDDL() bool {
	switch k {
	case StatementCreate, StatementDrop, StatementAlter, StatementTruncate:
		return true
	default:
		return false
	}
}

// Join describes one join clause: its type, target table and condition text.
type Join struct {
	Type      string `json:"type"`
	Table     string `json:"table"`
	Condition string `json:"condition"`
}

// StructuralFacts holds the structure extracted from one statement.
// Facts are derived per analysis call and never persisted independently.
type StructuralFacts struct {
	Kind        StatementKind `json:"kind"`
	Tables      []string      `json:"tables"`
	Columns     []string      `json:"columns"`
	HasWhere    bool          `json:"has_where"`
	HasLimit    bool          `json:"has_limit"`
	LimitValue  *int          `json:"limit_value,omitempty"`
	Joins       []Join        `json:"joins,omitempty"`
	GroupBy     []string      `json:"group_by,omitempty"`
	OrderBy     []string      `json:"order_by,omitempty"`
	HasHaving   bool          `json:"has_having"`
	HasSubquery bool          `json:"has_subquery"`
}

// HasTable reports whether the facts reference the named table (case-insensitive).
func (f *StructuralFacts) HasTable(name string) bool {
	for _, t := range f.Tables {
		if strings.EqualFold(t, name) {
			return true
		}
	}
	return false
}

// HasColumn reports whether the facts reference the named column (case-insensitive).
func (f *StructuralFacts) HasColumn(name string) bool {
	for _, c := range f.Columns {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// clause keywords that terminate a table or column list.
var clauseKeywords = map[string]bool{
	"where": true, "group": true, "having": true, "order": true,
	"limit": true, "offset": true, "join": true, "inner": true,
	"left": true, "right": true, "full": true, "cross": true,
	"outer": true, "on": true, "union": true, "intersect": true,
	"except": true, "set": true, "values": true, "returning": true,
	"for": true, "fetch": true, "window": true, "using": true,
}

// Analyze tokenizes the statement and extracts structural facts plus a risk
// assessment. It returns ErrParse only when the text produces no usable tokens.
func Analyze(text string) (*StructuralFacts, *RiskAssessment, error) {
	tokens := Tokenize(text)
	if len(usableTokens(tokens)) == 0 {
		return nil, nil, fmt.Errorf("%w: no tokens in %q", ErrParse, truncate(text, 60))
	}

	facts := extractFacts(tokens)
	risk := AssessRisk(text, facts)
	return facts, risk, nil
}

func usableTokens(tokens []Token) []Token {
	out := tokens[:0:0]
	for _, t := range tokens {
		if t.Type != TokenIllegal && t.Type != TokenSemicolon {
			out = append(out, t)
		}
	}
	return out
}

func extractFacts(tokens []Token) *StructuralFacts {
	facts := &StructuralFacts{
		Kind:    StatementUnknown,
		Tables:  []string{},
		Columns: []string{},
	}

	toks := usableTokens(tokens)
	if len(toks) == 0 {
		return facts
	}

	facts.Kind = classifyKind(toks)

	for i := 0; i < len(toks); i++ {
		tok := toks[i]
		if tok.Type != TokenIdent {
			// Subquery: an opening paren followed by SELECT or WITH.
			if tok.Type == TokenLParen && i+1 < len(toks) &&
				(toks[i+1].IsKeyword("select") || toks[i+1].IsKeyword("with")) {
				facts.HasSubquery = true
			}
			continue
		}

		switch strings.ToLower(tok.Literal) {
		case "from", "into":
			// DELETE FROM t, SELECT ... FROM t1, t2, INSERT INTO t.
			// TRUNCATE also reaches here via "truncate table t" handling below.
			i = collectTables(toks, i+1, facts)
		case "update":
			if facts.Kind == StatementUpdate {
				i = collectTables(toks, i+1, facts)
			}
		case "truncate":
			j := i + 1
			if j < len(toks) && toks[j].IsKeyword("table") {
				j++
			}
			i = collectTables(toks, j, facts)
		case "join":
			i = collectJoin(toks, i, facts)
		case "where":
			facts.HasWhere = true
		case "limit":
			facts.HasLimit = true
			if i+1 < len(toks) && toks[i+1].Type == TokenNumber {
				if n, err := strconv.Atoi(toks[i+1].Literal); err == nil {
					facts.LimitValue = &n
				}
			}
		case "group":
			if i+1 < len(toks) && toks[i+1].IsKeyword("by") {
				facts.GroupBy = collectExprList(toks, i+2)
			}
		case "order":
			if i+1 < len(toks) && toks[i+1].IsKeyword("by") {
				facts.OrderBy = collectExprList(toks, i+2)
			}
		case "having":
			facts.HasHaving = true
		case "set":
			if facts.Kind == StatementUpdate {
				collectAssignedColumns(toks, i+1, facts)
			}
		}
	}

	// SELECT list and INSERT column list.
	switch facts.Kind {
	case StatementSelect:
		collectSelectColumns(toks, facts)
	case StatementInsert:
		collectInsertColumns(toks, facts)
	}

	return facts
}

func classifyKind(toks []Token) StatementKind {
	lead := toks[0]
	// WITH cte AS (...) SELECT ... classifies as select.
	if lead.IsKeyword("with") {
		return StatementSelect
	}
	switch strings.ToLower(lead.Literal) {
	case "select":
		return StatementSelect
	case "insert":
		return StatementInsert
	case "update":
		return StatementUpdate
	case "delete":
		return StatementDelete
	case "create":
		return StatementCreate
	case "drop":
		return StatementDrop
	case "alter":
		return StatementAlter
	case "truncate":
		return StatementTruncate
	case "execute", "exec", "call":
		return StatementExecute
	default:
		return StatementUnknown
	}
}

// collectTables gathers comma-separated table references starting at index i.
// Returns the index of the last consumed token.
func collectTables(toks []Token, i int, facts *StructuralFacts) int {
	for i < len(toks) {
		name, next := readTableName(toks, i)
		if name == "" {
			return i - 1
		}
		addUnique(&facts.Tables, name)
		i = next

		// Skip an alias if present.
		if i < len(toks) && toks[i].IsKeyword("as") {
			i++
		}
		if i < len(toks) && toks[i].Type == TokenIdent && !clauseKeywords[strings.ToLower(toks[i].Literal)] {
			i++
		}

		if i < len(toks) && toks[i].Type == TokenComma {
			i++
			continue
		}
		break
	}
	return i - 1
}

// readTableName reads a possibly schema-qualified identifier at index i.
// Returns the joined name and the index after it.
func readTableName(toks []Token, i int) (string, int) {
	if i >= len(toks) || toks[i].Type != TokenIdent || clauseKeywords[strings.ToLower(toks[i].Literal)] {
		return "", i
	}
	parts := []string{toks[i].Literal}
	i++
	for i+1 < len(toks) && toks[i].Type == TokenDot && toks[i+1].Type == TokenIdent {
		parts = append(parts, toks[i+1].Literal)
		i += 2
	}
	return strings.Join(parts, "."), i
}

// collectJoin handles one JOIN clause at index i (the JOIN keyword itself).
func collectJoin(toks []Token, i int, facts *StructuralFacts) int {
	joinType := "INNER"
	if i > 0 && toks[i-1].Type == TokenIdent {
		switch strings.ToLower(toks[i-1].Literal) {
		case "left", "right", "full", "cross", "inner":
			joinType = strings.ToUpper(toks[i-1].Literal)
		case "outer":
			if i > 1 && toks[i-2].Type == TokenIdent {
				joinType = strings.ToUpper(toks[i-2].Literal)
			}
		}
	}

	name, next := readTableName(toks, i+1)
	if name == "" {
		return i
	}
	addUnique(&facts.Tables, name)

	j := Join{Type: joinType, Table: name}

	// Skip alias, then read the ON condition up to the next clause keyword.
	k := next
	if k < len(toks) && toks[k].IsKeyword("as") {
		k++
	}
	if k < len(toks) && toks[k].Type == TokenIdent && !clauseKeywords[strings.ToLower(toks[k].Literal)] {
		k++
	}
	if k < len(toks) && toks[k].IsKeyword("on") {
		var cond []string
		k++
		for k < len(toks) {
			t := toks[k]
			if t.Type == TokenIdent && clauseKeywords[strings.ToLower(t.Literal)] && !t.IsKeyword("on") {
				break
			}
			cond = append(cond, t.Literal)
			k++
		}
		j.Condition = strings.Join(cond, " ")
		k--
	} else {
		k = next - 1
	}

	facts.Joins = append(facts.Joins, j)
	return k
}

// collectExprList gathers comma-separated identifiers (GROUP BY / ORDER BY).
func collectExprList(toks []Token, i int) []string {
	var items []string
	for i < len(toks) {
		name, next := readTableName(toks, i)
		if name == "" {
			break
		}
		items = append(items, name)
		i = next
		// ASC/DESC and NULLS FIRST/LAST modifiers.
		for i < len(toks) && toks[i].Type == TokenIdent {
			switch strings.ToLower(toks[i].Literal) {
			case "asc", "desc", "nulls", "first", "last":
				i++
				continue
			}
			break
		}
		if i < len(toks) && toks[i].Type == TokenComma {
			i++
			continue
		}
		break
	}
	return items
}

// collectSelectColumns gathers the column list between SELECT and FROM.
func collectSelectColumns(toks []Token, facts *StructuralFacts) {
	start := -1
	for i, t := range toks {
		if t.IsKeyword("select") {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return
	}

	depth := 0
	for i := start; i < len(toks); i++ {
		t := toks[i]
		switch t.Type {
		case TokenLParen:
			depth++
		case TokenRParen:
			depth--
		case TokenOperator:
			if t.Literal == "*" && depth == 0 {
				addUnique(&facts.Columns, "*")
			}
		case TokenIdent:
			if depth > 0 {
				continue
			}
			if t.IsKeyword("from") {
				return
			}
			if t.IsKeyword("distinct") || t.IsKeyword("all") || t.IsKeyword("as") {
				continue
			}
			// Function call: ident immediately followed by '('.
			if i+1 < len(toks) && toks[i+1].Type == TokenLParen {
				continue
			}
			name, next := readTableName(toks, i)
			if name != "" {
				// t.col -> col; bare idents kept as-is.
				if idx := strings.LastIndex(name, "."); idx >= 0 {
					name = name[idx+1:]
				}
				addUnique(&facts.Columns, name)
				i = next - 1
			}
		}
	}
}

// collectInsertColumns gathers the parenthesized column list after the table
// in INSERT INTO t (a, b, c) VALUES ...
func collectInsertColumns(toks []Token, facts *StructuralFacts) {
	for i := 0; i < len(toks); i++ {
		if !toks[i].IsKeyword("into") {
			continue
		}
		_, next := readTableName(toks, i+1)
		if next < len(toks) && toks[next].Type == TokenLParen {
			for j := next + 1; j < len(toks); j++ {
				switch toks[j].Type {
				case TokenRParen:
					return
				case TokenIdent:
					addUnique(&facts.Columns, toks[j].Literal)
				}
			}
		}
		return
	}
}

// collectAssignedColumns gathers assignment targets after SET in UPDATE.
func collectAssignedColumns(toks []Token, i int, facts *StructuralFacts) {
	for i < len(toks) {
		if toks[i].Type != TokenIdent || clauseKeywords[strings.ToLower(toks[i].Literal)] {
			return
		}
		name, next := readTableName(toks, i)
		if idx := strings.LastIndex(name, "."); idx >= 0 {
			name = name[idx+1:]
		}
		addUnique(&facts.Columns, name)

		// Skip '=' and the assigned expression up to the next top-level comma.
		depth := 0
		i = next
		for i < len(toks) {
			switch toks[i].Type {
			case TokenLParen:
				depth++
			case TokenRParen:
				depth--
			case TokenComma:
				if depth == 0 {
					i++
					goto nextAssignment
				}
			case TokenIdent:
				if depth == 0 && clauseKeywords[strings.ToLower(toks[i].Literal)] {
					return
				}
			}
			i++
		}
	nextAssignment:
	}
}

func addUnique(list *[]string, v string) {
	for _, existing := range *list {
		if strings.EqualFold(existing, v) {
			return
		}
	}
	*list = append(*list, v)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
