// Package analyzer extracts structural facts and a risk classification
// from SQL statement text.
package analyzer

import (
	"strings"
	"unicode"
)

// TokenType identifies the lexical class of a token.
type TokenType int

// Token types produced by the lexer. The set is deliberately narrow:
// the analyzer only needs enough structure to extract tables, columns,
// clause presence and join shapes, not a full SQL grammar.
const (
	TokenEOF TokenType = iota
	TokenIdent
	TokenString
	TokenNumber
	TokenLParen
	TokenRParen
	TokenComma
	TokenDot
	TokenSemicolon
	TokenOperator
	TokenIllegal
)

// Token is a single lexical token.
type Token struct {
	Type    TokenType
	Literal string
}

// IsKeyword reports whether the token is an identifier matching the given
// keyword, case-insensitively.
func (t Token) IsKeyword(kw string) bool {
	return t.Type == TokenIdent && strings.EqualFold(t.Literal, kw)
}

// Lexer tokenizes SQL input byte by byte.
type Lexer struct {
	input   string
	pos     int
	readPos int
	ch      byte
}

// NewLexer creates a Lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // NUL = EOF
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

// NextToken returns the next token in the input.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	var tok Token
	switch l.ch {
	case 0:
		tok = Token{Type: TokenEOF}
	case '(':
		tok = Token{Type: TokenLParen, Literal: "("}
	case ')':
		tok = Token{Type: TokenRParen, Literal: ")"}
	case ',':
		tok = Token{Type: TokenComma, Literal: ","}
	case '.':
		tok = Token{Type: TokenDot, Literal: "."}
	case ';':
		tok = Token{Type: TokenSemicolon, Literal: ";"}
	case '\'':
		return Token{Type: TokenString, Literal: l.readString('\'')}
	case '"':
		// Quoted identifier (ANSI style).
		return Token{Type: TokenIdent, Literal: l.readString('"')}
	case '`':
		// Quoted identifier (MySQL style).
		return Token{Type: TokenIdent, Literal: l.readString('`')}
	case '[':
		// Quoted identifier (SQL Server style).
		return Token{Type: TokenIdent, Literal: l.readBracketIdentifier()}
	case '=', '<', '>', '!', '+', '-', '*', '/', '%', '|', '&', '?', '@', ':':
		tok = Token{Type: TokenOperator, Literal: l.readOperator()}
		return tok
	default:
		switch {
		case isLetter(l.ch) || l.ch == '_':
			return Token{Type: TokenIdent, Literal: l.readIdentifier()}
		case isDigit(l.ch):
			return Token{Type: TokenNumber, Literal: l.readNumber()}
		default:
			tok = Token{Type: TokenIllegal, Literal: string(l.ch)}
		}
	}

	l.readChar()
	return tok
}

func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
			l.readChar()
		}

		// Line comment: -- ...
		if l.ch == '-' && l.peekChar() == '-' {
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
			continue
		}

		// Block comment: /* ... */
		if l.ch == '/' && l.peekChar() == '*' {
			l.readChar()
			l.readChar()
			for l.ch != 0 {
				if l.ch == '*' && l.peekChar() == '/' {
					l.readChar()
					l.readChar()
					break
				}
				l.readChar()
			}
			continue
		}

		break
	}
}

// readString reads a quoted literal. A doubled quote escapes a quote
// character inside the literal.
func (l *Lexer) readString(quote byte) string {
	l.readChar() // skip opening quote

	var result strings.Builder
	for l.ch != 0 {
		if l.ch == quote {
			if l.peekChar() == quote {
				result.WriteByte(quote)
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar() // skip closing quote
			break
		}
		result.WriteByte(l.ch)
		l.readChar()
	}
	return result.String()
}

func (l *Lexer) readBracketIdentifier() string {
	l.readChar() // skip '['
	start := l.pos
	for l.ch != ']' && l.ch != 0 {
		l.readChar()
	}
	ident := l.input[start:l.pos]
	if l.ch == ']' {
		l.readChar()
	}
	return ident
}

func (l *Lexer) readIdentifier() string {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' || l.ch == '$' || l.ch == '#' {
		l.readChar()
	}
	return l.input[start:l.pos]
}

func (l *Lexer) readNumber() string {
	start := l.pos
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	if l.ch == 'e' || l.ch == 'E' {
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return l.input[start:l.pos]
}

// readOperator reads a run of operator characters as one token. The analyzer
// never interprets operators; it only needs them as clause separators.
func (l *Lexer) readOperator() string {
	start := l.pos
	for isOperatorChar(l.ch) {
		l.readChar()
	}
	return l.input[start:l.pos]
}

func isOperatorChar(ch byte) bool {
	switch ch {
	case '=', '<', '>', '!', '+', '-', '*', '/', '%', '|', '&', '?', '@', ':':
		return true
	}
	return false
}

func isLetter(ch byte) bool {
	return unicode.IsLetter(rune(ch))
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

// Tokenize returns all tokens from the input, excluding the trailing EOF.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		if tok.Type == TokenEOF {
			break
		}
		tokens = append(tokens, tok)
	}
	return tokens
}
