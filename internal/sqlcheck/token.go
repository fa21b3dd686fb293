package sqlcheck

import (
	"strings"
)

// TokenKind classifies lexer output. Keywords stay KindIdent; the parser
// decides keyword-ness so quoted identifiers keep working.
type TokenKind int

const (
	KindIdent TokenKind = iota
	KindNumber
	KindString
	KindOperator
	KindPunct
)

type Token struct {
	Kind TokenKind
	Text string
	// Pos is the byte offset of the token start in the original input.
	Pos int
	// Quoted marks identifiers that were written as "x", `x` or [x].
	Quoted bool
}

// IsKeyword reports whether the token is an unquoted identifier equal to the
// given keyword (case-insensitive).
func (t Token) IsKeyword(kw string) bool {
	return t.Kind == KindIdent && !t.Quoted && strings.EqualFold(t.Text, kw)
}

func (t Token) isPunct(s string) bool {
	return t.Kind == KindPunct && t.Text == s
}

// StripComments removes -- line comments and /* */ block comments while
// leaving string literals untouched. Byte offsets of surviving text shift,
// so diagnostics always refer to the stripped form.
func StripComments(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))
	for i := 0; i < len(sql); {
		ch := sql[i]
		switch {
		case ch == '\'':
			j := i + 1
			for j < len(sql) {
				if sql[j] == '\'' {
					if j+1 < len(sql) && sql[j+1] == '\'' {
						j += 2
						continue
					}
					j++
					break
				}
				j++
			}
			b.WriteString(sql[i:j])
			i = j
		case ch == '-' && i+1 < len(sql) && sql[i+1] == '-':
			j := i + 2
			for j < len(sql) && sql[j] != '\n' {
				j++
			}
			i = j
		case ch == '/' && i+1 < len(sql) && sql[i+1] == '*':
			j := i + 2
			for j+1 < len(sql) && !(sql[j] == '*' && sql[j+1] == '/') {
				j++
			}
			if j+1 < len(sql) {
				j += 2
			} else {
				j = len(sql)
			}
			// A block comment can glue two tokens together; keep a space.
			b.WriteByte(' ')
			i = j
		default:
			b.WriteByte(ch)
			i++
		}
	}
	return b.String()
}

var multiCharOps = []string{"<>", "!=", ">=", "<=", "||"}

// Tokenize splits SQL text into tokens. Lexical problems (unterminated
// string or quoted identifier) are reported as diagnostics; tokenization
// still returns everything scanned so far.
func Tokenize(sql string) ([]Token, []Diagnostic) {
	var tokens []Token
	var diags []Diagnostic

	i := 0
	for i < len(sql) {
		ch := sql[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++

		case ch == '\'':
			start := i
			j := i + 1
			closed := false
			for j < len(sql) {
				if sql[j] == '\'' {
					if j+1 < len(sql) && sql[j+1] == '\'' {
						j += 2
						continue
					}
					closed = true
					j++
					break
				}
				j++
			}
			if !closed {
				diags = append(diags, Diagnostic{Message: "unterminated string literal", Fragment: sql[start:], Pos: start})
			}
			tokens = append(tokens, Token{Kind: KindString, Text: sql[start:j], Pos: start})
			i = j

		case ch == '"' || ch == '`':
			start := i
			quote := ch
			j := i + 1
			closed := false
			for j < len(sql) {
				if sql[j] == quote {
					closed = true
					j++
					break
				}
				j++
			}
			if !closed {
				diags = append(diags, Diagnostic{Message: "unterminated quoted identifier", Fragment: sql[start:], Pos: start})
			}
			text := sql[start:j]
			text = strings.Trim(text, string(quote))
			tokens = append(tokens, Token{Kind: KindIdent, Text: text, Pos: start, Quoted: true})
			i = j

		case ch >= '0' && ch <= '9':
			start := i
			j := i
			for j < len(sql) && (sql[j] >= '0' && sql[j] <= '9' || sql[j] == '.') {
				j++
			}
			tokens = append(tokens, Token{Kind: KindNumber, Text: sql[start:j], Pos: start})
			i = j

		case isIdentStart(ch):
			start := i
			j := i
			for j < len(sql) && isIdentPart(sql[j]) {
				j++
			}
			tokens = append(tokens, Token{Kind: KindIdent, Text: sql[start:j], Pos: start})
			i = j

		case ch == '(' || ch == ')' || ch == ',' || ch == ';' || ch == '.':
			tokens = append(tokens, Token{Kind: KindPunct, Text: string(ch), Pos: i})
			i++

		default:
			matched := false
			for _, op := range multiCharOps {
				if strings.HasPrefix(sql[i:], op) {
					tokens = append(tokens, Token{Kind: KindOperator, Text: op, Pos: i})
					i += len(op)
					matched = true
					break
				}
			}
			if matched {
				continue
			}
			if strings.ContainsRune("=<>+-*/%", rune(ch)) {
				tokens = append(tokens, Token{Kind: KindOperator, Text: string(ch), Pos: i})
				i++
				continue
			}
			diags = append(diags, Diagnostic{Message: "unexpected character " + string(ch), Fragment: string(ch), Pos: i})
			i++
		}
	}
	return tokens, diags
}

func isIdentStart(ch byte) bool {
	return ch == '_' || ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z'
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || ch >= '0' && ch <= '9' || ch == '$'
}
