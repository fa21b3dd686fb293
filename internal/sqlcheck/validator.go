package sqlcheck

import (
	"fmt"
	"strings"
)

// Diagnostic is one syntax problem: a message plus the offending fragment
// and its byte position in the comment-stripped SQL text.
type Diagnostic struct {
	Message  string `json:"message"`
	Fragment string `json:"fragment,omitempty"`
	Pos      int    `json:"pos"`
}

func (d Diagnostic) String() string {
	if d.Fragment == "" {
		return d.Message
	}
	return fmt.Sprintf("%s near %q", d.Message, d.Fragment)
}

type Result struct {
	Valid       bool         `json:"valid"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// Validate syntax-checks a single SELECT statement, optionally prefixed by
// a WITH clause. It performs no existence or safety checks; those belong to
// the sandbox.
func Validate(sql string) Result {
	stripped := StripComments(sql)
	tokens, diags := Tokenize(stripped)
	if len(diags) > 0 {
		return Result{Valid: false, Diagnostics: diags}
	}
	if len(tokens) == 0 {
		return Result{Valid: false, Diagnostics: []Diagnostic{{Message: "empty statement"}}}
	}

	p := &parser{tokens: tokens}
	if err := p.parseStatement(); err != nil {
		return Result{Valid: false, Diagnostics: append(diags, p.diag)}
	}
	return Result{Valid: true}
}

// clauseKeywords stop alias consumption: an unquoted identifier from this set
// never acts as a column/table alias.
var clauseKeywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "GROUP": true, "HAVING": true,
	"ORDER": true, "LIMIT": true, "OFFSET": true, "BY": true,
	"JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true, "FULL": true,
	"CROSS": true, "OUTER": true, "ON": true, "USING": true,
	"AND": true, "OR": true, "NOT": true, "AS": true, "IN": true, "IS": true,
	"NULL": true, "LIKE": true, "BETWEEN": true, "EXISTS": true,
	"CASE": true, "WHEN": true, "THEN": true, "ELSE": true, "END": true,
	"DISTINCT": true, "ALL": true, "UNION": true, "ASC": true, "DESC": true,
	"WITH": true,
}

// IsClauseKeyword reports whether the token is an unquoted reserved word.
// Quoted identifiers are never reserved.
func IsClauseKeyword(t Token) bool {
	return t.Kind == KindIdent && !t.Quoted && clauseKeywords[strings.ToUpper(t.Text)]
}

type parser struct {
	tokens []Token
	pos    int
	diag   Diagnostic
}

var errSyntax = fmt.Errorf("syntax error")

func (p *parser) fail(msg string) error {
	frag := ""
	pos := 0
	if p.pos < len(p.tokens) {
		frag = p.tokens[p.pos].Text
		pos = p.tokens[p.pos].Pos
	} else if len(p.tokens) > 0 {
		last := p.tokens[len(p.tokens)-1]
		pos = last.Pos + len(last.Text)
	}
	// Keep the first failure only; later ones would be cascades.
	if p.diag.Message == "" {
		p.diag = Diagnostic{Message: msg, Fragment: frag, Pos: pos}
	}
	return errSyntax
}

func (p *parser) peek() (Token, bool) {
	if p.pos >= len(p.tokens) {
		return Token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *parser) next() (Token, bool) {
	t, ok := p.peek()
	if ok {
		p.pos++
	}
	return t, ok
}

func (p *parser) acceptKeyword(kw string) bool {
	if t, ok := p.peek(); ok && t.IsKeyword(kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) acceptPunct(s string) bool {
	if t, ok := p.peek(); ok && t.isPunct(s) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectKeyword(kw string) error {
	if !p.acceptKeyword(kw) {
		return p.fail("expected " + kw)
	}
	return nil
}

func (p *parser) expectPunct(s string) error {
	if !p.acceptPunct(s) {
		return p.fail("expected " + s)
	}
	return nil
}

// parseStatement = [WITH cteList] selectStmt (UNION [ALL] selectStmt)* [';'] EOF
func (p *parser) parseStatement() error {
	if t, ok := p.peek(); ok && !t.IsKeyword("SELECT") && !t.IsKeyword("WITH") {
		return p.fail("statement must start with SELECT")
	}
	if p.acceptKeyword("WITH") {
		if err := p.parseWith(); err != nil {
			return err
		}
	}
	if err := p.parseSelect(); err != nil {
		return err
	}
	for p.acceptKeyword("UNION") {
		p.acceptKeyword("ALL")
		if err := p.parseSelect(); err != nil {
			return err
		}
	}
	p.acceptPunct(";")
	if t, ok := p.peek(); ok {
		if t.isPunct(";") || t.IsKeyword("SELECT") || t.IsKeyword("WITH") {
			return p.fail("multiple statements")
		}
		return p.fail("unexpected trailing input")
	}
	return nil
}

// parseWith = cte (',' cte)*
// cte       = ident ['(' ident (',' ident)* ')'] AS '(' selectStmt ')'
func (p *parser) parseWith() error {
	for {
		if t, ok := p.next(); !ok || t.Kind != KindIdent || IsClauseKeyword(t) {
			p.pos--
			return p.fail("expected CTE name after WITH")
		}
		if p.acceptPunct("(") {
			for {
				if t, ok := p.next(); !ok || t.Kind != KindIdent {
					return p.fail("expected column name in CTE column list")
				}
				if p.acceptPunct(")") {
					break
				}
				if err := p.expectPunct(","); err != nil {
					return err
				}
			}
		}
		if err := p.expectKeyword("AS"); err != nil {
			return err
		}
		if err := p.expectPunct("("); err != nil {
			return err
		}
		if err := p.parseSelect(); err != nil {
			return err
		}
		for p.acceptKeyword("UNION") {
			p.acceptKeyword("ALL")
			if err := p.parseSelect(); err != nil {
				return err
			}
		}
		if err := p.expectPunct(")"); err != nil {
			return err
		}
		if !p.acceptPunct(",") {
			return nil
		}
	}
}

func (p *parser) parseSelect() error {
	if err := p.expectKeyword("SELECT"); err != nil {
		return err
	}
	if !p.acceptKeyword("DISTINCT") {
		p.acceptKeyword("ALL")
	}
	if err := p.parseSelectList(); err != nil {
		return err
	}
	if p.acceptKeyword("FROM") {
		if err := p.parseTableRefs(); err != nil {
			return err
		}
	}
	if p.acceptKeyword("WHERE") {
		if err := p.parseExpr(); err != nil {
			return err
		}
	}
	if p.acceptKeyword("GROUP") {
		if err := p.expectKeyword("BY"); err != nil {
			return err
		}
		if err := p.parseExprList(); err != nil {
			return err
		}
	}
	if p.acceptKeyword("HAVING") {
		if err := p.parseExpr(); err != nil {
			return err
		}
	}
	if p.acceptKeyword("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return err
		}
		if err := p.parseOrderList(); err != nil {
			return err
		}
	}
	if p.acceptKeyword("LIMIT") {
		if err := p.parseLimit(); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) parseSelectList() error {
	for {
		if err := p.parseSelectItem(); err != nil {
			return err
		}
		if !p.acceptPunct(",") {
			return nil
		}
	}
}

func (p *parser) parseSelectItem() error {
	if t, ok := p.peek(); ok && t.Kind == KindOperator && t.Text == "*" {
		p.pos++
		return nil
	}
	if err := p.parseExpr(); err != nil {
		return err
	}
	// Optional alias: AS ident, or a bare non-keyword identifier.
	if p.acceptKeyword("AS") {
		if t, ok := p.next(); !ok || t.Kind != KindIdent {
			return p.fail("expected alias after AS")
		}
		return nil
	}
	if t, ok := p.peek(); ok && t.Kind == KindIdent && !IsClauseKeyword(t) {
		p.pos++
	}
	return nil
}

func (p *parser) parseTableRefs() error {
	for {
		if err := p.parseTableRef(); err != nil {
			return err
		}
		if !p.acceptPunct(",") {
			return nil
		}
	}
}

func (p *parser) parseTableRef() error {
	if err := p.parseTablePrimary(); err != nil {
		return err
	}
	for {
		joined := false
		switch {
		case p.acceptKeyword("JOIN"):
			joined = true
		case p.acceptKeyword("INNER"):
			if err := p.expectKeyword("JOIN"); err != nil {
				return err
			}
			joined = true
		case p.acceptKeyword("CROSS"):
			if err := p.expectKeyword("JOIN"); err != nil {
				return err
			}
			if err := p.parseTablePrimary(); err != nil {
				return err
			}
			continue
		case p.acceptKeyword("LEFT"), p.acceptKeyword("RIGHT"), p.acceptKeyword("FULL"):
			p.acceptKeyword("OUTER")
			if err := p.expectKeyword("JOIN"); err != nil {
				return err
			}
			joined = true
		}
		if !joined {
			return nil
		}
		if err := p.parseTablePrimary(); err != nil {
			return err
		}
		if err := p.expectKeyword("ON"); err != nil {
			return err
		}
		if err := p.parseExpr(); err != nil {
			return err
		}
	}
}

func (p *parser) parseTablePrimary() error {
	if p.acceptPunct("(") {
		if err := p.parseSelect(); err != nil {
			return err
		}
		if err := p.expectPunct(")"); err != nil {
			return err
		}
		p.acceptKeyword("AS")
		if t, ok := p.peek(); ok && t.Kind == KindIdent && !IsClauseKeyword(t) {
			p.pos++
		}
		return nil
	}
	t, ok := p.next()
	if !ok || t.Kind != KindIdent || IsClauseKeyword(t) {
		p.pos--
		return p.fail("expected table name")
	}
	if p.acceptPunct(".") {
		if t, ok := p.next(); !ok || t.Kind != KindIdent {
			return p.fail("expected identifier after .")
		}
	}
	if p.acceptKeyword("AS") {
		if t, ok := p.next(); !ok || t.Kind != KindIdent {
			return p.fail("expected table alias after AS")
		}
		return nil
	}
	if t, ok := p.peek(); ok && t.Kind == KindIdent && !IsClauseKeyword(t) {
		p.pos++
	}
	return nil
}

func (p *parser) parseOrderList() error {
	for {
		if err := p.parseExpr(); err != nil {
			return err
		}
		if !p.acceptKeyword("ASC") {
			p.acceptKeyword("DESC")
		}
		if !p.acceptPunct(",") {
			return nil
		}
	}
}

// parseLimit = number [OFFSET number | ',' number]
func (p *parser) parseLimit() error {
	t, ok := p.next()
	if !ok || t.Kind != KindNumber {
		p.pos--
		return p.fail("expected row count after LIMIT")
	}
	if p.acceptKeyword("OFFSET") || p.acceptPunct(",") {
		if t, ok := p.next(); !ok || t.Kind != KindNumber {
			p.pos--
			return p.fail("expected offset value")
		}
	}
	return nil
}

func (p *parser) parseExprList() error {
	for {
		if err := p.parseExpr(); err != nil {
			return err
		}
		if !p.acceptPunct(",") {
			return nil
		}
	}
}

// --- expression grammar, loosest binding first ---

func (p *parser) parseExpr() error {
	return p.parseOr()
}

func (p *parser) parseOr() error {
	if err := p.parseAnd(); err != nil {
		return err
	}
	for p.acceptKeyword("OR") {
		if err := p.parseAnd(); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) parseAnd() error {
	if err := p.parseNot(); err != nil {
		return err
	}
	for p.acceptKeyword("AND") {
		if err := p.parseNot(); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) parseNot() error {
	for p.acceptKeyword("NOT") {
	}
	return p.parsePredicate()
}

func (p *parser) parsePredicate() error {
	if err := p.parseAdditive(); err != nil {
		return err
	}
	if t, ok := p.peek(); ok && t.Kind == KindOperator && isComparison(t.Text) {
		p.pos++
		return p.parseAdditive()
	}
	if p.acceptKeyword("IS") {
		p.acceptKeyword("NOT")
		return p.expectKeyword("NULL")
	}
	negated := p.acceptKeyword("NOT")
	switch {
	case p.acceptKeyword("IN"):
		if err := p.expectPunct("("); err != nil {
			return err
		}
		if t, ok := p.peek(); ok && t.IsKeyword("SELECT") {
			if err := p.parseSelect(); err != nil {
				return err
			}
		} else if err := p.parseExprList(); err != nil {
			return err
		}
		return p.expectPunct(")")
	case p.acceptKeyword("LIKE"):
		return p.parseAdditive()
	case p.acceptKeyword("BETWEEN"):
		if err := p.parseAdditive(); err != nil {
			return err
		}
		if err := p.expectKeyword("AND"); err != nil {
			return err
		}
		return p.parseAdditive()
	}
	if negated {
		return p.fail("expected IN, LIKE or BETWEEN after NOT")
	}
	return nil
}

func isComparison(op string) bool {
	switch op {
	case "=", "<>", "!=", "<", ">", "<=", ">=":
		return true
	default:
		return false
	}
}

func (p *parser) parseAdditive() error {
	if err := p.parseMultiplicative(); err != nil {
		return err
	}
	for {
		if t, ok := p.peek(); ok && t.Kind == KindOperator && (t.Text == "+" || t.Text == "-" || t.Text == "||") {
			p.pos++
			if err := p.parseMultiplicative(); err != nil {
				return err
			}
			continue
		}
		return nil
	}
}

func (p *parser) parseMultiplicative() error {
	if err := p.parseUnary(); err != nil {
		return err
	}
	for {
		if t, ok := p.peek(); ok && t.Kind == KindOperator && (t.Text == "*" || t.Text == "/" || t.Text == "%") {
			p.pos++
			if err := p.parseUnary(); err != nil {
				return err
			}
			continue
		}
		return nil
	}
}

func (p *parser) parseUnary() error {
	if t, ok := p.peek(); ok && t.Kind == KindOperator && (t.Text == "-" || t.Text == "+") {
		p.pos++
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() error {
	t, ok := p.peek()
	if !ok {
		return p.fail("unexpected end of statement")
	}
	switch {
	case t.Kind == KindNumber || t.Kind == KindString:
		p.pos++
		return nil
	case t.IsKeyword("NULL"):
		p.pos++
		return nil
	case t.IsKeyword("CASE"):
		return p.parseCase()
	case t.IsKeyword("EXISTS"):
		p.pos++
		if err := p.expectPunct("("); err != nil {
			return err
		}
		if err := p.parseSelect(); err != nil {
			return err
		}
		return p.expectPunct(")")
	case t.isPunct("("):
		p.pos++
		if inner, ok := p.peek(); ok && inner.IsKeyword("SELECT") {
			if err := p.parseSelect(); err != nil {
				return err
			}
		} else if err := p.parseExpr(); err != nil {
			return err
		}
		return p.expectPunct(")")
	case t.Kind == KindIdent && !IsClauseKeyword(t):
		p.pos++
		if p.acceptPunct("(") {
			return p.parseFunctionArgs()
		}
		for p.acceptPunct(".") {
			if nt, ok := p.next(); !ok || (nt.Kind != KindIdent && !(nt.Kind == KindOperator && nt.Text == "*")) {
				return p.fail("expected identifier after .")
			} else if nt.Kind == KindOperator {
				return nil
			}
		}
		return nil
	default:
		return p.fail("unexpected token in expression")
	}
}

func (p *parser) parseFunctionArgs() error {
	if p.acceptPunct(")") {
		return nil
	}
	p.acceptKeyword("DISTINCT")
	if t, ok := p.peek(); ok && t.Kind == KindOperator && t.Text == "*" {
		p.pos++
		return p.expectPunct(")")
	}
	if err := p.parseExprList(); err != nil {
		return err
	}
	return p.expectPunct(")")
}

func (p *parser) parseCase() error {
	if err := p.expectKeyword("CASE"); err != nil {
		return err
	}
	// Simple CASE carries an operand expression before the first WHEN.
	if t, ok := p.peek(); ok && !t.IsKeyword("WHEN") && !t.IsKeyword("END") {
		if err := p.parseExpr(); err != nil {
			return err
		}
	}
	seen := false
	for p.acceptKeyword("WHEN") {
		seen = true
		if err := p.parseExpr(); err != nil {
			return err
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return err
		}
		if err := p.parseExpr(); err != nil {
			return err
		}
	}
	if !seen {
		return p.fail("CASE requires at least one WHEN")
	}
	if p.acceptKeyword("ELSE") {
		if err := p.parseExpr(); err != nil {
			return err
		}
	}
	return p.expectKeyword("END")
}
