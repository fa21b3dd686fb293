package sandbox

import (
	"fmt"
	"strings"

	"github.com/floegence/nl2sql-agent/internal/schema"
	"github.com/floegence/nl2sql-agent/internal/sqlcheck"
)

// forbiddenSchemas are system catalogs the agent must never read from,
// regardless of what the LLM produced.
var forbiddenSchemas = map[string]bool{
	"information_schema": true,
	"performance_schema": true,
	"mysql":              true,
	"sys":                true,
	"pg_catalog":         true,
	"pg_temp":            true,
}

// builtinWords are bare identifiers that are neither tables nor columns but
// legal in expressions without a following parenthesis.
var builtinWords = map[string]bool{
	"true":              true,
	"false":             true,
	"current_date":      true,
	"current_time":      true,
	"current_timestamp": true,
}

type identScan struct {
	cat      *schema.Catalog
	tokens   []sqlcheck.Token
	consumed []bool
	// alias (lower) -> canonical table name
	aliasToTable map[string]string
	// select-list and derived-table aliases (lower); their columns cannot be
	// resolved against the catalog, so qualified refs through them pass.
	looseAliases map[string]bool
	refs         map[string]bool
}

// analyzeIdentifiers resolves every table, alias and column reference in the
// token stream against the catalog. It returns the canonical referenced
// identifiers, or a deny reason code plus message.
func analyzeIdentifiers(cat *schema.Catalog, tokens []sqlcheck.Token) ([]string, string, string) {
	sc := &identScan{
		cat:          cat,
		tokens:       tokens,
		consumed:     make([]bool, len(tokens)),
		aliasToTable: map[string]string{},
		looseAliases: map[string]bool{},
		refs:         map[string]bool{},
	}
	sc.collectCTEs()
	if code, reason := sc.collectTables(); code != "" {
		return nil, code, reason
	}
	sc.collectAliases()
	if code, reason := sc.resolveRemaining(); code != "" {
		return nil, code, reason
	}

	out := make([]string, 0, len(sc.refs))
	for r := range sc.refs {
		out = append(out, r)
	}
	return out, "", ""
}

func (sc *identScan) isPunctAt(i int, s string) bool {
	return i >= 0 && i < len(sc.tokens) &&
		sc.tokens[i].Kind == sqlcheck.KindPunct && sc.tokens[i].Text == s
}

func (sc *identScan) isPlainIdentAt(i int) bool {
	return i >= 0 && i < len(sc.tokens) &&
		sc.tokens[i].Kind == sqlcheck.KindIdent && !sqlcheck.IsClauseKeyword(sc.tokens[i])
}

// collectCTEs registers WITH clause names and their declared column lists so
// later passes treat references to them like derived-table aliases. The CTE
// bodies are left in place for the regular passes to resolve.
func (sc *identScan) collectCTEs() {
	if len(sc.tokens) == 0 || !sc.tokens[0].IsKeyword("WITH") {
		return
	}
	i := 1
	for {
		if !sc.isPlainIdentAt(i) {
			return
		}
		sc.looseAliases[strings.ToLower(sc.tokens[i].Text)] = true
		sc.consumed[i] = true
		i++
		if sc.isPunctAt(i, "(") {
			i++
			for sc.isPlainIdentAt(i) {
				sc.looseAliases[strings.ToLower(sc.tokens[i].Text)] = true
				sc.consumed[i] = true
				i++
				if sc.isPunctAt(i, ",") {
					i++
				}
			}
			if !sc.isPunctAt(i, ")") {
				return
			}
			i++
		}
		if i >= len(sc.tokens) || !sc.tokens[i].IsKeyword("AS") {
			return
		}
		sc.consumed[i] = true
		i++
		if !sc.isPunctAt(i, "(") {
			return
		}
		depth := 0
		for ; i < len(sc.tokens); i++ {
			if sc.isPunctAt(i, "(") {
				depth++
			} else if sc.isPunctAt(i, ")") {
				depth--
				if depth == 0 {
					i++
					break
				}
			}
		}
		if !sc.isPunctAt(i, ",") {
			return
		}
		i++
	}
}

// collectTables walks table references after FROM and JOIN, including
// comma-separated lists, and records their aliases.
func (sc *identScan) collectTables() (string, string) {
	for i := 0; i < len(sc.tokens); i++ {
		tok := sc.tokens[i]
		isFrom := tok.IsKeyword("FROM")
		if !isFrom && !tok.IsKeyword("JOIN") {
			continue
		}
		j := i + 1
		for {
			if sc.isPunctAt(j, "(") {
				// Derived table; its inner FROM is found by the outer loop
				// and its alias by collectAliases.
				break
			}
			if !sc.isPlainIdentAt(j) {
				return ReasonUnknownIdentifier, "missing table name after " + strings.ToUpper(tok.Text)
			}

			name := sc.tokens[j].Text
			sc.consumed[j] = true
			if sc.looseAliases[strings.ToLower(name)] {
				// CTE or derived-table name; nothing to check in the catalog.
				j++
				if j < len(sc.tokens) && sc.tokens[j].IsKeyword("AS") {
					sc.consumed[j] = true
					j++
				}
				if sc.isPlainIdentAt(j) {
					sc.looseAliases[strings.ToLower(sc.tokens[j].Text)] = true
					sc.consumed[j] = true
					j++
				}
				if !isFrom || !sc.isPunctAt(j, ",") {
					break
				}
				j++
				continue
			}
			if sc.isPunctAt(j+1, ".") && j+2 < len(sc.tokens) {
				qualifier := strings.ToLower(name)
				if forbiddenSchemas[qualifier] {
					return ReasonForbiddenSchema, fmt.Sprintf("schema %q is not accessible", name)
				}
				name = sc.tokens[j+2].Text
				sc.consumed[j+1], sc.consumed[j+2] = true, true
				j += 2
			}
			if strings.HasPrefix(strings.ToLower(name), "sqlite_") {
				return ReasonForbiddenSchema, fmt.Sprintf("table %q is not accessible", name)
			}
			t := sc.cat.Table(name)
			if t == nil {
				return ReasonUnknownIdentifier, fmt.Sprintf("unknown table %q", name)
			}
			sc.refs[t.Name] = true
			sc.aliasToTable[strings.ToLower(t.Name)] = t.Name

			j++
			if j < len(sc.tokens) && sc.tokens[j].IsKeyword("AS") {
				sc.consumed[j] = true
				j++
			}
			if sc.isPlainIdentAt(j) {
				sc.aliasToTable[strings.ToLower(sc.tokens[j].Text)] = t.Name
				sc.consumed[j] = true
				j++
			}

			// Comma-separated table lists only occur directly after FROM.
			if !isFrom || !sc.isPunctAt(j, ",") {
				break
			}
			j++
		}
	}
	return "", ""
}

// collectAliases picks up select-list and derived-table aliases: an
// identifier after AS, or one directly following a value-shaped token.
func (sc *identScan) collectAliases() {
	for i := 1; i < len(sc.tokens); i++ {
		if sc.consumed[i] || !sc.isPlainIdentAt(i) {
			continue
		}
		prev := sc.tokens[i-1]
		switch {
		case prev.IsKeyword("AS"):
		case !sc.consumed[i-1] && prev.Kind == sqlcheck.KindIdent && !sqlcheck.IsClauseKeyword(prev):
		case prev.Kind == sqlcheck.KindNumber || prev.Kind == sqlcheck.KindString:
		case prev.Kind == sqlcheck.KindPunct && prev.Text == ")":
		default:
			continue
		}
		sc.looseAliases[strings.ToLower(sc.tokens[i].Text)] = true
		sc.consumed[i] = true
	}
}

// owningTable attributes an unqualified column to the single in-scope table
// that has it. Returns "" when zero or several tables match.
func (sc *identScan) owningTable(column string) string {
	seen := map[string]bool{}
	owner := ""
	for _, table := range sc.aliasToTable {
		if seen[table] {
			continue
		}
		seen[table] = true
		if sc.cat.ResolveColumn(table, column) {
			if owner != "" {
				return ""
			}
			owner = table
		}
	}
	return owner
}

// resolveRemaining checks every identifier the earlier passes left over.
func (sc *identScan) resolveRemaining() (string, string) {
	for i := 0; i < len(sc.tokens); i++ {
		tok := sc.tokens[i]
		if sc.consumed[i] || tok.Kind != sqlcheck.KindIdent || sqlcheck.IsClauseKeyword(tok) {
			continue
		}
		if sc.isPunctAt(i-1, ".") {
			continue
		}
		if sc.isPunctAt(i+1, "(") {
			// Function call.
			continue
		}

		lower := strings.ToLower(tok.Text)
		if builtinWords[lower] && !tok.Quoted {
			continue
		}

		if sc.isPunctAt(i+1, ".") && i+2 < len(sc.tokens) {
			if forbiddenSchemas[lower] {
				return ReasonForbiddenSchema, fmt.Sprintf("schema %q is not accessible", tok.Text)
			}
			if sc.looseAliases[lower] {
				continue
			}
			tableName, ok := sc.aliasToTable[lower]
			if !ok {
				t := sc.cat.Table(tok.Text)
				if t == nil {
					return ReasonUnknownIdentifier, fmt.Sprintf("unknown table or alias %q", tok.Text)
				}
				tableName = t.Name
			}
			colTok := sc.tokens[i+2]
			if colTok.Kind == sqlcheck.KindOperator && colTok.Text == "*" {
				sc.refs[tableName] = true
				continue
			}
			if !sc.cat.ResolveColumn(tableName, colTok.Text) {
				return ReasonUnknownIdentifier, fmt.Sprintf("unknown column %q in table %q", colTok.Text, tableName)
			}
			sc.refs[tableName+"."+colTok.Text] = true
			continue
		}

		// Bare identifier: table, alias or unqualified column.
		if canonical, ok := sc.aliasToTable[lower]; ok {
			sc.refs[canonical] = true
			continue
		}
		if sc.looseAliases[lower] {
			continue
		}
		if t := sc.cat.Table(tok.Text); t != nil {
			sc.refs[t.Name] = true
			continue
		}
		if owner := sc.owningTable(tok.Text); owner != "" {
			sc.refs[owner+"."+tok.Text] = true
			continue
		}
		if sc.cat.ResolveColumn("", tok.Text) {
			sc.refs[tok.Text] = true
			continue
		}
		return ReasonUnknownIdentifier, fmt.Sprintf("unknown column %q", tok.Text)
	}
	return "", ""
}
