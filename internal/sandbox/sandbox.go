// Package sandbox is the last gate before a generated statement reaches the
// database. It re-checks statement shape, scans for write/DDL keywords,
// verifies every referenced identifier against the live schema snapshot and
// clamps the row limit. The checks run in a fixed order so the same input
// always produces the same decision.
package sandbox

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/floegence/nl2sql-agent/internal/schema"
	"github.com/floegence/nl2sql-agent/internal/sqlcheck"
)

// Reason codes carried on deny decisions.
const (
	ReasonEmptySQL          = "EMPTY_SQL"
	ReasonMultiStatement    = "MULTI_STATEMENT"
	ReasonForbiddenKeyword  = "FORBIDDEN_KEYWORD"
	ReasonUnknownIdentifier = "UNKNOWN_IDENTIFIER"
	ReasonForbiddenSchema   = "FORBIDDEN_SCHEMA"
)

const (
	DefaultMaxRows = 1000
	DefaultBudget  = 30 * time.Second
)

type Policy struct {
	// MaxRows caps the LIMIT clause. A missing LIMIT gets one appended.
	MaxRows int `json:"max_rows"`
	// Budget is the wall-clock allowance the executor applies to the query.
	Budget time.Duration `json:"budget"`
}

func (p Policy) withDefaults() Policy {
	if p.MaxRows <= 0 {
		p.MaxRows = DefaultMaxRows
	}
	if p.Budget <= 0 {
		p.Budget = DefaultBudget
	}
	return p
}

// Decision is the immutable outcome of one sandbox check.
type Decision struct {
	Allowed               bool          `json:"allowed"`
	ReasonCode            string        `json:"reason_code,omitempty"`
	Reason                string        `json:"reason,omitempty"`
	NormalizedSQL         string        `json:"normalized_sql,omitempty"`
	ReferencedIdentifiers []string      `json:"referenced_identifiers,omitempty"`
	Budget                time.Duration `json:"budget,omitempty"`
}

type Sandbox struct {
	policy Policy
	logger *slog.Logger
}

func New(policy Policy, logger *slog.Logger) *Sandbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sandbox{policy: policy.withDefaults(), logger: logger}
}

func deny(code, reason string) Decision {
	return Decision{ReasonCode: code, Reason: reason}
}

// Check runs the full gate against the given schema snapshot. It never
// mutates the snapshot and is safe for concurrent use.
func (s *Sandbox) Check(cat *schema.Catalog, sql string) Decision {
	d := s.check(cat, sql)
	if d.Allowed {
		s.logger.Debug("sandbox allow", "identifiers", len(d.ReferencedIdentifiers))
	} else {
		s.logger.Warn("sandbox deny", "reason_code", d.ReasonCode, "reason", d.Reason)
	}
	return d
}

func (s *Sandbox) check(cat *schema.Catalog, sql string) Decision {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return deny(ReasonEmptySQL, "statement is empty")
	}

	// Keyword scan on the raw text with string literals blanked out. Running
	// it before comment stripping catches keywords smuggled into comments.
	if kw := findForbiddenKeyword(stripStrings(trimmed)); kw != "" {
		return deny(ReasonForbiddenKeyword, fmt.Sprintf("forbidden keyword %q", kw))
	}

	stripped := strings.TrimSpace(sqlcheck.StripComments(trimmed))
	tokens, diags := sqlcheck.Tokenize(stripped)
	if len(tokens) == 0 {
		return deny(ReasonEmptySQL, "statement is empty after comment stripping")
	}
	if len(diags) > 0 {
		return deny(ReasonUnknownIdentifier, "statement does not lex cleanly: "+diags[0].String())
	}

	for i, tok := range tokens {
		if tok.Kind == sqlcheck.KindPunct && tok.Text == ";" && i != len(tokens)-1 {
			return deny(ReasonMultiStatement, "statement contains more than one statement")
		}
	}

	if !tokens[0].IsKeyword("SELECT") && !tokens[0].IsKeyword("WITH") {
		return deny(ReasonForbiddenKeyword, "only SELECT statements are allowed")
	}

	refs, code, reason := analyzeIdentifiers(cat, tokens)
	if code != "" {
		return deny(code, reason)
	}

	normalized := ensureLimit(stripped, tokens, s.policy.MaxRows)

	sort.Strings(refs)
	return Decision{
		Allowed:               true,
		NormalizedSQL:         normalized,
		ReferencedIdentifiers: refs,
		Budget:                s.policy.Budget,
	}
}

// --- forbidden keywords ---

var forbiddenKeywords = map[string]bool{
	"insert": true, "update": true, "delete": true, "drop": true,
	"create": true, "alter": true, "truncate": true, "rename": true,
	"grant": true, "revoke": true, "commit": true, "rollback": true,
	"merge": true, "replace": true, "call": true, "exec": true,
	"execute": true, "attach": true, "detach": true, "pragma": true,
	"vacuum": true, "into": true, "sleep": true, "benchmark": true,
	"load_file": true, "outfile": true, "infile": true, "shutdown": true,
}

// findForbiddenKeyword scans whole words only, so column names like
// created_at never trip the insert/create entries.
func findForbiddenKeyword(text string) string {
	lower := strings.ToLower(text)
	i := 0
	for i < len(lower) {
		if !isWordByte(lower[i]) {
			i++
			continue
		}
		j := i
		for j < len(lower) && isWordByte(lower[j]) {
			j++
		}
		if forbiddenKeywords[lower[i:j]] {
			return lower[i:j]
		}
		i = j
	}
	return ""
}

func isWordByte(ch byte) bool {
	return ch == '_' || ch >= 'a' && ch <= 'z' || ch >= '0' && ch <= '9'
}

// stripStrings blanks out '...' literals so their content cannot trip the
// keyword scan. Comments are left in place on purpose.
func stripStrings(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))
	for i := 0; i < len(sql); {
		if sql[i] != '\'' {
			b.WriteByte(sql[i])
			i++
			continue
		}
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
		b.WriteString("''")
		i = j
	}
	return b.String()
}

// --- row limit enforcement ---

// ensureLimit clamps the top-level LIMIT row count to maxRows, appending a
// LIMIT clause when the statement has none. The input must already be
// comment-stripped and trimmed.
func ensureLimit(stripped string, tokens []sqlcheck.Token, maxRows int) string {
	stripped = strings.TrimRight(strings.TrimSpace(stripped), "; \t\n")

	depth := 0
	limitIdx := -1
	for i, tok := range tokens {
		switch {
		case tok.Kind == sqlcheck.KindPunct && tok.Text == "(":
			depth++
		case tok.Kind == sqlcheck.KindPunct && tok.Text == ")":
			depth--
		case depth == 0 && tok.IsKeyword("LIMIT"):
			limitIdx = i
		}
	}
	if limitIdx < 0 || limitIdx+1 >= len(tokens) {
		return stripped + " LIMIT " + strconv.Itoa(maxRows)
	}

	// LIMIT offset, count puts the row count second; LIMIT count [OFFSET n]
	// puts it first.
	countTok := tokens[limitIdx+1]
	if limitIdx+3 < len(tokens) &&
		tokens[limitIdx+2].Kind == sqlcheck.KindPunct && tokens[limitIdx+2].Text == "," {
		countTok = tokens[limitIdx+3]
	}
	n, err := strconv.Atoi(countTok.Text)
	if err == nil && n <= maxRows {
		return stripped
	}
	if countTok.Pos+len(countTok.Text) > len(stripped) {
		return stripped
	}
	return stripped[:countTok.Pos] + strconv.Itoa(maxRows) + stripped[countTok.Pos+len(countTok.Text):]
}
