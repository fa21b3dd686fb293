package sandbox

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/floegence/nl2sql-agent/internal/schema"
)

func testCatalog(t *testing.T) *schema.Catalog {
	t.Helper()
	c, err := schema.New("sqlite", []schema.Table{
		{
			Name: "customer",
			Columns: []schema.Column{
				{Name: "CustomerId", Type: "INTEGER", PrimaryKey: true},
				{Name: "FirstName", Type: "TEXT"},
				{Name: "Email", Type: "TEXT"},
				{Name: "City", Type: "TEXT", Nullable: true},
			},
		},
		{
			Name: "invoice",
			Columns: []schema.Column{
				{Name: "InvoiceId", Type: "INTEGER", PrimaryKey: true},
				{Name: "CustomerId", Type: "INTEGER"},
				{Name: "Total", Type: "NUMERIC"},
			},
			ForeignKeys: []schema.ForeignKey{
				{Column: "CustomerId", RefTable: "customer", RefColumn: "CustomerId"},
			},
		},
	})
	if err != nil {
		t.Fatalf("schema.New: %v", err)
	}
	return c
}

func testSandbox() *Sandbox {
	return New(Policy{MaxRows: 100, Budget: 5 * time.Second}, slog.New(slog.DiscardHandler))
}

func TestCheck_AllowsPlainSelect(t *testing.T) {
	t.Parallel()
	d := testSandbox().Check(testCatalog(t), "SELECT FirstName, Email FROM customer WHERE City = 'Prague'")
	if !d.Allowed {
		t.Fatalf("denied: %s %s", d.ReasonCode, d.Reason)
	}
	if !strings.HasSuffix(d.NormalizedSQL, "LIMIT 100") {
		t.Fatalf("missing appended limit: %q", d.NormalizedSQL)
	}
	if d.Budget != 5*time.Second {
		t.Fatalf("budget = %v", d.Budget)
	}
	want := []string{"customer", "customer.City", "customer.Email", "customer.FirstName"}
	if len(d.ReferencedIdentifiers) != len(want) {
		t.Fatalf("identifiers = %v, want %v", d.ReferencedIdentifiers, want)
	}
	for i := range want {
		if d.ReferencedIdentifiers[i] != want[i] {
			t.Fatalf("identifiers = %v, want %v", d.ReferencedIdentifiers, want)
		}
	}
}

func TestCheck_DeniesInFixedOrder(t *testing.T) {
	t.Parallel()
	sb := testSandbox()
	cat := testCatalog(t)

	cases := []struct {
		name string
		sql  string
		code string
	}{
		{"empty", "   ", ReasonEmptySQL},
		{"comment only", "-- nothing here", ReasonEmptySQL},
		{"piggybacked drop", "SELECT * FROM customer; DROP TABLE customer;", ReasonForbiddenKeyword},
		{"two selects", "SELECT 1; SELECT 2", ReasonMultiStatement},
		{"plain delete", "DELETE FROM customer", ReasonForbiddenKeyword},
		{"keyword in comment", "SELECT * FROM customer /* drop table customer */", ReasonForbiddenKeyword},
		{"pragma", "PRAGMA table_info(customer)", ReasonForbiddenKeyword},
		{"unknown table", "SELECT * FROM orders", ReasonUnknownIdentifier},
		{"unknown column", "SELECT Salary FROM customer", ReasonUnknownIdentifier},
		{"unknown alias", "SELECT x.FirstName FROM customer c", ReasonUnknownIdentifier},
		{"system schema", "SELECT * FROM information_schema.tables", ReasonForbiddenSchema},
		{"sqlite internal", "SELECT * FROM sqlite_master", ReasonForbiddenSchema},
		{"pg catalog qualifier", "SELECT pg_catalog.version FROM customer", ReasonForbiddenSchema},
	}
	for _, tc := range cases {
		d := sb.Check(cat, tc.sql)
		if d.Allowed {
			t.Fatalf("%s: allowed, want deny %s", tc.name, tc.code)
		}
		if d.ReasonCode != tc.code {
			t.Fatalf("%s: code = %s (%s), want %s", tc.name, d.ReasonCode, d.Reason, tc.code)
		}
		if d.Reason == "" {
			t.Fatalf("%s: deny without reason text", tc.name)
		}
	}
}

func TestCheck_KeywordInStringLiteralIsAllowed(t *testing.T) {
	t.Parallel()
	d := testSandbox().Check(testCatalog(t), "SELECT FirstName FROM customer WHERE FirstName LIKE '%drop%'")
	if !d.Allowed {
		t.Fatalf("denied: %s %s", d.ReasonCode, d.Reason)
	}
}

func TestCheck_ClampsExistingLimit(t *testing.T) {
	t.Parallel()
	sb := testSandbox()
	cat := testCatalog(t)

	d := sb.Check(cat, "SELECT * FROM customer LIMIT 5000")
	if !d.Allowed {
		t.Fatalf("denied: %s %s", d.ReasonCode, d.Reason)
	}
	if !strings.HasSuffix(d.NormalizedSQL, "LIMIT 100") {
		t.Fatalf("limit not clamped: %q", d.NormalizedSQL)
	}

	d = sb.Check(cat, "SELECT * FROM customer LIMIT 10")
	if !strings.HasSuffix(d.NormalizedSQL, "LIMIT 10") {
		t.Fatalf("small limit rewritten: %q", d.NormalizedSQL)
	}

	// The row count sits second in the offset, count form.
	d = sb.Check(cat, "SELECT * FROM customer LIMIT 20, 5000")
	if !strings.HasSuffix(d.NormalizedSQL, "LIMIT 20, 100") {
		t.Fatalf("offset form not clamped: %q", d.NormalizedSQL)
	}

	// A LIMIT inside a subquery does not count as the statement limit.
	d = sb.Check(cat, "SELECT * FROM (SELECT CustomerId FROM customer LIMIT 5) sub")
	if !strings.HasSuffix(d.NormalizedSQL, "LIMIT 100") {
		t.Fatalf("subquery limit treated as top level: %q", d.NormalizedSQL)
	}
}

func TestCheck_JoinWithAliasesResolves(t *testing.T) {
	t.Parallel()
	d := testSandbox().Check(testCatalog(t),
		"SELECT c.FirstName, SUM(i.Total) AS total FROM customer c JOIN invoice i ON i.CustomerId = c.CustomerId GROUP BY c.FirstName ORDER BY total DESC")
	if !d.Allowed {
		t.Fatalf("denied: %s %s", d.ReasonCode, d.Reason)
	}
	joined := strings.Join(d.ReferencedIdentifiers, " ")
	for _, want := range []string{"customer", "invoice", "invoice.Total", "customer.FirstName"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("identifiers %v missing %s", d.ReferencedIdentifiers, want)
		}
	}
}

func TestCheck_CommonTableExpressionsResolve(t *testing.T) {
	t.Parallel()
	sb := testSandbox()
	cat := testCatalog(t)

	d := sb.Check(cat, "WITH recent AS (SELECT InvoiceId, Total FROM invoice WHERE Total > 5) SELECT COUNT(*) FROM recent")
	if !d.Allowed {
		t.Fatalf("denied: %s %s", d.ReasonCode, d.Reason)
	}
	// The CTE body still resolves against the catalog; the CTE name does not.
	joined := strings.Join(d.ReferencedIdentifiers, " ")
	for _, want := range []string{"invoice", "invoice.Total"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("identifiers %v missing %s", d.ReferencedIdentifiers, want)
		}
	}
	if !strings.HasSuffix(d.NormalizedSQL, "LIMIT 100") {
		t.Fatalf("missing appended limit: %q", d.NormalizedSQL)
	}

	// Declared column lists name the CTE output, not catalog columns.
	d = sb.Check(cat, "WITH t (cid, total) AS (SELECT CustomerId, Total FROM invoice) SELECT cid FROM t WHERE total > 1")
	if !d.Allowed {
		t.Fatalf("column-list CTE denied: %s %s", d.ReasonCode, d.Reason)
	}

	d = sb.Check(cat, "WITH recent AS (SELECT * FROM orders) SELECT * FROM recent")
	if d.Allowed {
		t.Fatalf("unknown table inside CTE body allowed")
	}
	if d.ReasonCode != ReasonUnknownIdentifier {
		t.Fatalf("code = %s (%s), want %s", d.ReasonCode, d.Reason, ReasonUnknownIdentifier)
	}
}

func TestCheck_TrailingSemicolonIsNormalizedAway(t *testing.T) {
	t.Parallel()
	d := testSandbox().Check(testCatalog(t), "SELECT FirstName FROM customer;")
	if !d.Allowed {
		t.Fatalf("denied: %s %s", d.ReasonCode, d.Reason)
	}
	if strings.Contains(d.NormalizedSQL, ";") {
		t.Fatalf("semicolon survived: %q", d.NormalizedSQL)
	}
}

func TestCheck_IsDeterministic(t *testing.T) {
	t.Parallel()
	sb := testSandbox()
	cat := testCatalog(t)
	sql := "SELECT c.FirstName FROM customer c JOIN invoice i ON i.CustomerId = c.CustomerId"

	first := sb.Check(cat, sql)
	for i := 0; i < 5; i++ {
		again := sb.Check(cat, sql)
		if again.NormalizedSQL != first.NormalizedSQL {
			t.Fatalf("normalized sql changed across calls")
		}
		if strings.Join(again.ReferencedIdentifiers, "|") != strings.Join(first.ReferencedIdentifiers, "|") {
			t.Fatalf("identifier order changed across calls")
		}
	}
}
