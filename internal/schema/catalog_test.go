package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// chinookCatalog returns the catalog used across this package's tests. It
// mirrors the music-store data set the agent is typically pointed at:
// invoice and track only connect through invoice_line.
func chinookCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := New("sqlite", []Table{
		{
			Name: "artist",
			Columns: []Column{
				{Name: "ArtistId", Type: "INTEGER", PrimaryKey: true},
				{Name: "Name", Type: "TEXT", Nullable: true},
			},
		},
		{
			Name: "album",
			Columns: []Column{
				{Name: "AlbumId", Type: "INTEGER", PrimaryKey: true},
				{Name: "Title", Type: "TEXT"},
				{Name: "ArtistId", Type: "INTEGER"},
			},
			ForeignKeys: []ForeignKey{
				{Column: "ArtistId", RefTable: "artist", RefColumn: "ArtistId"},
			},
		},
		{
			Name: "genre",
			Columns: []Column{
				{Name: "GenreId", Type: "INTEGER", PrimaryKey: true},
				{Name: "Name", Type: "TEXT", Nullable: true},
			},
		},
		{
			Name: "track",
			Columns: []Column{
				{Name: "TrackId", Type: "INTEGER", PrimaryKey: true},
				{Name: "Name", Type: "TEXT"},
				{Name: "AlbumId", Type: "INTEGER", Nullable: true},
				{Name: "GenreId", Type: "INTEGER", Nullable: true},
				{Name: "UnitPrice", Type: "NUMERIC"},
			},
			ForeignKeys: []ForeignKey{
				{Column: "AlbumId", RefTable: "album", RefColumn: "AlbumId", Nullable: true},
				{Column: "GenreId", RefTable: "genre", RefColumn: "GenreId", Nullable: true},
			},
		},
		{
			Name: "customer",
			Columns: []Column{
				{Name: "CustomerId", Type: "INTEGER", PrimaryKey: true},
				{Name: "FirstName", Type: "TEXT"},
				{Name: "LastName", Type: "TEXT"},
				{Name: "Email", Type: "TEXT"},
				{Name: "City", Type: "TEXT", Nullable: true},
			},
		},
		{
			Name: "invoice",
			Columns: []Column{
				{Name: "InvoiceId", Type: "INTEGER", PrimaryKey: true},
				{Name: "CustomerId", Type: "INTEGER"},
				{Name: "InvoiceDate", Type: "DATETIME"},
				{Name: "Total", Type: "NUMERIC"},
			},
			ForeignKeys: []ForeignKey{
				{Column: "CustomerId", RefTable: "customer", RefColumn: "CustomerId"},
			},
		},
		{
			Name: "invoice_line",
			Columns: []Column{
				{Name: "InvoiceLineId", Type: "INTEGER", PrimaryKey: true},
				{Name: "InvoiceId", Type: "INTEGER"},
				{Name: "TrackId", Type: "INTEGER"},
				{Name: "Quantity", Type: "INTEGER"},
			},
			ForeignKeys: []ForeignKey{
				{Column: "InvoiceId", RefTable: "invoice", RefColumn: "InvoiceId"},
				{Column: "TrackId", RefTable: "track", RefColumn: "TrackId"},
			},
		},
		{
			Name: "standalone_note",
			Columns: []Column{
				{Name: "NoteId", Type: "INTEGER", PrimaryKey: true},
				{Name: "Body", Type: "TEXT"},
			},
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestCatalog_LookupsAreCaseInsensitive(t *testing.T) {
	t.Parallel()
	c := chinookCatalog(t)

	if c.Table("CUSTOMER") == nil {
		t.Fatalf("Table(CUSTOMER) not found")
	}
	if got := c.Table("Customer").Name; got != "customer" {
		t.Fatalf("canonical name = %q, want customer", got)
	}
	if !c.ResolveColumn("customer", "email") {
		t.Fatalf("ResolveColumn(customer, email) = false")
	}
	if !c.ResolveColumn("", "unitprice") {
		t.Fatalf("ResolveColumn(any, unitprice) = false")
	}
	if c.ResolveColumn("customer", "total") {
		t.Fatalf("ResolveColumn(customer, total) = true, want false")
	}
	if c.HasTable("orders") {
		t.Fatalf("HasTable(orders) = true")
	}
}

func TestParse_RejectsDanglingForeignKey(t *testing.T) {
	t.Parallel()
	_, err := Parse([]byte(`{
  "tables": [
    {
      "name": "album",
      "columns": [{"name": "AlbumId", "type": "INTEGER", "nullable": false, "primary_key": true}],
      "foreign_keys": [{"column": "ArtistId", "ref_table": "artist", "ref_column": "ArtistId", "nullable": false}]
    }
  ]
}`))
	if err == nil {
		t.Fatalf("Parse accepted dangling foreign key")
	}
	if !strings.Contains(err.Error(), "unknown table") {
		t.Fatalf("error = %v, want unknown table", err)
	}
}

func TestLoadFile_RoundTrip(t *testing.T) {
	t.Parallel()
	c := chinookCatalog(t)

	b, err := c.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	path := filepath.Join(t.TempDir(), "schema.json")
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(loaded.Tables) != len(c.Tables) {
		t.Fatalf("tables = %d, want %d", len(loaded.Tables), len(c.Tables))
	}
	if loaded.Table("invoice_line") == nil {
		t.Fatalf("invoice_line missing after round trip")
	}
	fk := loaded.Table("track").ForeignKeys[0]
	if !fk.Nullable {
		t.Fatalf("track.AlbumId nullability lost in round trip")
	}
}

func TestRelevantTables_MatchesAliasesAndChinese(t *testing.T) {
	t.Parallel()
	c := chinookCatalog(t)

	cases := []struct {
		question string
		want     []string
	}{
		{"list all customers with their email", []string{"customer"}},
		{"查询前5个客户的名字和邮箱", []string{"customer"}},
		{"total per invoice and track name", []string{"invoice", "track"}},
		{"哪个艺术家的专辑最多", []string{"album", "artist"}},
		{"hello there", nil},
	}
	for _, tc := range cases {
		got := c.RelevantTables(tc.question)
		if len(got) != len(tc.want) {
			t.Fatalf("RelevantTables(%q) = %v, want %v", tc.question, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("RelevantTables(%q) = %v, want %v", tc.question, got, tc.want)
			}
		}
	}
}

func TestHolder_ReloadSwapsSnapshot(t *testing.T) {
	t.Parallel()
	first := chinookCatalog(t)
	h := NewHolder(first)

	if h.Current() != first {
		t.Fatalf("Current != initial snapshot")
	}

	second, err := New("sqlite", []Table{
		{Name: "only", Columns: []Column{{Name: "Id", Type: "INTEGER", PrimaryKey: true}}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := h.Reload(second); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if h.Current() != second {
		t.Fatalf("Current != reloaded snapshot")
	}
	// The old snapshot stays valid for readers that grabbed it before the swap.
	if first.Table("customer") == nil {
		t.Fatalf("old snapshot mutated by reload")
	}
}

func TestFormatForPrompt_ScopesToRequestedTables(t *testing.T) {
	t.Parallel()
	c := chinookCatalog(t)

	out := c.FormatForPrompt([]string{"customer"})
	if !strings.Contains(out, "Table customer:") {
		t.Fatalf("missing customer section:\n%s", out)
	}
	if strings.Contains(out, "Table invoice:") {
		t.Fatalf("unexpected invoice section:\n%s", out)
	}
	// The table list header always covers the full catalog.
	if !strings.Contains(out, "invoice_line") {
		t.Fatalf("table list header missing invoice_line:\n%s", out)
	}

	full := c.FormatForPrompt(nil)
	if !strings.Contains(full, "FK: invoice_line.TrackId -> track.TrackId") {
		t.Fatalf("foreign key line missing:\n%s", full)
	}
}
