package schema

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

func openIntrospectDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	stmts := []string{
		`CREATE TABLE customer (CustomerId INTEGER PRIMARY KEY, FirstName TEXT NOT NULL, City TEXT)`,
		`CREATE TABLE invoice (
			InvoiceId INTEGER PRIMARY KEY,
			CustomerId INTEGER NOT NULL REFERENCES customer(CustomerId),
			Total NUMERIC
		)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("setup %q: %v", s, err)
		}
	}
	return db
}

func TestIntrospect_SQLiteBuildsCatalog(t *testing.T) {
	t.Parallel()
	cat, err := Introspect(context.Background(), openIntrospectDB(t), "sqlite")
	if err != nil {
		t.Fatalf("Introspect: %v", err)
	}
	if cat.Engine != "sqlite" {
		t.Fatalf("engine = %q", cat.Engine)
	}
	names := cat.TableNames()
	if len(names) != 2 || names[0] != "customer" || names[1] != "invoice" {
		t.Fatalf("tables = %v", names)
	}

	customer := cat.Table("customer")
	if pk := customer.PrimaryKey(); pk != "CustomerId" {
		t.Fatalf("customer pk = %q", pk)
	}
	for _, col := range customer.Columns {
		switch col.Name {
		case "FirstName":
			if col.Nullable {
				t.Fatalf("FirstName marked nullable")
			}
		case "City":
			if !col.Nullable {
				t.Fatalf("City marked not null")
			}
		}
	}

	invoice := cat.Table("invoice")
	if len(invoice.ForeignKeys) != 1 {
		t.Fatalf("invoice fks = %+v", invoice.ForeignKeys)
	}
	fk := invoice.ForeignKeys[0]
	if fk.Column != "CustomerId" || fk.RefTable != "customer" || fk.RefColumn != "CustomerId" {
		t.Fatalf("fk = %+v", fk)
	}
	if fk.Nullable {
		t.Fatalf("NOT NULL fk column reported nullable")
	}
}

func TestIntrospect_RejectsUnknownEngine(t *testing.T) {
	t.Parallel()
	if _, err := Introspect(context.Background(), nil, "oracle"); err == nil {
		t.Fatalf("unknown engine accepted")
	}
}

func TestInformationSchemaQueries_PlaceholdersMatchEngine(t *testing.T) {
	t.Parallel()
	colQ, pkQ, fkQ := informationSchemaQueries("mysql")
	for _, q := range []string{colQ, pkQ, fkQ} {
		if !strings.Contains(q, "?") || strings.Contains(q, "$1") {
			t.Fatalf("mysql query carries the wrong placeholder: %q", q)
		}
	}
	colQ, pkQ, fkQ = informationSchemaQueries("postgres")
	for _, q := range []string{colQ, pkQ, fkQ} {
		if !strings.Contains(q, "$1") || strings.Contains(q, "?") {
			t.Fatalf("postgres query carries the wrong placeholder: %q", q)
		}
	}
}
