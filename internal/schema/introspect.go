package schema

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// Introspect builds a Catalog from a live database connection.
//
// Engines: "sqlite" (PRAGMA-based), "mysql" and "postgres"
// (information_schema-based). The resulting catalog carries real
// foreign-key constraints; nothing is inferred from column naming.
func Introspect(ctx context.Context, db *sql.DB, engine string) (*Catalog, error) {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "sqlite":
		return introspectSQLite(ctx, db)
	case "mysql":
		return introspectInformationSchema(ctx, db, "mysql", `SELECT DATABASE()`)
	case "postgres":
		return introspectInformationSchema(ctx, db, "postgres", `SELECT current_schema()`)
	default:
		return nil, fmt.Errorf("unsupported engine %q", engine)
	}
}

func introspectSQLite(ctx context.Context, db *sql.DB) (*Catalog, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var tables []Table
	for _, name := range names {
		t := Table{Name: name}

		colRows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, name))
		if err != nil {
			return nil, fmt.Errorf("table_info %s: %w", name, err)
		}
		for colRows.Next() {
			var cid, notNull, pk int
			var colName, colType string
			var dflt sql.NullString
			if err := colRows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
				colRows.Close()
				return nil, err
			}
			t.Columns = append(t.Columns, Column{
				Name:       colName,
				Type:       colType,
				Nullable:   notNull == 0,
				PrimaryKey: pk > 0,
			})
		}
		colRows.Close()
		if err := colRows.Err(); err != nil {
			return nil, err
		}

		fkRows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA foreign_key_list(%q)`, name))
		if err != nil {
			return nil, fmt.Errorf("foreign_key_list %s: %w", name, err)
		}
		for fkRows.Next() {
			var id, seq int
			var refTable, from, to string
			var onUpdate, onDelete, match string
			if err := fkRows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
				fkRows.Close()
				return nil, err
			}
			t.ForeignKeys = append(t.ForeignKeys, ForeignKey{
				Column:    from,
				RefTable:  refTable,
				RefColumn: to,
				Nullable:  columnNullable(t.Columns, from),
			})
		}
		fkRows.Close()
		if err := fkRows.Err(); err != nil {
			return nil, err
		}

		tables = append(tables, t)
	}
	return New("sqlite", tables)
}

func introspectInformationSchema(ctx context.Context, db *sql.DB, engine, schemaQuery string) (*Catalog, error) {
	var schemaName string
	if err := db.QueryRowContext(ctx, schemaQuery).Scan(&schemaName); err != nil {
		return nil, fmt.Errorf("resolve schema name: %w", err)
	}

	type colInfo struct {
		table, column, typ string
		nullable           bool
	}
	colQuery, pkQuery, fkQuery := informationSchemaQueries(engine)
	colRows, err := db.QueryContext(ctx, colQuery, schemaName)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	byTable := map[string][]Column{}
	var order []string
	for colRows.Next() {
		var ci colInfo
		var isNullable string
		if err := colRows.Scan(&ci.table, &ci.column, &ci.typ, &isNullable); err != nil {
			colRows.Close()
			return nil, err
		}
		ci.nullable = strings.EqualFold(isNullable, "YES")
		if _, ok := byTable[ci.table]; !ok {
			order = append(order, ci.table)
		}
		byTable[ci.table] = append(byTable[ci.table], Column{
			Name:     ci.column,
			Type:     ci.typ,
			Nullable: ci.nullable,
		})
	}
	colRows.Close()
	if err := colRows.Err(); err != nil {
		return nil, err
	}

	pkRows, err := db.QueryContext(ctx, pkQuery, schemaName)
	if err != nil {
		return nil, fmt.Errorf("list primary keys: %w", err)
	}
	pks := map[string]map[string]bool{}
	for pkRows.Next() {
		var table, column string
		if err := pkRows.Scan(&table, &column); err != nil {
			pkRows.Close()
			return nil, err
		}
		if pks[table] == nil {
			pks[table] = map[string]bool{}
		}
		pks[table][strings.ToLower(column)] = true
	}
	pkRows.Close()
	if err := pkRows.Err(); err != nil {
		return nil, err
	}

	fkRows, err := db.QueryContext(ctx, fkQuery, schemaName)
	if err != nil {
		return nil, fmt.Errorf("list foreign keys: %w", err)
	}
	fks := map[string][]ForeignKey{}
	for fkRows.Next() {
		var table, column, refTable, refColumn string
		if err := fkRows.Scan(&table, &column, &refTable, &refColumn); err != nil {
			fkRows.Close()
			return nil, err
		}
		fks[table] = append(fks[table], ForeignKey{
			Column:    column,
			RefTable:  refTable,
			RefColumn: refColumn,
		})
	}
	fkRows.Close()
	if err := fkRows.Err(); err != nil {
		return nil, err
	}

	sort.Strings(order)
	var tables []Table
	for _, name := range order {
		cols := byTable[name]
		for i := range cols {
			if pks[name][strings.ToLower(cols[i].Name)] {
				cols[i].PrimaryKey = true
			}
		}
		tfks := fks[name]
		for i := range tfks {
			tfks[i].Nullable = columnNullable(cols, tfks[i].Column)
		}
		tables = append(tables, Table{Name: name, Columns: cols, ForeignKeys: tfks})
	}
	return New(engine, tables)
}

// informationSchemaQueries picks the column, primary-key and foreign-key
// queries for the engine. MySQL uses ? placeholders and keys on the PRIMARY
// constraint name; Postgres uses $1 and the standard constraint tables. The
// engine-specific text must be chosen before anything is sent to the driver.
func informationSchemaQueries(engine string) (colQuery, pkQuery, fkQuery string) {
	if engine == "mysql" {
		colQuery = `
SELECT table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = ?
ORDER BY table_name, ordinal_position`
		pkQuery = `
SELECT table_name, column_name
FROM information_schema.key_column_usage
WHERE table_schema = ? AND constraint_name = 'PRIMARY'`
		fkQuery = `
SELECT table_name, column_name, referenced_table_name, referenced_column_name
FROM information_schema.key_column_usage
WHERE table_schema = ? AND referenced_table_name IS NOT NULL`
		return colQuery, pkQuery, fkQuery
	}
	colQuery = `
SELECT table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = $1
ORDER BY table_name, ordinal_position`
	pkQuery = `
SELECT tc.table_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
WHERE tc.table_schema = $1 AND tc.constraint_type = 'PRIMARY KEY'`
	fkQuery = `
SELECT kcu.table_name, kcu.column_name, ccu.table_name, ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
WHERE tc.table_schema = $1 AND tc.constraint_type = 'FOREIGN KEY'`
	return colQuery, pkQuery, fkQuery
}

func columnNullable(cols []Column, name string) bool {
	lower := strings.ToLower(name)
	for _, c := range cols {
		if strings.ToLower(c.Name) == lower {
			return c.Nullable
		}
	}
	return false
}
