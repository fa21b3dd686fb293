// Package dbexec runs sandbox-approved statements against the configured
// database and flattens the rows into display form.
package dbexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// driverNames maps the configured engine to the registered driver.
var driverNames = map[string]string{
	"sqlite":   "sqlite",
	"mysql":    "mysql",
	"postgres": "pgx",
}

// Result is a fully materialized query result. NULLs render as the literal
// string "NULL" so the display layer needs no nullability handling.
type Result struct {
	Columns []string      `json:"columns"`
	Rows    [][]string    `json:"rows"`
	Elapsed time.Duration `json:"elapsed"`
}

func (r *Result) RowCount() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

type Executor struct {
	db     *sql.DB
	engine string
	logger *slog.Logger
}

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, engine, dsn string, logger *slog.Logger) (*Executor, error) {
	engine = strings.ToLower(strings.TrimSpace(engine))
	driver, ok := driverNames[engine]
	if !ok {
		return nil, fmt.Errorf("unsupported database engine %q", engine)
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("missing database dsn")
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", engine, err)
	}
	if engine == "sqlite" {
		// modernc.org/sqlite serializes writes; one connection avoids
		// SQLITE_BUSY under concurrent readers.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database: %w", engine, err)
	}
	return &Executor{db: db, engine: engine, logger: logger}, nil
}

func (e *Executor) Engine() string {
	if e == nil {
		return ""
	}
	return e.engine
}

// DB exposes the underlying handle for schema introspection.
func (e *Executor) DB() *sql.DB {
	if e == nil {
		return nil
	}
	return e.db
}

func (e *Executor) Close() error {
	if e == nil || e.db == nil {
		return nil
	}
	return e.db.Close()
}

// Execute runs one statement within the given budget. Callers pass the
// normalized SQL the sandbox produced; nothing else should reach here.
func (e *Executor) Execute(ctx context.Context, query string, budget time.Duration) (*Result, error) {
	if e == nil || e.db == nil {
		return nil, errors.New("executor not open")
	}
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("empty query")
	}
	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	start := time.Now()
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	out := &Result{Columns: cols}
	for rows.Next() {
		values := make([]*sql.NullString, len(cols))
		scan := make([]any, len(cols))
		for i := range values {
			values[i] = new(sql.NullString)
			scan[i] = values[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make([]string, len(cols))
		for i, v := range values {
			if v.Valid {
				row[i] = v.String
			} else {
				row[i] = "NULL"
			}
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	out.Elapsed = time.Since(start)

	e.logger.Debug("query executed", "rows", len(out.Rows), "elapsed", out.Elapsed)
	return out, nil
}
