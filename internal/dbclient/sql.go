package dbclient

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"saasloader/internal/domain"
)

// SQLConnector is the shared implementation for MySQL, Postgres, Redshift and SQLite.
type SQLConnector struct {
	driver domain.DatabaseDriver
	db     *sql.DB

	mu         sync.Mutex
	activeRows *sql.Rows
	cancel     context.CancelFunc
	columns    []string
	fetched    int
}

// newSQLConnector opens a pooled connection.
func newSQLConnector(driver domain.DatabaseDriver, driverName, dsn string) (*SQLConnector, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	return &SQLConnector{driver: driver, db: db}, nil
}

// NewSQLConnector wraps an already opened database.
func NewSQLConnector(driver domain.DatabaseDriver, db *sql.DB) *SQLConnector {
	return &SQLConnector{driver: driver, db: db}
}

// DB exposes the pool for writers and credential tables.
func (c *SQLConnector) DB() *sql.DB { return c.db }

// Driver reports the warehouse flavour.
func (c *SQLConnector) Driver() domain.DatabaseDriver { return c.driver }

func (c *SQLConnector) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.db.PingContext(ctx)
}

// isReadQuery detects if a query is a read (SELECT, WITH, SHOW, DESCRIBE, EXPLAIN, PRAGMA).
func isReadQuery(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	for _, prefix := range []string{"SELECT", "WITH", "SHOW", "DESCRIBE", "EXPLAIN", "PRAGMA"} {
		if strings.HasPrefix(q, prefix) {
			return true
		}
	}
	return false
}

func (c *SQLConnector) Execute(ctx context.Context, query string, fetchSize int) (*QueryPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeCursorLocked()

	if fetchSize <= 0 {
		fetchSize = 500
	}

	if !isReadQuery(query) {
		result, err := c.db.ExecContext(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("exec: %w", err)
		}
		affected, _ := result.RowsAffected()
		return &QueryPage{IsWrite: true, AffectedRows: int(affected)}, nil
	}

	// The cursor outlives this call, so it gets its own cancelable context
	// derived from ctx rather than a per-call timeout.
	cursorCtx, cancel := context.WithCancel(ctx)
	rows, err := c.db.QueryContext(cursorCtx, query)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("query: %w", err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		cancel()
		return nil, fmt.Errorf("columns: %w", err)
	}

	c.activeRows = rows
	c.cancel = cancel
	c.columns = cols
	c.fetched = 0

	return c.fetchBatchLocked(fetchSize)
}

func (c *SQLConnector) FetchMore(ctx context.Context, fetchSize int) (*QueryPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeRows == nil {
		return nil, fmt.Errorf("no active cursor, execute a query first")
	}
	if fetchSize <= 0 {
		fetchSize = 500
	}
	return c.fetchBatchLocked(fetchSize)
}

// fetchBatchLocked reads up to fetchSize rows from the active cursor.
// Must be called while holding c.mu.
func (c *SQLConnector) fetchBatchLocked(fetchSize int) (*QueryPage, error) {
	var resultRows [][]any
	numCols := len(c.columns)

	for i := 0; i < fetchSize; i++ {
		if !c.activeRows.Next() {
			break
		}
		values := make([]any, numCols)
		ptrs := make([]any, numCols)
		for j := range values {
			ptrs[j] = &values[j]
		}
		if err := c.activeRows.Scan(ptrs...); err != nil {
			c.closeCursorLocked()
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for j, v := range values {
			values[j] = normalizeValue(v)
		}
		resultRows = append(resultRows, values)
	}

	c.fetched += len(resultRows)

	if err := c.activeRows.Err(); err != nil {
		c.closeCursorLocked()
		return nil, fmt.Errorf("iterate: %w", err)
	}

	hasMore := len(resultRows) == fetchSize
	if !hasMore {
		c.closeCursorLocked()
	}

	return &QueryPage{
		Columns:      c.columns,
		Rows:         resultRows,
		TotalFetched: c.fetched,
		HasMore:      hasMore,
	}, nil
}

// normalizeValue turns driver byte slices into strings; other values pass through.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// QueryRows runs a read query to completion and returns column names and rows.
func (c *SQLConnector) QueryRows(ctx context.Context, query string, args ...any) ([]string, [][]any, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("columns: %w", err)
	}
	var out [][]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for j := range values {
			ptrs[j] = &values[j]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		for j, v := range values {
			values[j] = normalizeValue(v)
		}
		out = append(out, values)
	}
	return cols, out, rows.Err()
}

// ExecScript runs a multi-statement SQL script. With autocommit each
// statement commits on its own; otherwise the script runs in one transaction.
func (c *SQLConnector) ExecScript(ctx context.Context, script string, autocommit bool) error {
	if strings.TrimSpace(script) == "" {
		return fmt.Errorf("empty sql script")
	}
	if autocommit {
		if _, err := c.db.ExecContext(ctx, script); err != nil {
			return fmt.Errorf("exec script: %w", err)
		}
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		tx.Rollback()
		return fmt.Errorf("exec script: %w", err)
	}
	return tx.Commit()
}

func (c *SQLConnector) Introspect(ctx context.Context) (*SchemaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if c.driver == domain.DatabaseDriverSQLite {
		return c.introspectSQLite(ctx)
	}
	return c.introspectInfoSchema(ctx)
}

// introspectInfoSchema works for MySQL, Postgres and Redshift via INFORMATION_SCHEMA.
func (c *SQLConnector) introspectInfoSchema(ctx context.Context) (*SchemaInfo, error) {
	schemaExpr := "CURRENT_SCHEMA()"
	if c.driver == domain.DatabaseDriverMySQL {
		schemaExpr = "DATABASE()"
	}
	_, tables, err := c.QueryRows(ctx,
		`SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		 WHERE TABLE_SCHEMA = `+schemaExpr+` ORDER BY TABLE_NAME`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	schema := &SchemaInfo{}
	colQuery := `SELECT COLUMN_NAME, DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS
		 WHERE TABLE_SCHEMA = ` + schemaExpr + ` AND TABLE_NAME = ` + c.driver.Placeholder(1) + `
		 ORDER BY ORDINAL_POSITION`
	for _, t := range tables {
		tbl := fmt.Sprint(t[0])
		_, cols, err := c.QueryRows(ctx, colQuery, tbl)
		if err != nil {
			schema.Tables = append(schema.Tables, TableInfo{Name: tbl})
			continue
		}
		info := TableInfo{Name: tbl}
		for _, col := range cols {
			info.Columns = append(info.Columns, ColumnInfo{Name: fmt.Sprint(col[0]), Type: fmt.Sprint(col[1])})
		}
		schema.Tables = append(schema.Tables, info)
	}
	return schema, nil
}

// introspectSQLite uses sqlite_master + PRAGMA table_info.
func (c *SQLConnector) introspectSQLite(ctx context.Context) (*SchemaInfo, error) {
	_, tables, err := c.QueryRows(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	schema := &SchemaInfo{}
	for _, t := range tables {
		tbl := fmt.Sprint(t[0])
		_, cols, err := c.QueryRows(ctx, `SELECT name, type FROM pragma_table_info(?)`, tbl)
		if err != nil {
			schema.Tables = append(schema.Tables, TableInfo{Name: tbl})
			continue
		}
		info := TableInfo{Name: tbl}
		for _, col := range cols {
			info.Columns = append(info.Columns, ColumnInfo{Name: fmt.Sprint(col[0]), Type: fmt.Sprint(col[1])})
		}
		schema.Tables = append(schema.Tables, info)
	}
	return schema, nil
}

func (c *SQLConnector) Close() error {
	c.mu.Lock()
	c.closeCursorLocked()
	c.mu.Unlock()
	return c.db.Close()
}

func (c *SQLConnector) closeCursorLocked() {
	if c.activeRows != nil {
		c.activeRows.Close()
		c.activeRows = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}
