package dbclient

import (
	"context"
	"fmt"

	"saasloader/internal/domain"
)

// QueryPage is a batch of rows fetched from a query cursor.
type QueryPage struct {
	Columns      []string `json:"columns"`
	Rows         [][]any  `json:"rows"`
	TotalFetched int      `json:"totalFetched"` // total rows fetched so far
	HasMore      bool     `json:"hasMore"`      // cursor has more rows
	IsWrite      bool     `json:"isWrite"`
	AffectedRows int      `json:"affectedRows"`
}

// SchemaInfo describes the tables visible to a connection.
type SchemaInfo struct {
	Tables []TableInfo `json:"tables"`
}

// TableInfo describes a table/collection.
type TableInfo struct {
	Name    string       `json:"name"`
	Columns []ColumnInfo `json:"columns"`
}

// ColumnInfo describes a column/field.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Connector abstracts interaction with an external database.
type Connector interface {
	// TestConnection verifies connectivity.
	TestConnection(ctx context.Context) error

	// Execute runs a query and returns the first batch of rows.
	// For reads: opens a cursor and fetches fetchSize rows.
	// For writes: executes and returns affected rows count.
	Execute(ctx context.Context, query string, fetchSize int) (*QueryPage, error)

	// FetchMore continues reading from the open cursor.
	FetchMore(ctx context.Context, fetchSize int) (*QueryPage, error)

	// Introspect returns the tables and columns of the database.
	Introspect(ctx context.Context) (*SchemaInfo, error)

	// Close closes the connection and any open cursors.
	Close() error
}

// NewConnector creates a Connector for the given connection.
func NewConnector(ctx context.Context, conn *domain.Connection) (Connector, error) {
	if conn.Driver() == domain.DatabaseDriverMongoDB {
		return newMongoConnector(ctx, conn)
	}
	return OpenSQL(conn)
}

// OpenSQL opens a SQL warehouse connection.
func OpenSQL(conn *domain.Connection) (*SQLConnector, error) {
	switch conn.Driver() {
	case domain.DatabaseDriverSQLite:
		return newSQLiteConnector(conn)
	case domain.DatabaseDriverMySQL:
		return newSQLConnector(conn.Driver(), "mysql", buildMySQLDSN(conn))
	case domain.DatabaseDriverPostgres, domain.DatabaseDriverRedshift:
		return newSQLConnector(conn.Driver(), "postgres", buildPostgresDSN(conn))
	default:
		return nil, fmt.Errorf("unsupported driver: %s", conn.Type)
	}
}
