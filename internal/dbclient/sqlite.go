package dbclient

import (
	"saasloader/internal/domain"

	_ "modernc.org/sqlite"
)

// newSQLiteConnector opens a SQLite file in WAL mode with a busy timeout.
func newSQLiteConnector(conn *domain.Connection) (*SQLConnector, error) {
	dsn := conn.Host + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	return newSQLConnector(domain.DatabaseDriverSQLite, "sqlite", dsn)
}
