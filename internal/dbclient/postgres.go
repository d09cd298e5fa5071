package dbclient

import (
	"fmt"

	"saasloader/internal/domain"

	_ "github.com/lib/pq"
)

// buildPostgresDSN constructs a Postgres connection string. Redshift speaks
// the same protocol on port 5439 and requires TLS.
func buildPostgresDSN(conn *domain.Connection) string {
	port := conn.Port
	sslMode := conn.SSLMode
	if port == 0 {
		port = 5432
		if conn.Driver() == domain.DatabaseDriverRedshift {
			port = 5439
		}
	}
	if sslMode == "" {
		sslMode = "disable"
		if conn.Driver() == domain.DatabaseDriverRedshift {
			sslMode = "require"
		}
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		conn.Host, port, conn.Login, quoteDSNValue(conn.Password), conn.Database, sslMode,
	)
}

// quoteDSNValue quotes a keyword/value DSN value when it contains spaces or quotes.
func quoteDSNValue(v string) string {
	for _, r := range v {
		if r == ' ' || r == '\'' || r == '\\' {
			out := []rune{'\''}
			for _, c := range v {
				if c == '\'' || c == '\\' {
					out = append(out, '\\')
				}
				out = append(out, c)
			}
			return string(append(out, '\''))
		}
	}
	return v
}
