package domain

import "strconv"

// DatabaseDriver represents the type of database engine.
type DatabaseDriver string

const (
	DatabaseDriverMySQL    DatabaseDriver = "mysql"
	DatabaseDriverPostgres DatabaseDriver = "postgres"
	DatabaseDriverRedshift DatabaseDriver = "redshift"
	DatabaseDriverMongoDB  DatabaseDriver = "mongodb"
	DatabaseDriverSQLite   DatabaseDriver = "sqlite"
)

// IsSQL reports whether the driver speaks SQL over database/sql.
func (d DatabaseDriver) IsSQL() bool {
	switch d {
	case DatabaseDriverMySQL, DatabaseDriverPostgres, DatabaseDriverRedshift, DatabaseDriverSQLite:
		return true
	}
	return false
}

// PostgresFamily reports whether the driver uses the Postgres wire protocol and
// dialect ($n placeholders, "create temp table ... (like ...)").
func (d DatabaseDriver) PostgresFamily() bool {
	return d == DatabaseDriverPostgres || d == DatabaseDriverRedshift
}

// Placeholder returns the bind placeholder for the n-th (1-based) parameter.
func (d DatabaseDriver) Placeholder(n int) string {
	if d.PostgresFamily() {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Connection holds everything needed to reach an external system: a
// warehouse, an object store or a SaaS API. Login and Password double as
// API key and secret for HTTP providers; provider specific values go in Extra.
// The password may be left empty in configuration and resolved from the
// SecretStore under the connection ID.
type Connection struct {
	ID       string            `yaml:"-" json:"id"`
	Type     string            `yaml:"type" json:"type"`
	Host     string            `yaml:"host" json:"host"` // hostname, base URL or file path (sqlite)
	Port     int               `yaml:"port" json:"port"`
	Database string            `yaml:"database" json:"database"`
	Schema   string            `yaml:"schema" json:"schema"`
	Login    string            `yaml:"login" json:"login"`
	Password string            `yaml:"password" json:"-"`
	SSLMode  string            `yaml:"ssl_mode" json:"sslMode"`
	Extra    map[string]string `yaml:"extra" json:"extra,omitempty"`
}

// Driver returns the database driver for SQL and Mongo connections.
func (c *Connection) Driver() DatabaseDriver {
	return DatabaseDriver(c.Type)
}

// ExtraValue returns an Extra entry, or def when it is missing or empty.
func (c *Connection) ExtraValue(key, def string) string {
	if v := c.Extra[key]; v != "" {
		return v
	}
	return def
}

// ConnectionResolver looks connections up by ID.
type ConnectionResolver interface {
	Connection(id string) (*Connection, error)
}
