package dbclient

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saasloader/internal/domain"
)

// ─────────────────────────────────────────────────────────────
// DSN builders
// ─────────────────────────────────────────────────────────────

func TestBuildPostgresDSN_RedshiftDefaults(t *testing.T) {
	dsn := buildPostgresDSN(&domain.Connection{Type: "redshift", Host: "wh", Login: "u", Password: "p w", Database: "dw"})
	assert.Equal(t, `host=wh port=5439 user=u password='p w' dbname=dw sslmode=require`, dsn)

	dsn = buildPostgresDSN(&domain.Connection{Type: "postgres", Host: "db", Login: "u", Password: "p", Database: "x"})
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=x sslmode=disable", dsn)
}

func TestBuildMySQLDSN(t *testing.T) {
	dsn := buildMySQLDSN(&domain.Connection{Type: "mysql", Host: "h", Login: "u", Password: "p", Database: "d", SSLMode: "require"})
	assert.Equal(t, "u:p@tcp(h:3306)/d?parseTime=true&charset=utf8mb4&multiStatements=true&tls=true", dsn)
}

func TestBuildMongoURI(t *testing.T) {
	uri, db := BuildMongoURI(&domain.Connection{Host: "mongodb+srv://u:<password>@cluster.example.net/app?retryWrites=true", Password: "s3"})
	assert.Equal(t, "mongodb+srv://u:s3@cluster.example.net/app?retryWrites=true", uri)
	assert.Equal(t, "app", db)

	uri, db = BuildMongoURI(&domain.Connection{Host: "localhost", Login: "u", Password: "p", Database: "loader",
		Extra: map[string]string{"replicaSet": "rs0", "authSource": "admin"}})
	assert.Equal(t, "mongodb://u:p@localhost:27017/?authSource=admin&replicaSet=rs0", uri)
	assert.Equal(t, "loader", db)

	_, db = BuildMongoURI(&domain.Connection{Host: "mongodb://localhost"})
	assert.Equal(t, "test", db)
}

// ─────────────────────────────────────────────────────────────
// SQLConnector on SQLite
// ─────────────────────────────────────────────────────────────

func openSQLite(t *testing.T) *SQLConnector {
	t.Helper()
	c, err := OpenSQL(&domain.Connection{Type: "sqlite", Host: filepath.Join(t.TempDir(), "w.db")})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSQLConnector_ExecuteAndFetchMore(t *testing.T) {
	c := openSQLite(t)
	ctx := context.Background()

	require.NoError(t, c.ExecScript(ctx, `
		CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT);
		INSERT INTO t (name) VALUES ('a'), ('b'), ('c');
	`, false))

	page, err := c.Execute(ctx, "SELECT id, name FROM t ORDER BY id", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, page.Columns)
	assert.Len(t, page.Rows, 2)
	assert.True(t, page.HasMore)

	page, err = c.FetchMore(ctx, 2)
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, "c", page.Rows[0][1])
	assert.False(t, page.HasMore)
	assert.Equal(t, 3, page.TotalFetched)

	_, err = c.FetchMore(ctx, 2)
	assert.Error(t, err)
}

func TestSQLConnector_Write(t *testing.T) {
	c := openSQLite(t)
	ctx := context.Background()
	require.NoError(t, c.ExecScript(ctx, `CREATE TABLE t (id INTEGER)`, true))

	page, err := c.Execute(ctx, "INSERT INTO t VALUES (1), (2)", 0)
	require.NoError(t, err)
	assert.True(t, page.IsWrite)
	assert.Equal(t, 2, page.AffectedRows)
}

func TestSQLConnector_ExecScriptRollsBack(t *testing.T) {
	c := openSQLite(t)
	ctx := context.Background()
	require.NoError(t, c.ExecScript(ctx, `CREATE TABLE t (id INTEGER)`, true))

	err := c.ExecScript(ctx, `INSERT INTO t VALUES (1); INSERT INTO missing VALUES (2);`, false)
	require.Error(t, err)

	_, rows, err := c.QueryRows(ctx, `SELECT count(*) FROM t`)
	require.NoError(t, err)
	assert.EqualValues(t, 0, rows[0][0])
}

func TestSQLConnector_Introspect(t *testing.T) {
	c := openSQLite(t)
	ctx := context.Background()
	require.NoError(t, c.ExecScript(ctx, `CREATE TABLE people (id TEXT, age INTEGER)`, true))

	info, err := c.Introspect(ctx)
	require.NoError(t, err)
	require.Len(t, info.Tables, 1)
	assert.Equal(t, "people", info.Tables[0].Name)
	assert.Equal(t, []ColumnInfo{{Name: "id", Type: "TEXT"}, {Name: "age", Type: "INTEGER"}}, info.Tables[0].Columns)
}

func TestOpenSQL_Unsupported(t *testing.T) {
	_, err := OpenSQL(&domain.Connection{Type: "oracle"})
	assert.Error(t, err)
}
