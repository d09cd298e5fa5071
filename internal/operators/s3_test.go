package operators_test

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saasloader/internal/operators"
)

// ─── S3 script ──────────────────────────────────────────────

func TestS3QueryToWarehouse(t *testing.T) {
	h := newHarness(t, `CREATE TABLE audit (step TEXT)`)
	h.store.objects["sql/nightly.sql"] = []byte(
		"INSERT INTO audit VALUES ('one');\nINSERT INTO audit VALUES ('two');")

	for _, autocommit := range []bool{true, false} {
		h.run(t, "s3_query_to_warehouse", map[string]any{
			"s3_bucket":    "sql",
			"s3_key":       "nightly.sql",
			"process_name": "nightly",
			"autocommit":   autocommit,
		})
	}
	assert.Len(t, h.rows(t, `SELECT step FROM audit`), 4)
}

func TestS3QueryToWarehouseMissingKey(t *testing.T) {
	h := newHarness(t)
	op, err := operators.New("s3_query_to_warehouse", map[string]any{"s3_bucket": "sql", "s3_key": "gone.sql"})
	require.NoError(t, err)
	_, err = op.Run(context.Background(), h.env)
	assert.ErrorContains(t, err, "not found")
}

// ─── S3 file upsert ─────────────────────────────────────────

func TestUpsertS3FileToWarehouse(t *testing.T) {
	h := newHarness(t,
		`CREATE TABLE people (id TEXT, name TEXT, note TEXT)`,
		`INSERT INTO people VALUES ('1', 'old', NULL), ('9', 'keep', NULL)`,
	)
	h.store.objects["drop/people.psv"] = []byte("id|name|note\n1|O'Neil|\n2|Bo|vip\n")

	res := h.run(t, "upsert_s3_file_to_warehouse", map[string]any{
		"s3_bucket":      "drop",
		"s3_key":         "people.psv",
		"file_delimiter": "|",
		"target_table":   "people",
		"primary_key":    "id",
	})

	assert.Equal(t, 2, res.RowsRead)
	assert.Equal(t, map[string]int{"people": 2}, res.Tables)
	assert.Equal(t, [][]string{
		{"1", "ONeil", ""},
		{"2", "Bo", "vip"},
		{"9", "keep", ""},
	}, h.rows(t, `SELECT id, name, note FROM people ORDER BY id`))
}

func TestUpsertS3FileMatchesColumnsByPosition(t *testing.T) {
	h := newHarness(t, `CREATE TABLE people (id TEXT, name TEXT)`)
	h.store.objects["drop/export.csv"] = []byte("Customer ID,Full Name\n7,Grace Hopper\n")

	res := h.run(t, "upsert_s3_file_to_warehouse", map[string]any{
		"s3_bucket":    "drop",
		"s3_key":       "export.csv",
		"target_table": "people",
		"primary_key":  "id",
	})

	assert.Equal(t, 1, res.RowsWritten)
	assert.Equal(t, [][]string{{"7", "Grace Hopper"}}, h.rows(t, `SELECT id, name FROM people`))
}

func TestParseDelimited(t *testing.T) {
	batch, err := operators.ParseDelimited([]byte("a,b\n1,x\n2\n"), ',')
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, batch.Columns)
	require.Equal(t, 2, batch.Len())
	assert.Equal(t, []any{"1", "x"}, batch.Row(0))
	assert.Equal(t, []any{"2", nil}, batch.Row(1))

	dup, err := operators.ParseDelimited([]byte("x,x,y\n1,2,3\n"), ',')
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "x_2", "y"}, dup.Columns)
	assert.Equal(t, []any{"1", "2", "3"}, dup.Row(0))

	_, err = operators.ParseDelimited(nil, ',')
	assert.ErrorContains(t, err, "empty")
}

// ─── UNLOAD ─────────────────────────────────────────────────

func TestUnloadStatementWithCredentials(t *testing.T) {
	stmt := operators.UnloadStatement(operators.Unload{
		Query:       "select * from t where s = 'x'",
		Bucket:      "exports",
		Key:         "daily/users_query_",
		Credentials: aws.Credentials{AccessKeyID: "AK", SecretAccessKey: "SK", SessionToken: "TOK"},
		Options:     []string{"DELIMITER ','", "PARALLEL OFF"},
	})
	assert.Equal(t, "UNLOAD ('select * from t where s = \\'x\\'')\n"+
		"TO 's3://exports/daily/users_query_'\n"+
		"with credentials\n'aws_access_key_id=AK;aws_secret_access_key=SK;token=TOK'\n"+
		"DELIMITER ','\nPARALLEL OFF;", stmt)
}

func TestUnloadStatementWithRole(t *testing.T) {
	stmt := operators.UnloadStatement(operators.Unload{
		Query: "select 1", Bucket: "b", Key: "k_header_", IAMRole: "arn:aws:iam::1:role/unload",
	})
	assert.Contains(t, stmt, "iam_role 'arn:aws:iam::1:role/unload'")
	assert.NotContains(t, stmt, "aws_access_key_id")
}

func TestParallelOffAddedOnce(t *testing.T) {
	assert.Equal(t, []string{"GZIP", "PARALLEL OFF"}, operators.WithParallelOff([]string{"GZIP"}))
	assert.Equal(t, []string{" parallel  off "}, operators.WithParallelOff([]string{" parallel  off "}))
}

func TestHeaderQuery(t *testing.T) {
	assert.Equal(t, "select 'id', 'full name'", operators.HeaderQuery([]string{"id", "full name"}))
}

func TestUnloadRejectsNonRedshiftWarehouse(t *testing.T) {
	h := newHarness(t)
	h.store.objects["sql/export.sql"] = []byte("select 1")
	op, err := operators.New("warehouse_to_s3_unload", map[string]any{
		"query_s3_bucket": "sql",
		"query_s3_key":    "export.sql",
		"dest_s3_bucket":  "exports",
		"dest_s3_key":     "daily/users",
		"headers":         []any{"id"},
	})
	require.NoError(t, err)
	_, err = op.Run(context.Background(), h.env)
	assert.ErrorContains(t, err, "redshift")
}

// ─── Email ──────────────────────────────────────────────────

func TestEmailS3File(t *testing.T) {
	h := newHarness(t)
	h.store.objects["exports/daily/users_query_0000"] = []byte("1,a\n")
	h.store.objects["exports/daily/users_query_0001"] = []byte("2,b\n")
	h.store.objects["exports/daily/users_header_0000"] = []byte("id,name\n")
	h.store.objects["exports/other/x"] = []byte("ignored")

	res := h.run(t, "email_s3_file", map[string]any{
		"s3_bucket":    "exports",
		"s3_key":       "daily/users",
		"filename":     "users",
		"to":           "a@example.com; b@example.com",
		"cc":           []any{"c@example.com"},
		"subject":      "Daily users",
		"html_content": "<p>attached</p>",
	})
	assert.Equal(t, 3, res.RowsRead)

	require.Len(t, h.mailer.sent, 1)
	msg := h.mailer.sent[0]
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, msg.To)
	assert.Equal(t, []string{"c@example.com"}, msg.Cc)
	assert.Equal(t, "Daily users", msg.Subject)
	assert.Equal(t, "mixed", msg.Subtype)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "users.csv", msg.Attachments[0].Filename)
	assert.Equal(t, "text/plain", msg.Attachments[0].ContentType)
	assert.Equal(t, "id,name\n1,a\n2,b\n", string(msg.Attachments[0].Content))
}
