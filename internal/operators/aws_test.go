package operators_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saasloader/internal/cloud"
	"saasloader/internal/operators"
)

// ─── S3 query → Lambda ──────────────────────────────────────

func TestS3QueryToLambda(t *testing.T) {
	h := newHarness(t,
		`CREATE TABLE scores (id INTEGER, name TEXT, score REAL)`,
		`INSERT INTO scores VALUES (1, 'ada', 9e999), (2, 'grace', 2.5)`,
	)
	h.store.objects["sql/score.sql"] = []byte(`SELECT id, name, score FROM scores ORDER BY id`)
	h.lambda.respond = func(payload []byte) ([]byte, error) {
		var in struct {
			Input [][]any `json:"input"`
		}
		if err := json.Unmarshal(payload, &in); err != nil {
			return nil, err
		}
		return []byte(`[{"name":"ada","rank":1,"note":null},{"rank":2,"name":"grace|hopper","extra":true}]`), nil
	}

	res := h.run(t, "s3_query_to_lambda", map[string]any{
		"query_s3_bucket": "sql",
		"query_s3_key":    "score.sql",
		"dest_s3_bucket":  "out",
		"dest_s3_key":     "ranked.csv",
		"function_name":   "ranker",
		"aws_region":      "eu-west-1",
	})

	assert.Equal(t, []string{"ranker"}, h.lambda.calls)
	assert.Equal(t, "eu-west-1", h.lambda.region)
	assert.JSONEq(t, `{"input":[[1,"ada",0],[2,"grace",2.5]]}`, string(h.lambda.payload))
	assert.Equal(t, "name|rank|note\nada|1|\n\"grace|hopper\"|2|\n", string(h.store.objects["out/ranked.csv"]))
	assert.Equal(t, 2, res.RowsRead)
	assert.Equal(t, map[string]int{"s3://out/ranked.csv": 2}, res.Tables)
}

func TestS3QueryToLambdaEmptyAnswer(t *testing.T) {
	h := newHarness(t, `CREATE TABLE scores (id INTEGER)`)
	h.store.objects["sql/score.sql"] = []byte(`SELECT id FROM scores`)

	res := h.run(t, "s3_query_to_lambda", map[string]any{
		"query_s3_bucket": "sql", "query_s3_key": "score.sql",
		"dest_s3_bucket": "out", "dest_s3_key": "ranked.csv",
		"function_name": "ranker",
	})

	assert.JSONEq(t, `{"input":[]}`, string(h.lambda.payload))
	assert.Empty(t, h.store.objects["out/ranked.csv"])
	assert.Equal(t, 0, res.RowsWritten)
}

func TestS3QueryToLambdaFailures(t *testing.T) {
	h := newHarness(t, `CREATE TABLE scores (id INTEGER)`)
	h.store.objects["sql/score.sql"] = []byte(`SELECT id FROM scores`)
	params := map[string]any{
		"query_s3_bucket": "sql", "query_s3_key": "score.sql",
		"dest_s3_bucket": "out", "dest_s3_key": "ranked.csv",
		"function_name": "ranker",
	}
	op, err := operators.New("s3_query_to_lambda", params)
	require.NoError(t, err)

	h.lambda.respond = func([]byte) ([]byte, error) { return nil, errors.New("function error Unhandled") }
	_, err = op.Run(context.Background(), h.env)
	assert.ErrorContains(t, err, "Unhandled")

	h.lambda.respond = func([]byte) ([]byte, error) { return []byte(`{"not":"a list"}`), nil }
	_, err = op.Run(context.Background(), h.env)
	assert.ErrorContains(t, err, "not a JSON array")

	h.lambda.respond = func([]byte) ([]byte, error) { return []byte(`[1, 2]`), nil }
	_, err = op.Run(context.Background(), h.env)
	assert.ErrorContains(t, err, "expected an object")
	assert.NotContains(t, h.store.objects, "out/ranked.csv")
}

// ─── Redshift snapshots ─────────────────────────────────────

func TestRedshiftSnapshotCreate(t *testing.T) {
	h := newHarness(t)
	res := h.run(t, "redshift_snapshot", map[string]any{
		"cluster_identifier": "main",
		"tags":               map[string]any{"team": "data"},
	})

	require.Len(t, h.snapshots.created, 1)
	assert.Equal(t, "main-20240131-120000", h.snapshots.created[0].ID)
	assert.Equal(t, "main", h.snapshots.created[0].Cluster)
	assert.Equal(t, map[string]string{"team": "data"}, h.snapshots.tags)
	assert.Equal(t, 1, res.RowsWritten)

	h.run(t, "redshift_snapshot", map[string]any{
		"cluster_identifier":  "main",
		"snapshot_identifier": "before-migration",
	})
	assert.Equal(t, "before-migration", h.snapshots.created[1].ID)
}

func TestRedshiftSnapshotDelete(t *testing.T) {
	h := newHarness(t)
	h.snapshots.deletes = []string{"old-1", "old-2"}

	res := h.run(t, "redshift_snapshot", map[string]any{
		"action":             "delete",
		"cluster_identifier": "main",
		"start_time":         "2023-12-01",
		"retention_days":     7,
	})

	assert.Equal(t, cloud.SnapshotFilter{
		Cluster: "main",
		Type:    "manual",
		Start:   time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC),
		End:     time.Date(2024, 1, 24, 12, 0, 0, 0, time.UTC),
	}, h.snapshots.filter)
	assert.Equal(t, 2, res.RowsRead)

	h.run(t, "redshift_snapshot", map[string]any{
		"action":             "delete",
		"cluster_identifier": "main",
		"snapshot_type":      "automated",
		"end_time":           "2024-01-10T00:00:00Z",
		"retention_days":     7,
	})
	assert.Equal(t, "automated", h.snapshots.filter.Type)
	assert.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), h.snapshots.filter.End)
}

func TestRedshiftSnapshotValidates(t *testing.T) {
	for name, params := range map[string]map[string]any{
		"no cluster": {},
		"bad action": {"cluster_identifier": "main", "action": "resize"},
		"unbounded":  {"cluster_identifier": "main", "action": "delete"},
		"bad start":  {"cluster_identifier": "main", "action": "delete", "start_time": "yesterday", "retention_days": 1},
		"negative":   {"cluster_identifier": "main", "action": "delete", "retention_days": -1},
	} {
		_, err := operators.New("redshift_snapshot", params)
		assert.Error(t, err, name)
	}
}
