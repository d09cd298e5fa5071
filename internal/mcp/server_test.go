package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"saasloader/internal/config"
	"saasloader/internal/dbclient"
	"saasloader/internal/domain"
	"saasloader/internal/operators"
	"saasloader/internal/service"
	"saasloader/internal/storage"
)

// ─── Fixtures ───

type stubOperator struct{ err error }

func (o stubOperator) Run(ctx context.Context, env *operators.Env) (*operators.Result, error) {
	if o.err != nil {
		return nil, o.err
	}
	return &operators.Result{RowsRead: 3, RowsWritten: 3, Tables: map[string]int{"crm.contacts": 3}}, nil
}

func init() {
	operators.Register("mcp_stub_ok", "test operator that always succeeds", func(map[string]any) (operators.Operator, error) {
		return stubOperator{}, nil
	})
	operators.Register("mcp_stub_fail", "test operator that always fails", func(map[string]any) (operators.Operator, error) {
		return stubOperator{err: errors.New("provider returned 503")}, nil
	})
}

type noResources struct{}

func (noResources) Warehouse(context.Context, string) (*dbclient.SQLConnector, error) {
	return nil, fmt.Errorf("no warehouse")
}
func (noResources) ObjectStore(context.Context, string) (operators.ObjectStore, error) {
	return nil, fmt.Errorf("no object store")
}
func (noResources) Mongo(context.Context, string) (*mongo.Database, error) {
	return nil, fmt.Errorf("no mongo")
}
func (noResources) Lambda(context.Context, string, string) (operators.FunctionInvoker, error) {
	return nil, fmt.Errorf("no lambda")
}
func (noResources) Snapshots(context.Context, string) (operators.SnapshotManager, error) {
	return nil, fmt.Errorf("no snapshots")
}
func (noResources) Close() error { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestServerWith(t, map[string]*domain.Connection{})
}

func newTestServerWith(t *testing.T, conns map[string]*domain.Connection) *Server {
	t.Helper()
	db, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		Connections: conns,
		Tasks: []config.Task{
			{ID: "contacts", Operator: "mcp_stub_ok", Schedule: "0 * * * *"},
			{ID: "webinars", Operator: "mcp_stub_fail"},
		},
	}
	svc := service.NewTaskService(service.Options{
		Config:    cfg,
		Store:     storage.NewTaskStore(db),
		Emitter:   &service.MockEmitter{},
		Logger:    logger,
		Resources: func() service.RunResources { return noResources{} },
	})
	return New(Deps{Tasks: svc, Logger: logger, Version: "test"})
}

func makeCallToolRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content in result")
	return ""
}

// ─── Tools ───

func TestListTasksTool(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleListTasks(ctx, makeCallToolRequest(nil))
	require.NoError(t, err)

	var tasks []map[string]any
	require.NoError(t, json.Unmarshal([]byte(extractText(t, res)), &tasks))
	require.Len(t, tasks, 2)
	assert.Equal(t, "contacts", tasks[0]["id"])
	assert.Equal(t, "0 * * * *", tasks[0]["schedule"])
	assert.Equal(t, "webinars", tasks[1]["id"])
}

func TestRunTaskToolSuccess(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleRunTask(ctx, makeCallToolRequest(map[string]any{"taskId": "contacts"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var run domain.TaskRun
	require.NoError(t, json.Unmarshal([]byte(extractText(t, res)), &run))
	assert.Equal(t, domain.StatusSuccess, run.Status)
	assert.Equal(t, service.TriggerMCP, run.Trigger)
	assert.Equal(t, 3, run.Tables["crm.contacts"])
}

func TestRunTaskToolFailureCarriesRun(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleRunTask(ctx, makeCallToolRequest(map[string]any{"taskId": "webinars"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	var run domain.TaskRun
	require.NoError(t, json.Unmarshal([]byte(extractText(t, res)), &run))
	assert.Equal(t, domain.StatusError, run.Status)
	assert.Contains(t, run.Error, "provider returned 503")
}

func TestRunTaskToolRejectsBadInput(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleRunTask(ctx, makeCallToolRequest(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, extractText(t, res), "taskId is required")

	res, err = s.handleRunTask(ctx, makeCallToolRequest(map[string]any{"taskId": "nope"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, extractText(t, res), "task not found: nope")
}

func TestListRunsTool(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	for range 3 {
		_, err := s.handleRunTask(ctx, makeCallToolRequest(map[string]any{"taskId": "contacts"}))
		require.NoError(t, err)
	}
	_, err := s.handleRunTask(ctx, makeCallToolRequest(map[string]any{"taskId": "webinars"}))
	require.NoError(t, err)

	res, err := s.handleListRuns(ctx, makeCallToolRequest(map[string]any{"taskId": "contacts", "limit": float64(2)}))
	require.NoError(t, err)
	var runs []domain.TaskRun
	require.NoError(t, json.Unmarshal([]byte(extractText(t, res)), &runs))
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, "contacts", r.TaskID)
	}

	res, err = s.handleListRuns(ctx, makeCallToolRequest(nil))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(extractText(t, res)), &runs))
	assert.Len(t, runs, 4)

	res, err = s.handleListRuns(ctx, makeCallToolRequest(map[string]any{"taskId": "nope"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestListOperatorsAndSourcesTools(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleListOperators(ctx, makeCallToolRequest(nil))
	require.NoError(t, err)
	var ops []operators.Info
	require.NoError(t, json.Unmarshal([]byte(extractText(t, res)), &ops))
	types := make([]string, len(ops))
	for i, o := range ops {
		types[i] = o.Type
	}
	assert.Contains(t, types, "sync")
	assert.Contains(t, types, "salesforce_upsert")
	assert.Contains(t, types, "mcp_stub_ok")

	res, err = s.handleListSources(ctx, makeCallToolRequest(nil))
	require.NoError(t, err)
	text := extractText(t, res)
	assert.Contains(t, text, `"csv_file"`)
	assert.Contains(t, text, `"warehouse_query"`)
}

// ─── Resources ───

func TestTasksResource(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.handleRunTask(ctx, makeCallToolRequest(map[string]any{"taskId": "webinars"}))
	require.NoError(t, err)

	req := mcp.ReadResourceRequest{}
	req.Params.URI = tasksURI
	contents, err := s.handleTasksResource(ctx, req)
	require.NoError(t, err)
	require.Len(t, contents, 1)

	tc, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	var tasks []taskSummary
	require.NoError(t, json.Unmarshal([]byte(tc.Text), &tasks))
	require.Len(t, tasks, 2)
	assert.Equal(t, domain.StatusError, tasks[1].LastStatus)
	assert.Contains(t, tasks[1].LastError, "503")
}

func TestTaskRunsResource(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.handleRunTask(ctx, makeCallToolRequest(map[string]any{"taskId": "contacts"}))
	require.NoError(t, err)

	req := mcp.ReadResourceRequest{}
	req.Params.URI = "saasloader://task/contacts/runs"
	contents, err := s.handleTaskRunsResource(ctx, req)
	require.NoError(t, err)
	tc := contents[0].(mcp.TextResourceContents)
	assert.Equal(t, req.Params.URI, tc.URI)
	assert.Contains(t, tc.Text, `"taskId": "contacts"`)

	req.Params.URI = "saasloader://task//runs"
	_, err = s.handleTaskRunsResource(ctx, req)
	assert.Error(t, err)
}

func TestTaskIDFromURI(t *testing.T) {
	assert.Equal(t, "contacts", taskIDFromURI("saasloader://task/contacts/runs"))
	assert.Equal(t, "", taskIDFromURI("saasloader://task/contacts"))
	assert.Equal(t, "", taskIDFromURI("notes://task/contacts/runs"))
	assert.Equal(t, "", taskIDFromURI("saasloader://task/a/b/runs"))
}

// ─── Prompts ───

func TestDiagnosePrompt(t *testing.T) {
	s := newTestServer(t)

	req := mcp.GetPromptRequest{}
	req.Params.Arguments = map[string]string{"taskId": "webinars"}
	res, err := s.handleDiagnosePrompt(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, mcp.RoleUser, res.Messages[0].Role)
	text := res.Messages[0].Content.(mcp.TextContent).Text
	assert.Contains(t, text, `list_runs with taskId "webinars"`)
}
