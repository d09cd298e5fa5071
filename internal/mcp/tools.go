package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"saasloader/internal/etl"
	"saasloader/internal/operators"
	"saasloader/internal/service"
)

func boolPtr(b bool) *bool { return &b }

func (s *Server) registerTaskTools() {
	s.mcp.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List configured tasks with their operator, schedule and last run status"),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleListTasks)

	s.mcp.AddTool(mcp.NewTool("run_task",
		mcp.WithDescription("Run a configured task now and wait for it to finish. Writes to the warehouse or to the SaaS provider the task targets."),
		mcp.WithString("taskId", mcp.Description("Task id from list_tasks"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleRunTask)

	s.mcp.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("Show recent runs, newest first. Omit taskId to see runs of every task."),
		mcp.WithString("taskId", mcp.Description("Task id (optional)")),
		mcp.WithNumber("limit", mcp.Description("Maximum runs to return (default 20)")),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleListRuns)

	s.mcp.AddTool(mcp.NewTool("list_operators",
		mcp.WithDescription("List the operator types a task can use"),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleListOperators)

	s.mcp.AddTool(mcp.NewTool("list_sources",
		mcp.WithDescription("List the source types of the generic sync operator with their configuration fields"),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleListSources)

	s.mcp.AddTool(mcp.NewTool("test_connection",
		mcp.WithDescription("Open a database connection from the config and ping it"),
		mcp.WithString("connectionId", mcp.Description("Connection id from the config"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleTestConnection)

	s.mcp.AddTool(mcp.NewTool("describe_connection",
		mcp.WithDescription("List the tables and columns visible to a database connection"),
		mcp.WithString("connectionId", mcp.Description("Connection id from the config"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleDescribeConnection)

	s.mcp.AddTool(mcp.NewTool("preview_source",
		mcp.WithDescription("Read the first records of a sync source without loading them. Use it to check a source config before adding a sync task."),
		mcp.WithString("sourceType", mcp.Description("Source type from list_sources"), mcp.Required()),
		mcp.WithObject("source", mcp.Description("Source configuration, as in the sync task's source param"), mcp.Required()),
		mcp.WithNumber("limit", mcp.Description("Maximum records (default 10)")),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handlePreviewSource)
}

func (s *Server) handleListTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tasks, err := s.tasks.ListTasks()
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return jsonResult(tasks)
}

func (s *Server) handleRunTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := req.GetString("taskId", "")
	if taskID == "" {
		return mcp.NewToolResultError("taskId is required"), nil
	}

	run, err := s.tasks.RunTask(ctx, taskID, service.TriggerMCP)
	switch {
	case errors.Is(err, service.ErrAlreadyRunning):
		return mcp.NewToolResultError(fmt.Sprintf("task %s is already running; try again when it finishes", taskID)), nil
	case err != nil && run == nil:
		return mcp.NewToolResultError(err.Error()), nil
	case err != nil:
		res, jerr := jsonResult(run)
		if jerr != nil {
			return nil, jerr
		}
		res.IsError = true
		return res, nil
	}
	return jsonResult(run)
}

func (s *Server) handleListRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runs, err := s.tasks.ListRuns(req.GetString("taskId", ""), req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(runs)
}

func (s *Server) handleListOperators(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(operators.List())
}

func (s *Server) handleListSources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(etl.ListSources())
}

func (s *Server) handleTestConnection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("connectionId", "")
	if id == "" {
		return mcp.NewToolResultError("connectionId is required"), nil
	}
	if err := s.tasks.TestConnection(ctx, id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResult(fmt.Sprintf("connection %s is reachable", id)), nil
}

func (s *Server) handleDescribeConnection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("connectionId", "")
	if id == "" {
		return mcp.NewToolResultError("connectionId is required"), nil
	}
	schema, err := s.tasks.DescribeConnection(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(schema)
}

func (s *Server) handlePreviewSource(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sourceType := req.GetString("sourceType", "")
	if sourceType == "" {
		return mcp.NewToolResultError("sourceType is required"), nil
	}
	cfg, _ := req.GetArguments()["source"].(map[string]any)
	if cfg == nil {
		return mcp.NewToolResultError("source must be an object"), nil
	}
	preview, err := s.tasks.PreviewSource(ctx, sourceType, etl.SourceConfig(cfg), req.GetInt("limit", 10))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(preview)
}
