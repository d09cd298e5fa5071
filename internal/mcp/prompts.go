package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("diagnose_task",
		mcp.WithPromptDescription("Investigate why a task failed using its run history"),
		mcp.WithArgument("taskId",
			mcp.ArgumentDescription("Task id to investigate"),
			mcp.RequiredArgument(),
		),
	), s.handleDiagnosePrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("add_sync_task",
		mcp.WithPromptDescription("Draft a sync task that copies a source into a warehouse table"),
		mcp.WithArgument("sourceType",
			mcp.ArgumentDescription("Source type from list_sources (e.g. csv_file, json_file, http)"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("table",
			mcp.ArgumentDescription("Destination table, optionally schema-qualified"),
			mcp.RequiredArgument(),
		),
	), s.handleAddSyncPrompt)
}

func (s *Server) handleDiagnosePrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	taskID := req.Params.Arguments["taskId"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Diagnose task: %s", taskID),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Find out why the saasloader task "%s" is failing.

Steps:
1. Call list_tasks and look at the task's operator, params and lastStatus
2. Call list_runs with taskId "%s" and a limit of 10
3. Compare the failed runs with the last successful one: trigger, duration, rows read and written
4. Classify the error: credentials or token refresh, provider HTTP error, warehouse SQL error, timeout, or bad params
5. Suggest a concrete fix. Only call run_task again if the fix needs no config change`, taskID, taskID),
				},
			},
		},
	}, nil
}

func (s *Server) handleAddSyncPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	sourceType := req.Params.Arguments["sourceType"]
	table := req.Params.Arguments["table"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Sync %s into %s", sourceType, table),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Draft a saasloader.yaml task that loads a "%s" source into the warehouse table "%s".

Steps:
1. Call list_sources and read the config fields of "%s"
2. Call list_operators to confirm the "sync" operator is available
3. Write the task entry with operator "sync", params.source_type "%s", params.source (the source config), params.destination_conn_id, params.table "%s" and params.primary_key when mode is merge
4. Add a schedule (cron) or watch list if the source should load on its own

Show the YAML only; do not run the task.`, sourceType, table, sourceType, sourceType, table),
				},
			},
		},
	}, nil
}
