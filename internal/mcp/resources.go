package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	tasksURI      = "saasloader://tasks"
	taskRunsURI   = "saasloader://task/{taskId}/runs"
	taskURIPrefix = "saasloader://task/"
)

func (s *Server) registerResources() {
	// ── saasloader://tasks ─────────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		tasksURI,
		"Configured Tasks",
		mcp.WithMIMEType("application/json"),
	), s.handleTasksResource)

	// ── saasloader://task/{taskId}/runs ────────────────
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			taskRunsURI,
			"Recent Runs of a Task",
		),
		s.handleTaskRunsResource,
	)
}

type taskSummary struct {
	ID         string `json:"id"`
	Operator   string `json:"operator"`
	Schedule   string `json:"schedule,omitempty"`
	LastStatus string `json:"lastStatus,omitempty"`
	LastError  string `json:"lastError,omitempty"`
}

func (s *Server) handleTasksResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	tasks, err := s.tasks.ListTasks()
	if err != nil {
		return nil, err
	}

	summaries := make([]taskSummary, 0, len(tasks))
	for _, t := range tasks {
		sum := taskSummary{ID: t.ID, Operator: t.Operator, Schedule: t.Schedule}
		if t.Status != nil {
			sum.LastStatus = t.Status.LastStatus
			sum.LastError = t.Status.LastError
		}
		summaries = append(summaries, sum)
	}

	data, _ := json.MarshalIndent(summaries, "", "  ")
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      tasksURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleTaskRunsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	taskID := taskIDFromURI(uri)
	if taskID == "" {
		return nil, fmt.Errorf("could not extract taskId from URI: %s", uri)
	}

	runs, err := s.tasks.ListRuns(taskID, 20)
	if err != nil {
		return nil, err
	}

	data, _ := json.MarshalIndent(runs, "", "  ")
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// taskIDFromURI pulls the id out of saasloader://task/{taskId}/runs.
func taskIDFromURI(uri string) string {
	rest, ok := strings.CutPrefix(uri, taskURIPrefix)
	if !ok {
		return ""
	}
	id, ok := strings.CutSuffix(rest, "/runs")
	if !ok || strings.Contains(id, "/") {
		return ""
	}
	return id
}
