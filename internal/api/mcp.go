package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/taskpilot/internal/search"
	"github.com/kalambet/taskpilot/internal/storage"
	"github.com/kalambet/taskpilot/internal/subtasks"
)

// MCPDeps holds dependencies for the MCP server. Every tool acts as UserID.
type MCPDeps struct {
	Store    storage.Repository
	Searcher TaskSearcher
	Subtasks SubtaskGenerator // optional; generate_subtasks returns an error when nil
	Embedder TextEmbedder     // optional
	UserID   string
	Logger   *slog.Logger
}

func (d MCPDeps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger.With("component", "mcp")
	}
	return slog.Default().With("component", "mcp")
}

// NewMCPServer creates an MCP server with the taskpilot tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"taskpilot",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("taskpilot: personal task list with semantic search and subtask suggestions."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_tasks",
			mcp.WithDescription("Find the user's tasks that are semantically closest to a natural-language query."),
			mcp.WithString("query", mcp.Description("What to look for"), mcp.Required()),
		),
		mcpSearchTasks(deps),
	)

	s.AddTool(
		mcp.NewTool("add_task",
			mcp.WithDescription("Create a task, optionally as a subtask of an existing top-level task."),
			mcp.WithString("text", mcp.Description("Task text"), mcp.Required()),
			mcp.WithString("priority", mcp.Description("Task priority (default medium)"), mcp.Enum("high", "medium", "low")),
			mcp.WithString("parent_task_id", mcp.Description("Id of the parent task")),
		),
		mcpAddTask(deps),
	)

	s.AddTool(
		mcp.NewTool("list_tasks",
			mcp.WithDescription("List the user's top-level tasks, newest first, with their subtasks."),
		),
		mcpListTasks(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_subtasks",
			mcp.WithDescription("Suggest 5 to 7 short subtasks for a task title without storing them."),
			mcp.WithString("task_title", mcp.Description("Title of the task to break down"), mcp.Required()),
		),
		mcpGenerateSubtasks(deps),
	)

	return s
}

func mcpSearchTasks(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		results, err := deps.Searcher.Search(ctx, deps.UserID, query)
		switch {
		case errors.Is(err, search.ErrInvalidInput):
			return mcpError("query must not be empty"), nil
		case errors.Is(err, search.ErrUnauthenticated):
			return mcpError("mcp.user_id is not configured"), nil
		case err != nil:
			deps.logger().Error("search failed", "error", err)
			return mcpError("search failed"), nil
		}
		if results == nil {
			results = []search.SearchResult{}
		}
		return mcpJSON(results)
	}
}

func mcpAddTask(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.UserID == "" {
			return mcpError("mcp.user_id is not configured"), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		t, err := newTask(deps.UserID, createTaskRequest{
			Text:         text,
			Priority:     req.GetString("priority", ""),
			ParentTaskID: req.GetString("parent_task_id", ""),
		})
		if err != nil {
			return mcpError(err.Error()), nil
		}

		err = deps.Store.CreateTask(ctx, t)
		if errors.Is(err, storage.ErrInvalidParent) {
			return mcpError(fmt.Sprintf("parent task %q does not exist or is itself a subtask", t.ParentTaskID)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save: %v", err)), nil
		}

		precomputeEmbedding(ctx, deps.Store, deps.Embedder, t, deps.logger())
		return mcpText(fmt.Sprintf("Created task %s", t.ID)), nil
	}
}

func mcpListTasks(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.UserID == "" {
			return mcpError("mcp.user_id is not configured"), nil
		}
		views, err := loadTaskTree(ctx, deps.Store, deps.UserID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list tasks: %v", err)), nil
		}
		return mcpJSON(views)
	}
}

func mcpGenerateSubtasks(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Subtasks == nil {
			return mcpError("subtask generation not available: no chat model configured"), nil
		}
		title, err := req.RequireString("task_title")
		if err != nil {
			return mcpError("task_title is required"), nil
		}

		items, err := deps.Subtasks.Generate(ctx, title)
		if errors.Is(err, subtasks.ErrEmptyTitle) {
			return mcpError("task_title must not be empty"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("subtask generation failed: %v", err)), nil
		}
		return mcpJSON(items)
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
