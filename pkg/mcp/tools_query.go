package mcp

import (
	"context"
	"errors"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bunsen-project/bunsen/internal/cursor"
	"github.com/bunsen-project/bunsen/internal/query"
)

// ErrProjectRequired indicates the project parameter is empty.
var ErrProjectRequired = errors.New("project parameter is required and must not be empty")

func handleListProjects(
	_ context.Context,
	q *query.Engine,
	_ ListProjectsInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	projects, err := q.ListProjects()
	if err != nil {
		return errorResult(err)
	}

	return jsonResult(projects)
}

func handleListMonths(
	_ context.Context,
	q *query.Engine,
	input ListMonthsInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if input.Project == "" {
		return errorResult(ErrProjectRequired)
	}

	months, err := q.ListMonths(input.Project)
	if err != nil {
		return errorResult(err)
	}

	return jsonResult(months)
}

func handleListTestruns(
	_ context.Context,
	q *query.Engine,
	input ListTestrunsInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if input.Project == "" {
		return errorResult(ErrProjectRequired)
	}

	runs, err := q.ListTestruns(input.Project, input.YearMonth, input.IncludeObsolete)
	if err != nil {
		return errorResult(err)
	}

	return jsonResult(runs)
}

func handleGetTestrun(
	_ context.Context,
	q *query.Engine,
	input GetTestrunInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if input.ID == "" {
		return errorResult(ErrEmptyID)
	}

	testrun, err := q.GetTestrun(input.ID)
	if err != nil {
		return errorResult(err)
	}

	return jsonResult(testrun)
}

func handleResolveCursor(
	_ context.Context,
	q *query.Engine,
	input ResolveCursorInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	c, err := cursor.Parse(input.Cursor)
	if err != nil {
		return errorResult(err)
	}

	c = c.WithContext(input.Branch, input.CommitID)

	text, resolved, err := q.ResolveCursor(c)
	if err != nil {
		return errorResult(err)
	}

	return jsonResult(map[string]any{
		"text":      text,
		"cursor":    resolved.String(),
		"truncated": resolved.Truncated,
	})
}

func handleOpenLog(
	_ context.Context,
	q *query.Engine,
	input OpenLogInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if input.ID == "" {
		return errorResult(ErrEmptyID)
	}

	if input.Path == "" {
		return errorResult(ErrEmptyPath)
	}

	data, err := q.OpenLog(input.ID, input.Path)
	if err != nil {
		return errorResult(err)
	}

	return jsonResult(map[string]any{"content": string(data)})
}

// Sentinel errors for tool input validation.
var (
	// ErrEmptyID indicates the id parameter is empty.
	ErrEmptyID = errors.New("id parameter is required and must not be empty")
	// ErrEmptyPath indicates the path parameter is empty.
	ErrEmptyPath = errors.New("path parameter is required and must not be empty")
)
