package mcp

import (
	"encoding/json"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool name constants.
const (
	ToolNameListProjects  = "bunsen_list_projects"
	ToolNameListMonths    = "bunsen_list_months"
	ToolNameListTestruns  = "bunsen_list_testruns"
	ToolNameGetTestrun    = "bunsen_get_testrun"
	ToolNameResolveCursor = "bunsen_resolve_cursor"
	ToolNameOpenLog       = "bunsen_open_log"
)

// Input types (auto-generate JSON schemas via struct tags).

// ListProjectsInput is the input schema for the bunsen_list_projects tool.
// It takes no parameters.
type ListProjectsInput struct{}

// ListMonthsInput is the input schema for the bunsen_list_months tool.
type ListMonthsInput struct {
	Project string `json:"project" jsonschema:"project name"`
}

// ListTestrunsInput is the input schema for the bunsen_list_testruns tool.
type ListTestrunsInput struct {
	Project         string `json:"project"                    jsonschema:"project name"`
	YearMonth       string `json:"year_month,omitempty"        jsonschema:"optional YYYY-MM month filter; all months if omitted"`
	IncludeObsolete bool   `json:"include_obsolete,omitempty"  jsonschema:"include summaries marked obsolete"`
}

// GetTestrunInput is the input schema for the bunsen_get_testrun tool.
type GetTestrunInput struct {
	ID string `json:"id" jsonschema:"bunsen_commit_id, or an unambiguous hex prefix of one (>=4 chars)"`
}

// ResolveCursorInput is the input schema for the bunsen_resolve_cursor tool.
type ResolveCursorInput struct {
	Cursor   string `json:"cursor"             jsonschema:"serialized cursor: [branch:commit_id:]path:start[-end]"`
	CommitID string `json:"commit_id,omitempty" jsonschema:"bunsen_commit_id to supply when cursor omits one"`
	Branch   string `json:"branch,omitempty"    jsonschema:"testlogs branch to supply when cursor omits one"`
}

// OpenLogInput is the input schema for the bunsen_open_log tool.
type OpenLogInput struct {
	ID   string `json:"id"   jsonschema:"bunsen_commit_id, or an unambiguous hex prefix of one (>=4 chars)"`
	Path string `json:"path" jsonschema:"file path within the testlogs commit"`
}

// Output type (used as structured output for generic AddTool).

// ToolOutput is a generic wrapper for tool results.
type ToolOutput struct {
	Data any `json:"data"`
}

// Result helpers.

// errorResult builds a CallToolResult with isError set.
func errorResult(err error) (*mcpsdk.CallToolResult, ToolOutput, error) {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: err.Error()},
		},
		IsError: true,
	}, ToolOutput{}, nil
}

// jsonResult builds a CallToolResult with JSON-encoded content.
func jsonResult(value any) (*mcpsdk.CallToolResult, ToolOutput, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encode result: %w", err))
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: string(data)},
		},
	}, ToolOutput{Data: value}, nil
}
