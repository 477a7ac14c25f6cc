// Package mcp implements a Model Context Protocol server exposing bunsen's
// read-only query surface (C6, spec §4.6) as MCP tools over stdio
// transport. No ingest tool is registered — writes require the
// repository's advisory lock (§4.7), which this server never takes.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bunsen-project/bunsen/internal/query"
	"github.com/bunsen-project/bunsen/pkg/observability"
)

const (
	// serverName is the MCP server implementation name.
	serverName = "bunsen"
	// serverVersion is the MCP server implementation version.
	serverVersion = "1.0.0"

	// toolCount is the expected number of registered tools.
	toolCount = 6
)

// ServerDeps holds injectable dependencies for the MCP server.
// Zero-value fields use production defaults.
type ServerDeps struct {
	// Query is the query engine the tools answer against. Required.
	Query *query.Engine

	// Logger is an optional structured logger. Nil uses slog default.
	Logger *slog.Logger

	// Metrics is an optional RED metrics recorder. Nil disables per-tool metrics.
	Metrics *observability.REDMetrics

	// Tracer is an optional OTel tracer for per-tool-call spans. Nil disables tracing.
	Tracer trace.Tracer
}

// Server wraps the MCP SDK server with bunsen's query tool registrations.
type Server struct {
	inner   *mcpsdk.Server
	query   *query.Engine
	mu      sync.RWMutex
	tools   []string
	metrics *observability.REDMetrics
	tracer  trace.Tracer
}

// NewServer creates a new MCP server with all bunsen query tools registered.
func NewServer(deps ServerDeps) *Server {
	opts := &mcpsdk.ServerOptions{}
	if deps.Logger != nil {
		opts.Logger = deps.Logger
	}

	inner := mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    serverName,
			Version: serverVersion,
		},
		opts,
	)

	srv := &Server{
		inner:   inner,
		query:   deps.Query,
		tools:   make([]string, 0, toolCount),
		metrics: deps.Metrics,
		tracer:  deps.Tracer,
	}

	srv.registerTools()

	return srv
}

// ListToolNames returns the sorted names of all registered tools.
func (s *Server) ListToolNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, len(s.tools))
	copy(names, s.tools)
	sort.Strings(names)

	return names
}

// Run starts the MCP server on stdio transport. It blocks until the context
// is canceled or the connection closes.
func (s *Server) Run(ctx context.Context) error {
	err := s.inner.Run(ctx, &mcpsdk.StdioTransport{})
	if err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	return nil
}

// RunWithTransport starts the MCP server on the given transport. It blocks
// until the context is canceled or the connection closes.
func (s *Server) RunWithTransport(ctx context.Context, transport mcpsdk.Transport) error {
	err := s.inner.Run(ctx, transport)
	if err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	return nil
}

// registerTools adds all bunsen query tools to the server.
func (s *Server) registerTools() {
	addQueryTool(s, ToolNameListProjects, listProjectsToolDescription, handleListProjects)
	addQueryTool(s, ToolNameListMonths, listMonthsToolDescription, handleListMonths)
	addQueryTool(s, ToolNameListTestruns, listTestrunsToolDescription, handleListTestruns)
	addQueryTool(s, ToolNameGetTestrun, getTestrunToolDescription, handleGetTestrun)
	addQueryTool(s, ToolNameResolveCursor, resolveCursorToolDescription, handleResolveCursor)
	addQueryTool(s, ToolNameOpenLog, openLogToolDescription, handleOpenLog)
}

// addQueryTool registers one tool bound to s.query, wrapped in the same
// tracing/metrics instrumentation every tool shares.
func addQueryTool[Input any](
	s *Server,
	name, description string,
	handler func(context.Context, *query.Engine, Input) (*mcpsdk.CallToolResult, ToolOutput, error),
) {
	bound := func(ctx context.Context, _ *mcpsdk.CallToolRequest, input Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
		return handler(ctx, s.query, input)
	}

	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        name,
		Description: description,
	}, withMetrics(s.metrics, name, withTracing(s.tracer, name, bound)))

	s.trackTool(name)
}

// mcpSpanPrefix is the prefix for MCP tool span names.
const mcpSpanPrefix = "mcp."

// traceIDMetaKey is the metadata key for trace_id in MCP tool responses.
const traceIDMetaKey = "trace_id"

// withTracing wraps an MCP tool handler to create an OTel span per invocation
// and include trace_id in the response content when sampled.
func withTracing[Input any](
	tracer trace.Tracer,
	toolName string,
	handler func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error),
) func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if tracer == nil {
		return handler
	}

	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
		ctx, span := tracer.Start(ctx, mcpSpanPrefix+toolName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("mcp.tool", toolName)),
		)
		defer span.End()

		result, output, err := handler(ctx, req, input)

		// Include trace_id in response when span is sampled.
		sc := span.SpanContext()
		if sc.IsSampled() && result != nil {
			traceContent := &mcpsdk.TextContent{Text: fmt.Sprintf("%s=%s", traceIDMetaKey, sc.TraceID().String())}
			result.Content = append(result.Content, traceContent)
		}

		return result, output, err
	}
}

// withMetrics wraps an MCP tool handler to record RED metrics per invocation.
func withMetrics[Input any](
	metrics *observability.REDMetrics,
	toolName string,
	handler func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error),
) func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if metrics == nil {
		return handler
	}

	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
		start := time.Now()

		decInflight := metrics.TrackInflight(ctx, "mcp."+toolName)
		defer decInflight()

		result, output, err := handler(ctx, req, input)

		status := "ok"
		if err != nil || (result != nil && result.IsError) {
			status = "error"
		}

		metrics.RecordRequest(ctx, "mcp."+toolName, status, time.Since(start))

		return result, output, err
	}
}

func (s *Server) trackTool(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tools = append(s.tools, name)
}

// Tool description constants.
const (
	listProjectsToolDescription = "List every project name known to the repository."

	listMonthsToolDescription = "List the YYYY-MM months a project has testruns for, " +
		"newest first."

	listTestrunsToolDescription = "List testrun summaries for a project, optionally " +
		"restricted to one YYYY-MM month. Obsolete-marked summaries are excluded unless " +
		"include_obsolete is set."

	getTestrunToolDescription = "Fetch the full testrun record (including testcases) " +
		"for a bunsen_commit_id or an unambiguous hex prefix of one."

	resolveCursorToolDescription = "Resolve a stored log cursor (branch:commit_id:path:" +
		"start[-end], or an abbreviated path:start[-end] given a commit_id) to the text " +
		"it names."

	openLogToolDescription = "Read a file's full contents from the testlogs commit named " +
		"by a bunsen_commit_id or an unambiguous hex prefix of one."
)
