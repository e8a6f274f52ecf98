package server

import (
	"context"
	"net/http"
	"time"

	"github.com/joshdurbin/strava-weekly/internal/logging"
	"github.com/joshdurbin/strava-weekly/internal/report"
	"github.com/joshdurbin/strava-weekly/internal/weekly"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// maxWeeksAgo bounds how far back weekly_report reaches
const maxWeeksAgo = 52

// ptr returns a pointer to the given value - useful for optional fields in structs
func ptr[T any](v T) *T {
	return &v
}

// Server wraps the MCP server and the activity source behind it
type Server struct {
	mcp        *mcp.Server
	activities weekly.ActivityLister
	location   *time.Location
	now        func() time.Time
}

// Option configures a Server
type Option func(*Server)

// WithClock replaces time.Now (for testing)
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// MCPServer returns the underlying MCP server
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// New creates an MCP server exposing the weekly report. Weeks are computed in loc.
func New(activities weekly.ActivityLister, loc *time.Location, opts ...Option) *Server {
	logging.Info("MCP server initializing", "name", "strava-weekly", "version", "1.0.0")

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "strava-weekly",
		Version: "1.0.0",
	}, nil)

	s := &Server{
		mcp:        mcpServer,
		activities: activities,
		location:   loc,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerTools()
	s.registerResources()
	s.registerPrompts()

	logging.Info("MCP server initialized", "tools_registered", 1, "resources_registered", 1, "prompts_registered", 1)
	return s
}

// Run serves MCP over stdio until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	logging.Info("MCP server starting")
	defer logging.Info("MCP server stopped")
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// Handler serves MCP over HTTP/SSE
func (s *Server) Handler() http.Handler {
	return mcp.NewSSEHandler(func(r *http.Request) *mcp.Server {
		return s.mcp
	}, nil)
}

// WeeklyReportInput selects the week to report on
type WeeklyReportInput struct {
	WeeksAgo int `json:"weeks_ago,omitempty" jsonschema:"Completed weeks to go back: 0 is last week, 1 the week before. Max 52."`
}

// WeeklyReportOutput is the report text plus its totals
type WeeklyReportOutput struct {
	Label  string      `json:"label"`
	After  string      `json:"after"`
	Before string      `json:"before"`
	Report string      `json:"report"`
	Meta   report.Meta `json:"meta"`
}

func (s *Server) registerTools() {
	logging.Debug("Registering tool", "name", "weekly_report")
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "weekly_report",
		Description: `Build the weekly training report for a completed Monday-to-Sunday week.

Use when:
- User asks "How did last week go?" or "Weekly summary"
- User wants per-sport time, distance and elevation for a week
- User wants to compare one week with an earlier one

Parameters:
- weeks_ago (integer): 0 for the most recent completed week (default), 1 for the week before, up to 52.

Returns: The plain-text report (totals per sport sorted by time, then every session by start time) and the same totals as structured data.

Example: {} or {"weeks_ago": 1}`,
		Annotations: &mcp.ToolAnnotations{
			Title:           "Weekly Report",
			ReadOnlyHint:    true,
			IdempotentHint:  true,
			OpenWorldHint:   ptr(true),
			DestructiveHint: ptr(false),
		},
	}, s.weeklyReport)
}

func (s *Server) weeklyReport(ctx context.Context, req *mcp.CallToolRequest, input WeeklyReportInput) (*mcp.CallToolResult, WeeklyReportOutput, error) {
	logging.Info("MCP tool call", "tool", "weekly_report", "weeks_ago", input.WeeksAgo)
	if logging.IsVerbose() {
		logging.Debug("MCP request params", "tool", "weekly_report", "input", logging.ToJSON(input))
	}

	if input.WeeksAgo < 0 || input.WeeksAgo > maxWeeksAgo {
		return nil, WeeklyReportOutput{}, NewInvalidInputErrorWithDetails("weeks_ago out of range", "must be between 0 and 52")
	}

	window := weekly.WeekBefore(s.now(), s.location, input.WeeksAgo)
	text, meta, err := weekly.Build(ctx, s.activities, window)
	if err != nil {
		logging.Warn("weekly_report failed", "window", window.Label, "error", err.Error())
		return nil, WeeklyReportOutput{}, FromError(err)
	}

	output := WeeklyReportOutput{
		Label:  window.Label,
		After:  window.After.Format(time.RFC3339),
		Before: window.Before.Format(time.RFC3339),
		Report: text,
		Meta:   meta,
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, output, nil
}
