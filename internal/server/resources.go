package server

import (
	"context"

	"github.com/joshdurbin/strava-weekly/internal/logging"
	"github.com/joshdurbin/strava-weekly/internal/weekly"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const lastWeekURI = "strava://report/week/last"

// registerResources registers all MCP resources for the server
func (s *Server) registerResources() {
	s.mcp.AddResource(&mcp.Resource{
		URI:         lastWeekURI,
		Name:        "last_week_report",
		Description: "The weekly training report for the most recent completed week",
		MIMEType:    "text/plain",
	}, s.readLastWeekReport)

	logging.Debug("MCP resources registered", "count", 1)
}

// readLastWeekReport returns the same text the weekly job prints
func (s *Server) readLastWeekReport(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	logging.Info("MCP resource read", "resource", "last_week_report")

	window := weekly.LastWeek(s.now(), s.location)
	text, _, err := weekly.Build(ctx, s.activities, window)
	if err != nil {
		logging.Warn("readLastWeekReport failed", "window", window.Label, "error", err.Error())
		return nil, FromError(err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      lastWeekURI,
				MIMEType: "text/plain",
				Text:     text,
			},
		},
	}, nil
}
