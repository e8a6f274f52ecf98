package server

import (
	"context"
	"fmt"
	"strconv"

	"github.com/joshdurbin/strava-weekly/internal/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// registerPrompts registers all MCP prompts for the server
func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(&mcp.Prompt{
		Name:        "weekly_review",
		Description: "Review a completed training week and suggest what to change next week",
		Arguments: []*mcp.PromptArgument{
			{
				Name:        "weeks_ago",
				Description: "Which completed week to review: 0 for last week (default), 1 for the week before, up to 52",
				Required:    false,
			},
		},
	}, s.weeklyReviewPrompt)

	logging.Debug("MCP prompts registered", "count", 1)
}

// weeklyReviewPrompt asks the assistant to read the weekly report and comment on it
func (s *Server) weeklyReviewPrompt(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	weeksAgo := 0
	if req.Params.Arguments != nil {
		if w, ok := req.Params.Arguments["weeks_ago"]; ok && w != "" {
			n, err := strconv.Atoi(w)
			if err != nil || n < 0 || n > maxWeeksAgo {
				return nil, NewInvalidInputErrorWithDetails("weeks_ago must be a number between 0 and 52", w)
			}
			weeksAgo = n
		}
	}

	logging.Info("MCP prompt requested", "prompt", "weekly_review", "weeks_ago", weeksAgo)

	// The week before is only comparable while it is still within the tool's range
	compare := weeksAgo < maxWeeksAgo

	steps := fmt.Sprintf("1. Call **weekly_report** with weeks_ago=%d to get the report.\n", weeksAgo)
	if compare {
		steps += fmt.Sprintf("2. Call **weekly_report** with weeks_ago=%d to get the week before, for comparison.\n", weeksAgo+1)
	}

	points := "- **Summary**: Sessions, total time and how it splits across sports\n"
	if compare {
		points += "- **Change**: What went up or down compared with the week before\n"
	}
	points += "- **Consistency**: Gaps of several days without training, or days with more than one session\n" +
		"- **Recommendations**: One or two concrete adjustments for the coming week\n"

	promptText := "Please review my training week.\n\n" + steps + "\nThen provide:\n" + points +
		"\nUse the actual numbers from the reports."

	return &mcp.GetPromptResult{
		Description: "Weekly training review prompt",
		Messages: []*mcp.PromptMessage{
			{
				Role:    "user",
				Content: &mcp.TextContent{Text: promptText},
			},
		},
	}, nil
}
