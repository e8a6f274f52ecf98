package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joshdurbin/strava-weekly/internal/config"
	"github.com/joshdurbin/strava-weekly/internal/server"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the weekly_report tool over MCP stdio",
	Long: `Run an MCP server on stdin/stdout for AI assistants. It exposes the
weekly_report tool, the last-week report resource and a weekly_review prompt.
It uses the same credentials as the weekly run and never sends email.
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP(cmd.Context())
	},
}

func runMCP(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	source, closeSource, err := reportSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	return server.New(source, loc).Run(ctx)
}
