package cmd

import (
	"fmt"
	"os"

	"github.com/joshdurbin/strava-weekly/internal/logging"
	"github.com/spf13/cobra"
)

var verbosity int

var rootCmd = &cobra.Command{
	Use:   "strava-weekly",
	Short: "Strava weekly report - summarize last week's training and mail it",
	Long: `Strava weekly report fetches last week's activities (Monday 00:00 to
Monday 00:00 in TZ_NAME) from Strava, prints a plain-text summary, and mails
it when SMTP settings are present.

Run it once a week from cron. Settings come from the environment or a .env
file in the working directory:

  STRAVA_CLIENT_ID, STRAVA_CLIENT_SECRET, STRAVA_REFRESH_TOKEN  (required)
  TZ_NAME                (default Europe/Amsterdam)
  SMTP_HOST, SMTP_PORT, SMTP_USER, SMTP_PASS, FROM_EMAIL, TO_EMAIL  (email)
  STRAVA_TOKEN_DB        (optional SQLite file that keeps rotated refresh tokens)

Use "strava-weekly serve" once to connect Strava and obtain the refresh token.
Get API credentials from https://www.strava.com/settings/api
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Set up logging based on verbosity before any command runs
		logging.Setup(logging.Level(verbosity))
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWeekly(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase verbosity (-v for debug, -vv for trace with HTTP headers)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
