package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joshdurbin/strava-weekly/internal/auth"
	"github.com/joshdurbin/strava-weekly/internal/config"
	"github.com/joshdurbin/strava-weekly/internal/logging"
	"github.com/joshdurbin/strava-weekly/internal/server"
	"github.com/joshdurbin/strava-weekly/internal/web"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var (
	servePort string
	serveOpen bool
	serveMCP  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web front door used to connect Strava",
	Long: `Serve a small web app with:

  /          status and setup steps
  /health    {"ok": true}
  /auth      redirect to Strava's consent screen
  /callback  exchange the code and show STRAVA_REFRESH_TOKEN to copy
  /mcp       the weekly_report tool over MCP/SSE (with --mcp)

The callback URL is BASE_URL/callback, or inferred from the request when
BASE_URL is unset. It must match the Authorization Callback Domain of the
Strava API application.
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "listen port (default $PORT or 8080)")
	serveCmd.Flags().BoolVar(&serveOpen, "open", false, "open /auth in the browser once listening")
	serveCmd.Flags().BoolVar(&serveMCP, "mcp", false, "also serve the weekly_report MCP tool at /mcp")
}

func runServe(ctx context.Context) error {
	log := logging.Logger

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	port := cfg.HTTPPort
	if servePort != "" {
		port = servePort
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts []web.Option
	if serveMCP {
		loc, err := cfg.Location()
		if err != nil {
			return err
		}
		source, closeSource, err := reportSource(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeSource()

		opts = append(opts, web.WithMCP(server.New(source, loc).Handler()))
	}

	e := web.New(cfg, auth.Strava(), opts...)
	addr := ":" + port

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().
			Str("address", addr).
			Bool("mcp", serveMCP).
			Msg("web server listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down web server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if serveOpen {
		openAuthPage(port)
	}

	return g.Wait()
}

// openAuthPage points the local browser at /auth
func openAuthPage(port string) {
	url := fmt.Sprintf("http://localhost:%s/auth", port)

	fmt.Println("Opening browser for Strava authorization...")
	fmt.Printf("If browser doesn't open, visit: %s\n\n", url)

	if err := browser.OpenURL(url); err != nil {
		fmt.Printf("Could not open browser automatically: %v\n", err)
	}
}
