package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lecternhq/lectern/internal/observability"
	"github.com/lecternhq/lectern/internal/server"
	"github.com/lecternhq/lectern/internal/server/handlers"
	"github.com/lecternhq/lectern/pkg/console"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a local HTTP surface for dashboards and tooling",
	Long: `Run a local HTTP server that re-serves interpreted job status and a
health endpoint backed by a backend reachability check.

Endpoints:
  GET /health               Health with per-check detail
  GET /v1/jobs/{job_id}     Interpreted job status (pass ?session_id=)`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Bind host (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Bind port (default from config)")
}

// backendChecker reports backend reachability by listing models, the
// cheapest authenticated call the API offers.
type backendChecker struct {
	client *console.Client
}

func (c *backendChecker) CheckHealth(ctx context.Context) error {
	_, err := c.client.ListModels(ctx)
	return err
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}

	host := rt.cfg.Server.Host
	if serveHost != "" {
		host = serveHost
	}
	port := rt.cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}

	srv := server.New(host, port, server.Options{
		Version: versionInfo.Version,
		Fetcher: rt.client,
		Checkers: map[string]handlers.Checker{
			"backend": &backendChecker{client: rt.client},
		},
	})

	observability.CLILogger.Info("Starting local server",
		zap.String("addr", srv.Addr()))
	_, _ = fmt.Fprintf(os.Stdout, "listening on http://%s\n", srv.Addr())

	if err := srv.Run(ctx,
		rt.cfg.Server.ReadTimeout,
		rt.cfg.Server.WriteTimeout,
		rt.cfg.Server.IdleTimeout,
		rt.cfg.Server.ShutdownTimeout,
	); err != nil {
		observability.CLILogger.Error("Server exited with error", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
	}
	return nil
}
