package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/datan8/sitepilot/internal/config"
	"github.com/datan8/sitepilot/internal/logging"
	"github.com/datan8/sitepilot/internal/server"
)

// serveCmd runs the approval HTTP endpoint.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the approval endpoint",
	Long: `Serve the HTTP endpoint the emailed approve/reject links point at.

Each valid click resolves its approval token to exactly one open ticket
and applies the client's decision. The server runs until interrupted.

Example:
  sitepilot serve --port 8080`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := cmd.Flags().GetInt("port")
		if err != nil {
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := config.ValidateServe(cfg); err != nil {
			return err
		}
		if port != 0 {
			cfg.Approval.Port = port
		}

		srv, err := server.New(cfg)
		if err != nil {
			return err
		}

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-stop
			logging.Info("shutting down approval endpoint")
			if err := srv.Shutdown(); err != nil {
				logging.Error("shutdown failed", "error", err)
			}
		}()

		return srv.Listen()
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "Listen port (overrides APPROVAL_PORT)")
}
