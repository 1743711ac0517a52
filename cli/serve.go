package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/georgepadayatti/goers/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP validation service",
		Long: `Run the HTTP validation service.

Endpoints:
  GET  /healthz
  POST /api/v1/evidence-records/validate
  POST /api/v1/evidence-records/digest

The service stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
				if err := a.cfg.Server.Validate(); err != nil {
					return err
				}
			}
			validator, err := a.cfg.Validation.NewValidator(a.logger)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.New(a.cfg, validator, a.logger).ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from configuration)")
	return cmd
}
