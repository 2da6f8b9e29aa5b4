package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sealwallet/pdw-core/internal/telemetry"
)

var adminCmd = &cobra.Command{
	Use:               "admin",
	Short:             "Operate the admin/metrics HTTP surface",
	PersistentPreRunE: ensureAppInitialised,
}

var adminServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve /healthz and /metrics until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		srv := telemetry.NewAdminServer(theApp.cfg.Admin.HTTPAddr, theApp.metrics)
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		fmt.Printf("admin server listening on %s\n", theApp.cfg.Admin.HTTPAddr)
		return srv.Start(ctx)
	},
}

func init() {
	adminCmd.AddCommand(adminServeCmd)
}

// AdminCmd is exported for RegisterRoutes.
var AdminCmd = adminCmd
