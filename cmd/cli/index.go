package cli

import "github.com/spf13/cobra"

// RegisterRoutes attaches every command group defined in this package to
// the provided root command, the same aggregator shape as the teacher's
// cmd/cli/index.go.
func RegisterRoutes(root *cobra.Command) {
	root.AddCommand(
		MemoryCmd,
		IndexCmd,
		AccessCmd,
		SessionCmd,
		AdminCmd,
	)
}
