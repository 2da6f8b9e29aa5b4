// cmd/pdwcli is the operator CLI for the personal data wallet memory
// engine: ingesting memories through the pipeline, searching and
// assembling retrieval context, and managing access grants and
// decryption sessions. Mirrors the teacher's cmd/synnergy entrypoint
// shape: a thin main wiring RegisterRoutes onto a bare root command.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sealwallet/pdw-core/cmd/cli"
)

func main() {
	root := &cobra.Command{Use: "pdwcli", Short: "Personal data wallet memory engine CLI"}
	cli.RegisterRoutes(root)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
