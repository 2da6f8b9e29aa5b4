package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:               "index",
	Short:             "Inspect a user's current vector index",
	PersistentPreRunE: ensureAppInitialised,
}

type indexStatus struct {
	Dimension      int `json:"dimension"`
	Size           int `json:"size"`
	TombstoneCount int `json:"tombstone_count"`
	PendingEntries int `json:"pending_entries"`
}

var indexStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current searchable index view for an owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := parseOwner(cmd)
		if err != nil {
			return err
		}
		idx := &liveIndex{app: theApp}
		view, err := idx.CurrentIndex(cmd.Context(), owner)
		if err != nil {
			return fmt.Errorf("load index: %w", err)
		}
		status := indexStatus{
			Dimension:      view.Dimension(),
			Size:           view.Size(),
			TombstoneCount: len(view.Tombstones()),
			PendingEntries: len(theApp.coord.PendingVectors(owner)),
		}
		enc, _ := json.MarshalIndent(status, "", "  ")
		fmt.Println(string(enc))
		return nil
	},
}

func init() {
	indexCmd.PersistentFlags().String("owner", "", "owner address (0x-prefixed hex)")
	indexCmd.AddCommand(indexStatusCmd)
}

// IndexCmd is exported for RegisterRoutes.
var IndexCmd = indexCmd
