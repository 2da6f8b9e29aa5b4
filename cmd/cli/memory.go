package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sealwallet/pdw-core/internal/crypto/ibe"
	"github.com/sealwallet/pdw-core/internal/model"
	"github.com/sealwallet/pdw-core/internal/retrieval"
)

func parseOwner(cmd *cobra.Command) (model.Address, error) {
	s, _ := cmd.Flags().GetString("owner")
	if s == "" {
		return model.Address{}, fmt.Errorf("--owner is required")
	}
	return model.ParseAddress(s)
}

var memoryCmd = &cobra.Command{
	Use:               "memory",
	Short:             "Ingest, search, and assemble context over personal memories",
	PersistentPreRunE: ensureAppInitialised,
}

var memoryIngestCmd = &cobra.Command{
	Use:   "ingest [content]",
	Short: "Run the pipeline over a new memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := parseOwner(cmd)
		if err != nil {
			return err
		}
		category, _ := cmd.Flags().GetString("category")
		topic, _ := cmd.Flags().GetString("topic")
		importance, _ := cmd.Flags().GetInt("importance")

		mem := model.Memory{
			ID:         uuid.NewString(),
			Owner:      owner,
			Content:    args[0],
			Category:   category,
			Topic:      topic,
			Importance: importance,
			CreatedAt:  time.Now(),
		}

		ctx := withOwner(cmd.Context(), owner)
		rec, err := theApp.orchestrator.Run(ctx, mem)
		if err != nil {
			return fmt.Errorf("run pipeline: %w", err)
		}
		enc, _ := json.MarshalIndent(rec, "", "  ")
		fmt.Println(string(enc))
		return nil
	},
}

var memorySearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Rank memories by semantic similarity to query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := parseOwner(cmd)
		if err != nil {
			return err
		}
		k, _ := cmd.Flags().GetInt("k")
		category, _ := cmd.Flags().GetString("category")
		minSim, _ := cmd.Flags().GetFloat64("min-similarity")

		results, err := theApp.retriever.Search(cmd.Context(), retrieval.SearchInput{
			QueryText:     args[0],
			User:          owner,
			K:             k,
			Category:      category,
			MinSimilarity: minSim,
		})
		if err != nil {
			return err
		}
		enc, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(enc))
		return nil
	},
}

var memoryAssembleCmd = &cobra.Command{
	Use:   "assemble-context [query]",
	Short: "Assemble a decrypted context string from the top matches",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := parseOwner(cmd)
		if err != nil {
			return err
		}
		k, _ := cmd.Flags().GetInt("k")
		packageID, _ := cmd.Flags().GetString("package-id")
		if packageID == "" {
			return fmt.Errorf("--package-id is required")
		}

		session, ok := theApp.sessions.Get(owner, packageID)
		if !ok {
			return fmt.Errorf("no attached session for owner %s package %s; run 'session create' and 'session attach' first", owner.Hex(), packageID)
		}
		if !session.HasAssertion() {
			return fmt.Errorf("session for owner %s package %s has no wallet assertion; run 'session attach' first", owner.Hex(), packageID)
		}

		res, err := theApp.retriever.AssembleContext(cmd.Context(), retrieval.AssembleInput{
			QueryText:        args[0],
			User:             owner,
			K:                k,
			RequestingWallet: owner,
			Session:          session,
			ApprovalTx:       ibe.BuildSelfApproval(owner).Bytes(),
		})
		if err != nil {
			return err
		}
		fmt.Println(res.ContextString)
		fmt.Printf("# used %d/%d memories (embed %dms, search %dms, decrypt %dms)\n",
			res.Stats.Allowed, res.Stats.Found, res.Stats.EmbedMS, res.Stats.SearchMS, res.Stats.DecryptMS)
		return nil
	},
}

func init() {
	memoryCmd.PersistentFlags().String("owner", "", "owner address (0x-prefixed hex)")

	memoryIngestCmd.Flags().String("category", "", "memory category")
	memoryIngestCmd.Flags().String("topic", "", "memory topic")
	memoryIngestCmd.Flags().Int("importance", 5, "importance 1..10")

	memorySearchCmd.Flags().Int("k", 10, "number of results")
	memorySearchCmd.Flags().String("category", "", "filter by category")
	memorySearchCmd.Flags().Float64("min-similarity", 0, "minimum cosine similarity")

	memoryAssembleCmd.Flags().Int("k", 5, "number of candidate memories")
	memoryAssembleCmd.Flags().String("package-id", "", "attached session's package id (see 'session create'/'session attach')")

	memoryCmd.AddCommand(memoryIngestCmd, memorySearchCmd, memoryAssembleCmd)
}

// MemoryCmd is exported for RegisterRoutes.
var MemoryCmd = memoryCmd
