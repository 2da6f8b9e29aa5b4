package cli

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sealwallet/pdw-core/internal/access"
	"github.com/sealwallet/pdw-core/internal/devchain"
	"github.com/sealwallet/pdw-core/internal/model"
	"github.com/sealwallet/pdw-core/internal/registry"
)

var accessCmd = &cobra.Command{
	Use:               "access",
	Short:             "Grant and revoke app-scoped access to memories",
	PersistentPreRunE: ensureAppInitialised,
}

func parseContextID(s string) (model.ContextID, error) {
	var out model.ContextID
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(b) != len(out) {
		return out, fmt.Errorf("context id must be a 32-byte hex string")
	}
	copy(out[:], b)
	return out, nil
}

var accessGrantCmd = &cobra.Command{
	Use:   "grant [context-id] [grantee] [scope...]",
	Short: "Grant one or more scopes over a context id to a grantee",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := parseOwner(cmd)
		if err != nil {
			return err
		}
		ctxID, err := parseContextID(args[0])
		if err != nil {
			return err
		}
		scopes := make([]model.GrantScope, 0, len(args)-2)
		for _, s := range args[2:] {
			scopes = append(scopes, model.GrantScope(s))
		}
		grantTx, err := access.Grant(access.GrantInput{
			ContextID: ctxID,
			Grantee:   args[1],
			Scopes:    scopes,
		})
		if err != nil {
			return err
		}
		_, err = theApp.registry.Submit(cmd.Context(), devchain.Sign(owner, registry.Tx{Entry: grantTx.Entry, Args: grantTx.Args}))
		if err != nil {
			return fmt.Errorf("submit grant: %w", err)
		}
		fmt.Println("access granted")
		return nil
	},
}

var accessRevokeCmd = &cobra.Command{
	Use:   "revoke [grant-id]",
	Short: "Revoke a previously issued access grant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := parseOwner(cmd)
		if err != nil {
			return err
		}
		revokeTx := access.Revoke(args[0])
		_, err = theApp.registry.Submit(cmd.Context(), devchain.Sign(owner, registry.Tx{Entry: revokeTx.Entry, Args: revokeTx.Args}))
		if err != nil {
			return fmt.Errorf("submit revoke: %w", err)
		}
		fmt.Println("access revoked")
		return nil
	},
}

var accessRequestCmd = &cobra.Command{
	Use:   "request-consent [requester-app] [purpose] [scope...]",
	Short: "Record a pending consent request awaiting owner resolution",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		scopes := make([]model.GrantScope, 0, len(args)-2)
		for _, s := range args[2:] {
			scopes = append(scopes, model.GrantScope(s))
		}
		id, err := theApp.access.RequestConsent(access.RequestConsentInput{
			RequesterApp: args[0],
			Purpose:      args[1],
			Scopes:       scopes,
		})
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var accessResolveCmd = &cobra.Command{
	Use:   "resolve [request-id] [approve|deny]",
	Short: "Approve or deny a pending consent request",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		approve := args[1] == "approve"
		if !approve && args[1] != "deny" {
			return fmt.Errorf("second argument must be \"approve\" or \"deny\"")
		}
		if err := theApp.access.Resolve(args[0], approve); err != nil {
			return err
		}
		fmt.Println("consent request resolved")
		return nil
	},
}

var accessShowRequestCmd = &cobra.Command{
	Use:   "show-request [request-id]",
	Short: "Print a pending or resolved consent request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, ok := theApp.access.Get(args[0])
		if !ok {
			return fmt.Errorf("consent request not found: %s", args[0])
		}
		enc, _ := json.MarshalIndent(req, "", "  ")
		fmt.Println(string(enc))
		return nil
	},
}

func init() {
	accessCmd.PersistentFlags().String("owner", "", "granting owner address (0x-prefixed hex)")
	accessCmd.AddCommand(accessGrantCmd, accessRevokeCmd, accessRequestCmd, accessResolveCmd, accessShowRequestCmd)
}

// AccessCmd is exported for RegisterRoutes.
var AccessCmd = accessCmd
