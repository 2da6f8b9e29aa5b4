package cli

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sealwallet/pdw-core/internal/crypto/ibe"
)

var sessionCmd = &cobra.Command{
	Use:               "session",
	Short:             "Create and inspect ephemeral decryption sessions",
	PersistentPreRunE: ensureAppInitialised,
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create [package-id]",
	Short: "Mint a new ephemeral session keypair, caching it for the owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := parseOwner(cmd)
		if err != nil {
			return err
		}
		ttlMin, _ := cmd.Flags().GetInt("ttl-min")
		if ttlMin <= 0 {
			ttlMin = theApp.cfg.Session.TTLMin
		}

		session, err := ibe.CreateSession(owner, args[0], time.Duration(ttlMin)*time.Minute)
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		theApp.sessions.Put(session)

		digest := session.AssertionDigest()
		fmt.Printf("session created for %s, package %s, expires %s\n", owner.Hex(), args[0], session.ExpiresAt.Format(time.RFC3339))
		fmt.Printf("assertion digest (sign this with your wallet and call session attach): %s\n", hex.EncodeToString(digest[:]))
		return nil
	},
}

var sessionAttachCmd = &cobra.Command{
	Use:   "attach [package-id] [wallet-signature-hex]",
	Short: "Attach the owner wallet's signature over the cached session's assertion digest",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := parseOwner(cmd)
		if err != nil {
			return err
		}
		session, ok := theApp.sessions.Get(owner, args[0])
		if !ok {
			return fmt.Errorf("no cached session for %s/%s", owner.Hex(), args[0])
		}
		sig, err := hex.DecodeString(args[1])
		if err != nil {
			return fmt.Errorf("signature must be hex-encoded: %w", err)
		}
		if err := session.AttachAssertion(sig); err != nil {
			return err
		}
		fmt.Println("assertion attached")
		return nil
	},
}

func init() {
	sessionCmd.PersistentFlags().String("owner", "", "session owner address (0x-prefixed hex)")
	sessionCreateCmd.Flags().Int("ttl-min", 0, "session TTL in minutes (defaults to session.ttl_min config)")
	sessionCmd.AddCommand(sessionCreateCmd, sessionAttachCmd)
}

// SessionCmd is exported for RegisterRoutes.
var SessionCmd = sessionCmd
