package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nhle/mailsync/internal/display"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage sender identities",
}

var identityLinkCmd = &cobra.Command{
	Use:   "link ADDRESS EXISTING_ADDRESS",
	Short: "Attach ADDRESS as an alias of the identity that owns EXISTING_ADDRESS",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		ident, err := a.Store.GetIdentityByAddress(ctx, args[1])
		if err != nil {
			return err
		}
		if ident == nil {
			return fmt.Errorf("no identity owns %s", args[1])
		}
		if err := a.Store.AttachIdentity(ctx, ident.ID, args[0]); err != nil {
			return err
		}

		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), map[string]string{"identity_id": ident.ID, "address": args[0]})
		}
		display.SuccessMsg(cmd.OutOrStdout(), "%s now belongs to %s", args[0], ident.Name)
		return nil
	},
}

func init() {
	identityCmd.AddCommand(identityLinkCmd)
	rootCmd.AddCommand(identityCmd)
}
