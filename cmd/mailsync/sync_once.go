package main

import (
	"github.com/spf13/cobra"

	"github.com/nhle/mailsync/internal/display"
)

var syncOnceCmd = &cobra.Command{
	Use:   "sync-once",
	Short: "Archive everything beyond the cursor, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		runner, err := a.NewRunner(cmd.Context(), openCredentials())
		if err != nil {
			return err
		}

		pass, err := runner.RunSyncOnce(cmd.Context())
		if err != nil {
			return err
		}

		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), pass)
		}
		display.SuccessMsg(cmd.OutOrStdout(),
			"%d fetched, %d archived, %d duplicates, %d failed (cursor %d)",
			pass.Fetched, pass.Ingested, pass.Duplicates, pass.Failed, pass.Cursor)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncOnceCmd)
}
