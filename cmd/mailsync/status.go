package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/mailsync/internal/display"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/store"
)

type statusOutput struct {
	Archive             store.Stats       `json:"archive"`
	UnreadNotifications int               `json:"unread_notifications"`
	Mailboxes           []model.SyncState `json:"mailboxes"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"st"},
	Short:   "Show archive totals and per-mailbox sync diagnostics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		stats, err := a.Store.GetStats(ctx)
		if err != nil {
			return err
		}
		states, err := a.Store.ListSyncStates(ctx)
		if err != nil {
			return err
		}
		unread, err := a.Store.GetUnreadNotifications(ctx)
		if err != nil {
			return err
		}

		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), statusOutput{
				Archive:             stats,
				UnreadNotifications: len(unread),
				Mailboxes:           states,
			})
		}
		fmt.Fprint(cmd.OutOrStdout(), display.RenderStatus(states, stats, len(unread), time.Now()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
