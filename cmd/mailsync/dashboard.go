package main

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/nhle/mailsync/internal/ui"
)

var dashboardInterval time.Duration

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Watch sync diagnostics and new archive activity live",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		p := tea.NewProgram(
			ui.NewDashboard(a.Store, dashboardInterval),
			tea.WithAltScreen(),
			tea.WithContext(cmd.Context()),
		)
		_, err = p.Run()
		return err
	},
}

func init() {
	dashboardCmd.Flags().DurationVar(&dashboardInterval, "interval", 5*time.Second, "Refresh interval")
	rootCmd.AddCommand(dashboardCmd)
}
