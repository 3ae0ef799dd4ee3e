package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nhle/mailsync/internal/app"
	"github.com/nhle/mailsync/internal/credential"
	"github.com/nhle/mailsync/internal/logging"
	"github.com/nhle/mailsync/internal/model"
)

// Version is set via ldflags at build time.
var Version = "dev"

var (
	configPath string
	jsonOutput bool
	logLevel   string

	cfg    *model.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "mailsync",
	Short:         "Archive a mailbox into a threaded, deduplicated message store",
	Long:          "mailsync keeps one IMAP mailbox label mirrored into a local archive, threading replies and skipping duplicate deliveries.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch cmd.Name() {
		case "help", "version":
			return nil
		}

		var err error
		cfg, err = model.LoadConfig(configFilePath())
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}

		logger, err = logging.New(logging.Options{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
		})
		return err
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "mailsync version %s\n", Version)
	},
}

// configFilePath returns --config or the default location.
func configFilePath() string {
	if configPath != "" {
		return configPath
	}
	return model.DefaultConfigPath()
}

// openApp opens the archive for commands that need it.
func openApp() (*app.App, error) {
	return app.Open(cfg, logger)
}

// openCredentials returns the system keyring, or nil when none is usable.
func openCredentials() app.CredentialSource {
	creds, err := credential.Open("")
	if err != nil {
		logger.Debug().Err(err).Msg("Keyring unavailable")
		return nil
	}
	return creds
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ~/.config/mailsync/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (trace, debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
