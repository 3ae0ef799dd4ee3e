package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/mailsync/internal/credential"
	"github.com/nhle/mailsync/internal/display"
	"github.com/nhle/mailsync/internal/model"
)

var credentialUsername string

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Manage the IMAP password in the system keyring",
}

var credentialSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store the IMAP password in the system keyring",
	Long: `Prompt for the IMAP password and store it in the system keyring. When
stdin is not a terminal the first line of stdin is used instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if credentialUsername != "" {
			changed, err := saveUsername(configFilePath(), cfg, credentialUsername)
			if err != nil {
				return err
			}
			if changed {
				display.SuccessMsg(cmd.OutOrStdout(), "Saved imap.username to %s", configFilePath())
			}
		}
		if cfg.IMAP.Username == "" {
			return errors.New("imap.username must be configured (or passed with --username) before storing a password")
		}

		password, err := readPassword(cmd.InOrStdin(), cfg.IMAP.Username)
		if err != nil {
			return err
		}

		creds, err := credential.Open("")
		if err != nil {
			return err
		}
		key := credential.IMAPPasswordKey(cfg.IMAP.Username)
		if err := creds.Set(key, password); err != nil {
			return err
		}
		display.SuccessMsg(cmd.OutOrStdout(), "Stored password under %s", key)
		return nil
	},
}

// saveUsername records username in the config file when it differs from
// the loaded value.
func saveUsername(path string, c *model.Config, username string) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" || username == c.IMAP.Username {
		return false, nil
	}
	c.IMAP.Username = username
	if err := model.SaveConfig(path, c); err != nil {
		return false, err
	}
	return true, nil
}

func readPassword(in io.Reader, username string) (string, error) {
	if f, ok := in.(*os.File); ok && isTerminal(f) {
		var password string
		err := huh.NewInput().
			Title("IMAP password").
			Description("Password for " + username).
			EchoMode(huh.EchoModePassword).
			Value(&password).
			Validate(func(s string) error {
				if s == "" {
					return errors.New("password is required")
				}
				return nil
			}).
			Run()
		return password, err
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return "", errors.New("empty password")
	}
	return password, nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

func init() {
	credentialSetCmd.Flags().StringVar(&credentialUsername, "username", "", "IMAP username to store in the config file first")
	credentialCmd.AddCommand(credentialSetCmd)
	rootCmd.AddCommand(credentialCmd)
}
