package app

import (
	"errors"
	"fmt"

	"github.com/nhle/mailsync/internal/credential"
	"github.com/nhle/mailsync/internal/model"
)

// CredentialSource looks up stored secrets by key.
type CredentialSource interface {
	Get(key string) (string, error)
}

// resolvePassword prefers the configured password and falls back to the
// keyring entry for the IMAP username.
func resolvePassword(cfg model.IMAPConfig, creds CredentialSource) (string, error) {
	if cfg.Password != "" {
		return cfg.Password, nil
	}
	if creds == nil {
		return "", &model.ConfigError{Field: "imap.password", Message: "no password configured and no keyring available"}
	}

	key := credential.IMAPPasswordKey(cfg.Username)
	password, err := creds.Get(key)
	if errors.Is(err, credential.ErrNotFound) {
		return "", &model.ConfigError{
			Field:   "imap.password",
			Message: fmt.Sprintf("no password configured and none stored under %q; run 'mailsync credential set'", key),
		}
	}
	if err != nil {
		return "", err
	}
	return password, nil
}
