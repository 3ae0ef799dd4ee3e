// Package app wires configuration into the archive store, the ingestor
// and the sync runner.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/nhle/mailsync/internal/ingest"
	"github.com/nhle/mailsync/internal/lock"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/source/email"
	"github.com/nhle/mailsync/internal/store"
	appsync "github.com/nhle/mailsync/internal/sync"
	"github.com/nhle/mailsync/internal/threading"
)

// App owns the long-lived resources of one process.
type App struct {
	Config   *model.Config
	Log      zerolog.Logger
	Store    *store.SQLiteStore
	Ingestor *ingest.Ingestor

	closers []func() error
}

// Open opens the archive and builds the ingestor. It needs no mailbox
// settings, so offline commands can use it.
func Open(cfg *model.Config, log zerolog.Logger) (*App, error) {
	s, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}

	resolver := threading.NewResolver(threading.DefaultConfig(), log.With().Str("component", "threading").Logger())
	ing := ingest.New(s, resolver, ingest.Config{
		OwnDomain:   cfg.OwnDomain(),
		Notifier:    s,
		PatchParser: ingest.NewDiffStatParser(log.With().Str("component", "patch").Logger()),
	}, log.With().Str("component", "ingest").Logger())

	return &App{
		Config:   cfg,
		Log:      log,
		Store:    s,
		Ingestor: ing,
		closers:  []func() error{s.Close},
	}, nil
}

// IngestOptions returns the ingest options implied by the configuration.
func (a *App) IngestOptions() ingest.Options {
	return ingest.Options{
		TrustDate:       a.Config.Sync.TrustDate,
		SubjectFallback: a.Config.Sync.SubjectFallback,
	}
}

// NewRunner validates the mailbox settings and builds a sync runner with
// its IMAP client and lock backend.
func (a *App) NewRunner(ctx context.Context, creds CredentialSource) (*appsync.Runner, error) {
	cfg := a.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	password, err := resolvePassword(cfg.IMAP, creds)
	if err != nil {
		return nil, err
	}

	client, err := email.NewIMAPClient(email.Config{
		Addr:      cfg.IMAP.Addr(),
		Security:  cfg.IMAP.Security,
		Username:  cfg.IMAP.Username,
		Password:  password,
		Mailbox:   cfg.IMAP.Mailbox,
		BatchSize: cfg.IMAP.BatchSize,
	}, a.Log.With().Str("component", "imap").Logger())
	if err != nil {
		return nil, err
	}

	locker, err := a.newLocker(ctx)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.Sync.FetchRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Sync.FetchRate), max(1, cfg.Sync.FetchBurst))
	}

	return appsync.New(appsync.Config{
		Label:         cfg.IMAP.Mailbox,
		IdleTimeout:   time.Duration(cfg.IMAP.IdleTimeoutSec) * time.Second,
		IngestOptions: a.IngestOptions(),
		FetchLimiter:  limiter,
	}, client, a.Store, a.Ingestor, locker, a.Log.With().Str("component", "sync").Logger())
}

func (a *App) newLocker(ctx context.Context) (lock.Locker, error) {
	switch a.Config.Lock.Backend {
	case model.LockBackendPostgres:
		pl, err := lock.NewPostgresLocker(ctx, a.Config.Lock.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pl.Close)
		return pl, nil
	default:
		return lock.NewFileLocker(a.Config.Lock.Dir), nil
	}
}

// Close releases every resource in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
