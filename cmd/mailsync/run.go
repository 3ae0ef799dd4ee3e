package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/mailsync/internal/logging"
	"github.com/nhle/mailsync/internal/metrics"
	appsync "github.com/nhle/mailsync/internal/sync"
)

var (
	runMaxCycles   int
	runIdleTimeout time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Keep the mailbox archived until stopped",
	Long: `Hold the mailbox lock, catch up on every message beyond the stored
cursor, then wait in IDLE and archive new mail as it arrives.

The first SIGINT/SIGTERM stops after the current cycle; a second one
aborts immediately. If another instance holds the lock, run exits 0.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		runner, err := a.NewRunner(ctx, openCredentials())
		if err != nil {
			return err
		}

		opts := appsync.RunOptions{MaxCycles: cfg.Sync.MaxCycles, IdleTimeout: runIdleTimeout}
		if cmd.Flags().Changed("max-cycles") {
			opts.MaxCycles = runMaxCycles
		}

		logger.Info().
			Str("host", cfg.IMAP.Host).
			Str("username", logging.Addresses(cfg.Log.RedactAddresses)(cfg.IMAP.Username)).
			Str("label", cfg.IMAP.Mailbox).
			Msg("Starting mailsync")

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			defer cancel()
			return runner.Run(gctx, opts)
		})
		g.Go(func() error {
			watchSignals(gctx, runner, cancel)
			return nil
		})
		if cfg.Metrics.Addr != "" {
			srv := newDiagnosticsServer(cfg.Metrics.Addr, runner)
			g.Go(func() error {
				logger.Info().Str("addr", cfg.Metrics.Addr).Msg("Serving metrics")
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
				defer stop()
				return srv.Shutdown(shutdownCtx)
			})
		}
		return g.Wait()
	},
}

// watchSignals turns the first signal into a graceful stop and the second
// into cancellation.
func watchSignals(ctx context.Context, runner *appsync.Runner, cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info().Stringer("signal", sig).Msg("Stop requested; finishing the current cycle")
		runner.RequestStop()
	case <-ctx.Done():
		return
	}

	select {
	case sig := <-sigCh:
		logger.Warn().Stringer("signal", sig).Msg("Second signal; aborting")
		cancel()
	case <-ctx.Done():
	}
}

func newDiagnosticsServer(addr string, runner *appsync.Runner) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/debug/sync", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := writeJSON(w, runner.Snapshot()); err != nil {
			logger.Warn().Err(err).Msg("Writing diagnostics failed")
		}
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func init() {
	runCmd.Flags().IntVar(&runMaxCycles, "max-cycles", 0, "Stop after this many cycles (default: sync.max_cycles, 0 = unlimited)")
	runCmd.Flags().DurationVar(&runIdleTimeout, "idle-timeout", 0, "Override the IDLE wait (default: imap.idle_timeout_sec)")
	rootCmd.AddCommand(runCmd)
}
