// Package sync drives a single mailbox label: it holds the label's lock,
// keeps an IMAP session open, waits in IDLE and archives every new UID in
// ascending order while advancing a durable cursor.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/nhle/mailsync/internal/ingest"
	"github.com/nhle/mailsync/internal/lock"
	"github.com/nhle/mailsync/internal/metrics"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/source"
)

// State is the runner's position in its lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateCatchingUp State = "catching_up"
	StateWaiting    State = "waiting"
	StateSyncing    State = "syncing"
	StateBackoff    State = "backoff"
	StateStopped    State = "stopped"
)

const (
	defaultIdleTimeout = 25 * time.Minute
	initialBackoff     = time.Second
	defaultMaxBackoff  = 60 * time.Second

	// releaseTimeout bounds lock release and the final state save on
	// shutdown, which run after the caller's context may be done.
	releaseTimeout = 5 * time.Second
)

// Mailbox is the protocol session the runner drives.
type Mailbox interface {
	Connect(ctx context.Context) error
	Disconnect()
	UIDValidity() uint32
	SearchUIDsAfter(ctx context.Context, uid uint32) ([]uint32, int, error)
	FetchRaw(ctx context.Context, uid uint32) ([]byte, error)
	MarkSeen(ctx context.Context, uid uint32) error
	IdleOnce(ctx context.Context, timeout time.Duration) (source.IdleResult, error)
}

// StateStore persists the cursor and diagnostics.
type StateStore interface {
	GetSyncState(ctx context.Context, label string) (*model.SyncState, error)
	SaveSyncState(ctx context.Context, st *model.SyncState) error
}

// Ingester archives one raw message.
type Ingester interface {
	Ingest(ctx context.Context, raw []byte, opts ingest.Options) (*ingest.Result, error)
}

// Config holds the runner settings.
type Config struct {
	// Label names the mailbox and the lock.
	Label string

	// IdleTimeout bounds one IDLE wait when RunOptions leaves it unset.
	IdleTimeout time.Duration

	// MaxBackoff caps the reconnect delay.
	MaxBackoff time.Duration

	IngestOptions ingest.Options

	// FetchLimiter paces fetches when set.
	FetchLimiter *rate.Limiter

	// Sleep and Now are replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// RunOptions bound a Run call.
type RunOptions struct {
	// MaxCycles stops the loop after this many iterations. Every
	// iteration counts, failed ones included. Zero means no limit.
	MaxCycles int

	IdleTimeout time.Duration
}

// PassResult holds the counters of a sync pass or a whole catch-up.
type PassResult struct {
	Fetched     int    `json:"fetched"`
	Ingested    int    `json:"ingested"`
	Duplicates  int    `json:"duplicates"`
	Failed      int    `json:"failed"`
	Vanished    int    `json:"vanished"`
	Attachments int    `json:"attachments"`
	PatchFiles  int    `json:"patch_files"`
	Backlog     int    `json:"backlog"`
	Cursor      uint32 `json:"cursor"`
}

func (p *PassResult) add(o PassResult) {
	p.Fetched += o.Fetched
	p.Ingested += o.Ingested
	p.Duplicates += o.Duplicates
	p.Failed += o.Failed
	p.Vanished += o.Vanished
	p.Attachments += o.Attachments
	p.PatchFiles += o.PatchFiles
	p.Cursor = o.Cursor
}

// Diagnostics is a read-only copy of the runner's state.
type Diagnostics struct {
	State State `json:"state"`
	model.SyncState
}

// StoreError wraps a failure to read or persist sync state. It is fatal
// to Run.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("sync state %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Runner orchestrates lock, session, IDLE and ingest for one label.
type Runner struct {
	cfg      Config
	mailbox  Mailbox
	store    StateStore
	ingester Ingester
	locker   lock.Locker
	log      zerolog.Logger

	mu    gosync.Mutex
	state State
	snap  model.SyncState

	stopOnce gosync.Once
	stopCh   chan struct{}
}

// New creates a Runner for cfg.Label.
func New(
	cfg Config,
	mailbox Mailbox,
	store StateStore,
	ingester Ingester,
	locker lock.Locker,
	log zerolog.Logger,
) (*Runner, error) {
	if err := model.ValidateMailbox(cfg.Label); err != nil {
		return nil, err
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runner{
		cfg:      cfg,
		mailbox:  mailbox,
		store:    store,
		ingester: ingester,
		locker:   locker,
		log:      log.With().Str("label", cfg.Label).Logger(),
		state:    StateIdle,
		snap:     model.SyncState{Label: cfg.Label},
		stopCh:   make(chan struct{}),
	}, nil
}

// RequestStop asks Run to finish. It is observed between iterations and
// during backoff sleeps, never inside a protocol call. Safe to call more
// than once and from any goroutine.
func (r *Runner) RequestStop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Runner) stopRequested() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

// Snapshot returns the current state and the last persisted SyncState.
func (r *Runner) Snapshot() Diagnostics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Diagnostics{State: r.state, SyncState: r.snap}
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != s {
		r.log.Debug().Str("from", string(r.state)).Str("to", string(s)).Msg("Runner state changed")
	}
	r.state = s
}

// Run holds the label's lock and loops until stopped, until MaxCycles
// iterations have run, or until a fatal error. Lock contention returns
// nil without doing anything. Cancelling ctx is treated as a stop.
func (r *Runner) Run(ctx context.Context, opts RunOptions) error {
	lease, err := r.locker.TryAcquire(ctx, r.cfg.Label)
	if errors.Is(err, lock.ErrLocked) {
		r.log.Info().Msg("Another instance holds the lock; nothing to do")
		return nil
	}
	if err != nil {
		r.recordFatal(err)
		return fmt.Errorf("acquiring lock for %s: %w", r.cfg.Label, err)
	}
	defer r.release(lease)
	defer r.setState(StateStopped)
	defer r.mailbox.Disconnect()

	st, err := r.loadState(ctx)
	if err != nil {
		return err
	}

	idleTimeout := opts.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = r.cfg.IdleTimeout
	}

	r.log.Info().
		Uint32("cursor", st.LastUID).
		Int("max_cycles", opts.MaxCycles).
		Dur("idle_timeout", idleTimeout).
		Msg("Sync runner started")

	connected := false
	backoff := initialBackoff
	for cycle := 0; opts.MaxCycles == 0 || cycle < opts.MaxCycles; cycle++ {
		if r.stopRequested() || ctx.Err() != nil {
			break
		}

		started := r.cfg.Now()
		var (
			pass    PassResult
			passErr error
		)
		if !connected {
			pass, passErr = r.connectAndCatchUp(ctx, st)
			connected = passErr == nil
		} else if passErr = r.waitForChange(ctx, idleTimeout); passErr != nil {
			pass = PassResult{Cursor: st.LastUID}
		} else {
			// Cycle duration covers the work after the wake, not the wait.
			started = r.cfg.Now()
			r.setState(StateSyncing)
			pass, passErr = r.catchUp(ctx, st)
		}

		if ctx.Err() != nil {
			break
		}

		if passErr != nil {
			var storeErr *StoreError
			if errors.As(passErr, &storeErr) {
				r.recordFatal(passErr)
				return passErr
			}

			connected = false
			r.mailbox.Disconnect()

			delay := min(backoff, r.cfg.MaxBackoff)
			if err := r.recordFailure(ctx, st, passErr, delay); err != nil {
				return err
			}
			if r.stopRequested() {
				break
			}
			r.setState(StateBackoff)
			if err := r.sleep(ctx, delay); err != nil {
				break
			}
			backoff = min(backoff*2, r.cfg.MaxBackoff)
			continue
		}

		backoff = initialBackoff
		if err := r.recordSuccess(ctx, st, pass, started); err != nil {
			return err
		}
	}

	r.log.Info().Uint32("cursor", st.LastUID).Msg("Sync runner stopped")
	return nil
}

// RunSyncOnce connects, drains every UID beyond the cursor and
// disconnects. Lock contention returns zero counts and nil.
func (r *Runner) RunSyncOnce(ctx context.Context) (PassResult, error) {
	lease, err := r.locker.TryAcquire(ctx, r.cfg.Label)
	if errors.Is(err, lock.ErrLocked) {
		r.log.Info().Msg("Another instance holds the lock; nothing to do")
		return PassResult{}, nil
	}
	if err != nil {
		r.recordFatal(err)
		return PassResult{}, fmt.Errorf("acquiring lock for %s: %w", r.cfg.Label, err)
	}
	defer r.release(lease)
	defer r.setState(StateStopped)
	defer r.mailbox.Disconnect()

	st, err := r.loadState(ctx)
	if err != nil {
		return PassResult{}, err
	}

	started := r.cfg.Now()
	pass, err := r.connectAndCatchUp(ctx, st)
	if err != nil {
		var storeErr *StoreError
		if !errors.As(err, &storeErr) && ctx.Err() == nil {
			if saveErr := r.recordFailure(ctx, st, err, 0); saveErr != nil {
				return pass, saveErr
			}
		}
		return pass, err
	}
	if err := r.recordSuccess(ctx, st, pass, started); err != nil {
		return pass, err
	}
	return pass, nil
}

func (r *Runner) loadState(ctx context.Context) (*model.SyncState, error) {
	st, err := r.store.GetSyncState(ctx, r.cfg.Label)
	if err != nil {
		err = &StoreError{Op: "load", Err: err}
		r.recordFatal(err)
		return nil, err
	}
	r.publish(st)
	return st, nil
}

func (r *Runner) saveState(ctx context.Context, st *model.SyncState) error {
	if err := r.store.SaveSyncState(ctx, st); err != nil {
		return &StoreError{Op: "save", Err: err}
	}
	r.publish(st)
	return nil
}

func (r *Runner) publish(st *model.SyncState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap = *st
}

func (r *Runner) release(lease lock.Lease) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := lease.Release(ctx); err != nil {
		r.log.Warn().Err(err).Msg("Releasing lock failed")
	}
}

// connectAndCatchUp opens a session, checks UIDVALIDITY and drains the
// backlog.
func (r *Runner) connectAndCatchUp(ctx context.Context, st *model.SyncState) (PassResult, error) {
	r.setState(StateConnecting)
	if err := r.mailbox.Connect(ctx); err != nil {
		return PassResult{Cursor: st.LastUID}, err
	}

	if v := r.mailbox.UIDValidity(); v != 0 && v != st.UIDValidity {
		if st.UIDValidity != 0 {
			r.log.Warn().
				Uint32("old", st.UIDValidity).
				Uint32("new", v).
				Uint32("cursor", st.LastUID).
				Msg("UIDVALIDITY changed; restarting from the first UID")
			st.LastUID = 0
		}
		st.UIDValidity = v
		if err := r.saveState(ctx, st); err != nil {
			return PassResult{Cursor: st.LastUID}, err
		}
	}

	r.setState(StateCatchingUp)
	return r.catchUp(ctx, st)
}

// catchUp repeats sync passes until a search finds nothing new or a pass
// fails to move the cursor.
func (r *Runner) catchUp(ctx context.Context, st *model.SyncState) (PassResult, error) {
	total := PassResult{Cursor: st.LastUID}
	for first := true; ; first = false {
		before := st.LastUID
		pass, err := r.syncPass(ctx, st)
		if first {
			total.Backlog = pass.Backlog
		}
		total.add(pass)
		if err != nil {
			return total, err
		}
		if pass.Backlog == 0 || st.LastUID == before {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

// waitForChange blocks in IDLE until the server reports a change or the
// timeout elapses. Either way the caller drains the mailbox afterwards.
func (r *Runner) waitForChange(ctx context.Context, idleTimeout time.Duration) error {
	r.setState(StateWaiting)
	result, err := r.mailbox.IdleOnce(ctx, idleTimeout)
	if err != nil {
		return err
	}
	r.log.Debug().Stringer("idle", result).Msg("Woke from IDLE")
	return nil
}

// syncPass searches beyond the cursor and processes each UID in
// ascending order. A failed ingest leaves the cursor where it is and the
// pass moves on, so a later success in the same batch skips the failed
// UID for good.
func (r *Runner) syncPass(ctx context.Context, st *model.SyncState) (PassResult, error) {
	uids, backlog, err := r.mailbox.SearchUIDsAfter(ctx, st.LastUID)
	res := PassResult{Backlog: backlog, Cursor: st.LastUID}
	if err != nil {
		return res, err
	}

	for _, uid := range uids {
		if uid <= st.LastUID {
			continue
		}
		log := r.log.With().Uint32("uid", uid).Logger()

		if r.cfg.FetchLimiter != nil {
			if err := r.cfg.FetchLimiter.Wait(ctx); err != nil {
				return res, err
			}
		}

		raw, err := r.mailbox.FetchRaw(ctx, uid)
		if errors.Is(err, source.ErrNotFound) {
			log.Info().Msg("UID vanished before fetch; skipping")
			res.Vanished++
			if err := r.advance(ctx, st, uid); err != nil {
				return res, err
			}
			res.Cursor = uid
			continue
		}
		if err != nil {
			return res, err
		}
		res.Fetched++

		result, err := r.ingester.Ingest(ctx, raw, r.cfg.IngestOptions)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			log.Error().Err(err).Bool("parse_error", ingest.IsParseError(err)).Msg("Ingest failed")
			continue
		}

		switch result.Outcome {
		case ingest.OutcomeCreated:
			res.Ingested++
			res.Attachments += result.Attachments
			res.PatchFiles += result.PatchFiles
		case ingest.OutcomeDuplicate:
			res.Duplicates++
		}
		log.Debug().
			Str("message_id", result.Message.MessageID).
			Str("outcome", string(result.Outcome)).
			Str("thread_method", string(result.Method)).
			Msg("Message archived")

		if err := r.mailbox.MarkSeen(ctx, uid); err != nil {
			return res, err
		}
		if err := r.advance(ctx, st, uid); err != nil {
			return res, err
		}
		res.Cursor = uid
	}
	return res, nil
}

func (r *Runner) advance(ctx context.Context, st *model.SyncState, uid uint32) error {
	prev := st.LastUID
	st.LastUID = uid
	if err := r.saveState(ctx, st); err != nil {
		st.LastUID = prev
		return err
	}
	return nil
}

func (r *Runner) recordSuccess(
	ctx context.Context,
	st *model.SyncState,
	pass PassResult,
	started time.Time,
) error {
	now := r.cfg.Now()
	duration := now.Sub(started)

	st.LastCheckedAt = &now
	st.LastCycleStartedAt = &started
	st.LastCycleDurationMS = duration.Milliseconds()
	st.LastFetched = pass.Fetched
	st.LastIngested = pass.Ingested
	st.LastDuplicates = pass.Duplicates
	st.LastAttachments = pass.Attachments
	st.LastPatchFiles = pass.PatchFiles
	st.LastFailed = pass.Failed
	st.LastBacklog = pass.Backlog
	st.ConsecutiveErrorCount = 0
	st.BackoffSeconds = 0

	if err := r.saveState(ctx, st); err != nil {
		r.recordFatal(err)
		return err
	}

	metrics.ObservePass(r.cfg.Label, metrics.Pass{
		Fetched:     pass.Fetched,
		Ingested:    pass.Ingested,
		Duplicates:  pass.Duplicates,
		Failed:      pass.Failed,
		Vanished:    pass.Vanished,
		Attachments: pass.Attachments,
		PatchFiles:  pass.PatchFiles,
		Backlog:     pass.Backlog,
		Cursor:      st.LastUID,
		Duration:    duration,
	})
	metrics.ObserveHealthy(r.cfg.Label)

	if pass.Fetched > 0 || pass.Vanished > 0 {
		r.log.Info().
			Int("fetched", pass.Fetched).
			Int("ingested", pass.Ingested).
			Int("duplicates", pass.Duplicates).
			Int("failed", pass.Failed).
			Int("backlog", pass.Backlog).
			Uint32("cursor", st.LastUID).
			Dur("duration", duration).
			Msg("Sync cycle complete")
	}
	return nil
}

func (r *Runner) recordFailure(
	ctx context.Context,
	st *model.SyncState,
	cause error,
	delay time.Duration,
) error {
	class := errorClass(cause)
	now := r.cfg.Now()

	st.LastCheckedAt = &now
	st.ConsecutiveErrorCount++
	st.LastError = cause.Error()
	st.LastErrorClass = class
	st.BackoffSeconds = int(delay / time.Second)

	metrics.ObserveCycleError(r.cfg.Label, class, delay)
	r.log.Warn().
		Err(cause).
		Str("class", class).
		Int("consecutive_errors", st.ConsecutiveErrorCount).
		Dur("backoff", delay).
		Msg("Sync cycle failed")

	if err := r.saveState(ctx, st); err != nil {
		r.recordFatal(err)
		return err
	}
	return nil
}

// recordFatal updates the in-memory snapshot only; the store may be the
// thing that failed.
func (r *Runner) recordFatal(err error) {
	r.mu.Lock()
	r.snap.LastError = err.Error()
	r.snap.LastErrorClass = errorClass(err)
	r.snap.ConsecutiveErrorCount++
	r.mu.Unlock()

	r.log.Error().Err(err).Msg("Sync runner failed")
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	if r.cfg.Sleep != nil {
		return r.cfg.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-r.stopCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
