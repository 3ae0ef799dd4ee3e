package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/rs/zerolog"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/source"
)

// Config holds everything needed to open a session on one mailbox.
type Config struct {
	Addr     string
	Security string
	Username string
	Password string
	Mailbox  string

	// BatchSize bounds the UIDs returned by one search. Zero means no bound.
	BatchSize int

	DialTimeout time.Duration
	TLSConfig   *tls.Config
}

// IMAPClient wraps go-imap v2 as a long-lived session bound to a single
// mailbox. It is not safe for concurrent use beyond Disconnect, which may
// be called from any goroutine.
type IMAPClient struct {
	cfg Config
	log zerolog.Logger

	mu          sync.Mutex
	client      *imapclient.Client
	uidValidity uint32

	// activity receives a token whenever the server pushes mailbox
	// changes while a session is open.
	activity chan struct{}
}

// NewIMAPClient creates a client for cfg. It fails with a configuration
// error when no usable mailbox label is supplied.
func NewIMAPClient(cfg Config, log zerolog.Logger) (*IMAPClient, error) {
	if err := model.ValidateMailbox(cfg.Mailbox); err != nil {
		return nil, err
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	return &IMAPClient{
		cfg:      cfg,
		log:      log.With().Str("mailbox", cfg.Mailbox).Logger(),
		activity: make(chan struct{}, 1),
	}, nil
}

// Mailbox returns the label this client is bound to.
func (c *IMAPClient) Mailbox() string {
	return c.cfg.Mailbox
}

// Connect opens a fresh session, authenticates and selects the mailbox.
// Any existing session is torn down first.
func (c *IMAPClient) Connect(ctx context.Context) error {
	c.Disconnect()
	c.drainActivity()

	opts := &imapclient.Options{
		TLSConfig: c.cfg.TLSConfig,
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil {
					c.signalActivity()
				}
			},
			Expunge: func(uint32) {
				c.signalActivity()
			},
		},
	}

	client, err := c.dial(ctx, opts)
	if err != nil {
		return fmt.Errorf("connecting to IMAP %s: %w", c.cfg.Addr, err)
	}

	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	if err := client.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
		_ = client.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &source.AuthError{
			Username: c.cfg.Username,
			Message:  fmt.Sprintf("authentication failed: %v", err),
		}
	}

	data, err := client.Select(c.cfg.Mailbox, nil).Wait()
	if err != nil {
		_ = client.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &source.ProtocolError{Op: "select " + c.cfg.Mailbox, Err: err}
	}

	c.mu.Lock()
	c.client = client
	c.uidValidity = data.UIDValidity
	c.mu.Unlock()

	c.log.Debug().
		Uint32("uid_validity", data.UIDValidity).
		Uint32("messages", data.NumMessages).
		Msg("IMAP session ready")
	return nil
}

func (c *IMAPClient) dial(
	ctx context.Context, opts *imapclient.Options,
) (*imapclient.Client, error) {
	switch c.cfg.Security {
	case model.SecurityTLS:
		return imapclient.DialTLS(c.cfg.Addr, opts)
	case model.SecurityStartTLS:
		return imapclient.DialStartTLS(c.cfg.Addr, opts)
	default:
		dialer := &net.Dialer{Timeout: c.cfg.DialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr)
		if err != nil {
			return nil, err
		}
		return imapclient.New(conn, opts), nil
	}
}

// Disconnect closes the session if one is open. Errors are swallowed.
func (c *IMAPClient) Disconnect() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client == nil {
		return
	}
	_ = client.Logout().Wait()
	_ = client.Close()
}

// UIDValidity returns the UIDVALIDITY reported when the mailbox was selected.
func (c *IMAPClient) UIDValidity() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uidValidity
}

func (c *IMAPClient) session() (*imapclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, source.ErrNotConnected
	}
	return c.client, nil
}

// SearchUIDsAfter returns UIDs strictly greater than uid in ascending
// order, bounded by the batch size, together with the total number of
// matching UIDs on the server.
func (c *IMAPClient) SearchUIDsAfter(
	ctx context.Context, uid uint32,
) ([]uint32, int, error) {
	client, err := c.session()
	if err != nil {
		return nil, 0, err
	}
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	var set imap.UIDSet
	set.AddRange(imap.UID(uid+1), 0)

	data, err := client.UIDSearch(&imap.SearchCriteria{
		UID: []imap.UIDSet{set},
	}, nil).Wait()
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, &source.ProtocolError{Op: "search", Err: err}
	}

	// "n:*" always matches the highest UID, even when it is below n.
	var uids []uint32
	for _, u := range data.AllUIDs() {
		if uint32(u) > uid {
			uids = append(uids, uint32(u))
		}
	}
	slices.Sort(uids)
	uids = slices.Compact(uids)

	total := len(uids)
	if c.cfg.BatchSize > 0 && len(uids) > c.cfg.BatchSize {
		uids = uids[:c.cfg.BatchSize]
	}
	return uids, total, nil
}

// FetchRaw returns the full RFC 5322 bytes of a message without setting
// the \Seen flag. It returns source.ErrNotFound when the UID is gone.
func (c *IMAPClient) FetchRaw(ctx context.Context, uid uint32) ([]byte, error) {
	client, err := c.session()
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})

	msgs, err := fetchCmd.Collect()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &source.ProtocolError{Op: fmt.Sprintf("fetch uid %d", uid), Err: err}
	}

	for _, msg := range msgs {
		if uint32(msg.UID) != uid {
			continue
		}
		if raw := msg.FindBodySection(bodySection); raw != nil {
			return raw, nil
		}
	}
	return nil, fmt.Errorf("uid %d: %w", uid, source.ErrNotFound)
}

// MarkSeen sets the \Seen flag on uid.
func (c *IMAPClient) MarkSeen(ctx context.Context, uid uint32) error {
	client, err := c.session()
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	storeCmd := client.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &source.ProtocolError{Op: fmt.Sprintf("store uid %d", uid), Err: err}
	}
	return nil
}

// IdleOnce blocks in IDLE until the server reports a mailbox change or
// timeout elapses.
func (c *IMAPClient) IdleOnce(
	ctx context.Context, timeout time.Duration,
) (source.IdleResult, error) {
	client, err := c.session()
	if err != nil {
		return source.IdleTimeout, err
	}

	select {
	case <-c.activity:
		return source.IdleActivity, nil
	default:
	}

	idleCmd, err := client.Idle()
	if err != nil {
		return source.IdleTimeout, &source.ProtocolError{Op: "idle", Err: err}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	result := source.IdleTimeout
	select {
	case <-c.activity:
		result = source.IdleActivity
	case <-timer.C:
	case <-ctx.Done():
		_ = idleCmd.Close()
		return source.IdleTimeout, ctx.Err()
	}

	if err := idleCmd.Close(); err != nil {
		return result, &source.ProtocolError{Op: "idle done", Err: err}
	}
	c.log.Debug().Stringer("result", result).Msg("IDLE returned")
	return result, nil
}

func (c *IMAPClient) signalActivity() {
	select {
	case c.activity <- struct{}{}:
	default:
	}
}

func (c *IMAPClient) drainActivity() {
	select {
	case <-c.activity:
	default:
	}
}
