package email

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/rs/zerolog"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/source"
)

const (
	testUser     = "archive@example.com"
	testPassword = "secret"
	testMailbox  = "Archive"
)

// startServer runs an in-memory IMAP server with one user and one
// mailbox and returns its address.
func startServer(t *testing.T) string {
	t.Helper()

	memServer := imapmemserver.New()
	user := imapmemserver.NewUser(testUser, testPassword)
	_ = user.Create("INBOX", nil)
	if err := user.Create(testMailbox, nil); err != nil {
		t.Fatalf("creating mailbox: %v", err)
	}
	memServer.AddUser(user)

	server := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return memServer.NewSession(), nil, nil
		},
		Caps:         imap.CapSet{imap.CapIMAP4rev1: {}, imap.CapIMAP4rev2: {}},
		InsecureAuth: true,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	go func() { _ = server.Serve(ln) }()
	t.Cleanup(func() { _ = server.Close() })

	return ln.Addr().String()
}

// appendMessages delivers raw messages into the test mailbox.
func appendMessages(t *testing.T, addr string, raws ...string) {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dialing: %v", err)
	}
	client := imapclient.New(conn, nil)
	defer client.Close()

	if err := client.Login(testUser, testPassword).Wait(); err != nil {
		t.Fatalf("login: %v", err)
	}
	for _, raw := range raws {
		cmd := client.Append(testMailbox, int64(len(raw)), nil)
		if _, err := cmd.Write([]byte(raw)); err != nil {
			t.Fatalf("writing append: %v", err)
		}
		if err := cmd.Close(); err != nil {
			t.Fatalf("closing append: %v", err)
		}
		if _, err := cmd.Wait(); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	_ = client.Logout().Wait()
}

func rawMessage(n int) string {
	return fmt.Sprintf("From: a@example.org\r\nTo: archive@example.com\r\n"+
		"Subject: message %d\r\nMessage-ID: <m%d@example.org>\r\n"+
		"Date: Mon, 02 Jan 2023 15:04:05 +0000\r\n\r\nbody %d\r\n", n, n, n)
}

func newTestClient(t *testing.T, addr string, batch int) *IMAPClient {
	t.Helper()
	c, err := NewIMAPClient(Config{
		Addr:      addr,
		Security:  model.SecurityNone,
		Username:  testUser,
		Password:  testPassword,
		Mailbox:   testMailbox,
		BatchSize: batch,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewIMAPClient: %v", err)
	}
	t.Cleanup(c.Disconnect)
	return c
}

func TestNewIMAPClientRejectsInbox(t *testing.T) {
	for _, mailbox := range []string{"", "INBOX"} {
		_, err := NewIMAPClient(Config{Mailbox: mailbox}, zerolog.Nop())
		if !model.IsConfigError(err) {
			t.Errorf("mailbox %q: got %v, want ConfigError", mailbox, err)
		}
	}
}

func TestIMAPClientSearchFetchMark(t *testing.T) {
	addr := startServer(t)
	appendMessages(t, addr, rawMessage(1), rawMessage(2), rawMessage(3))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := newTestClient(t, addr, 2)
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	uids, total, err := c.SearchUIDsAfter(ctx, 0)
	if err != nil {
		t.Fatalf("SearchUIDsAfter(0): %v", err)
	}
	if total != 3 || len(uids) != 2 || uids[0] != 1 || uids[1] != 2 {
		t.Fatalf("SearchUIDsAfter(0) = %v (total %d), want [1 2] of 3", uids, total)
	}

	uids, total, err = c.SearchUIDsAfter(ctx, 3)
	if err != nil {
		t.Fatalf("SearchUIDsAfter(3): %v", err)
	}
	if total != 0 || len(uids) != 0 {
		t.Fatalf("SearchUIDsAfter(3) = %v (total %d), want none", uids, total)
	}

	raw, err := c.FetchRaw(ctx, 2)
	if err != nil {
		t.Fatalf("FetchRaw(2): %v", err)
	}
	if string(raw) != rawMessage(2) {
		t.Fatalf("FetchRaw(2) = %q", raw)
	}

	if _, err := c.FetchRaw(ctx, 99); !errors.Is(err, source.ErrNotFound) {
		t.Fatalf("FetchRaw(99) error = %v, want ErrNotFound", err)
	}

	if err := c.MarkSeen(ctx, 2); err != nil {
		t.Fatalf("MarkSeen(2): %v", err)
	}

	// Connect again to prove it is idempotent.
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if _, _, err := c.SearchUIDsAfter(ctx, 0); err != nil {
		t.Fatalf("search after reconnect: %v", err)
	}
}

func TestIMAPClientAuthFailure(t *testing.T) {
	addr := startServer(t)

	c, err := NewIMAPClient(Config{
		Addr:     addr,
		Security: model.SecurityNone,
		Username: testUser,
		Password: "wrong",
		Mailbox:  testMailbox,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewIMAPClient: %v", err)
	}

	err = c.Connect(context.Background())
	if !source.IsAuthError(err) {
		t.Fatalf("Connect error = %v, want AuthError", err)
	}
}

func TestIMAPClientRequiresSession(t *testing.T) {
	c := newTestClient(t, "127.0.0.1:1", 0)
	if _, _, err := c.SearchUIDsAfter(context.Background(), 0); !errors.Is(err, source.ErrNotConnected) {
		t.Fatalf("SearchUIDsAfter without session = %v, want ErrNotConnected", err)
	}
	c.Disconnect()
}

func TestIMAPClientIdleOnce(t *testing.T) {
	addr := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := newTestClient(t, addr, 0)
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	result, err := c.IdleOnce(ctx, 300*time.Millisecond)
	if err != nil {
		t.Fatalf("IdleOnce on a quiet mailbox: %v", err)
	}
	if result != source.IdleTimeout {
		t.Fatalf("IdleOnce on a quiet mailbox = %s, want timeout", result)
	}

	type idleReturn struct {
		result source.IdleResult
		err    error
	}
	done := make(chan idleReturn, 1)
	started := time.Now()
	go func() {
		r, err := c.IdleOnce(ctx, 5*time.Second)
		done <- idleReturn{r, err}
	}()

	time.Sleep(100 * time.Millisecond)
	appendMessages(t, addr, rawMessage(1))

	got := <-done
	if got.err != nil {
		t.Fatalf("IdleOnce during delivery: %v", got.err)
	}
	if got.result != source.IdleActivity {
		t.Fatalf("IdleOnce during delivery = %s, want activity", got.result)
	}
	if elapsed := time.Since(started); elapsed >= 5*time.Second {
		t.Fatalf("IdleOnce returned after %v, want before the timeout", elapsed)
	}

	uids, _, err := c.SearchUIDsAfter(ctx, 0)
	if err != nil {
		t.Fatalf("SearchUIDsAfter after IDLE: %v", err)
	}
	if len(uids) != 1 {
		t.Fatalf("SearchUIDsAfter after IDLE = %v, want the delivered message", uids)
	}
}
