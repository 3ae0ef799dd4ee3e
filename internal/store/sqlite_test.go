package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/store"
	"github.com/nhle/mailsync/tests/testutil"
)

func ptr[T any](v T) *T { return &v }

// seedThread creates an identity, a thread and a root message in one
// transaction and returns the message.
func seedThread(t *testing.T, s *store.SQLiteStore, messageID, subjectKey string, at time.Time) *model.Message {
	t.Helper()
	ctx := context.Background()

	var msg *model.Message
	err := s.WithTx(ctx, func(tx store.Tx) error {
		sender, err := tx.ResolveOrCreateIdentity(ctx, "Alice", "alice@example.org")
		if err != nil {
			return err
		}
		thread := &model.Thread{CreatorID: sender.ID, Title: "hello", CreatedAt: at}
		if err := tx.CreateThread(ctx, thread); err != nil {
			return err
		}
		msg = &model.Message{
			MessageID:  messageID,
			ThreadID:   thread.ID,
			SenderID:   sender.ID,
			Subject:    "hello",
			SubjectKey: subjectKey,
			Body:       "body",
			CreatedAt:  at,
		}
		return tx.CreateMessage(ctx, msg)
	})
	if err != nil {
		t.Fatalf("seeding thread: %v", err)
	}
	return msg
}

func TestMessageRoundTrip(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	created := seedThread(t, s, "root@x", "hello", at)

	got, err := s.GetMessageByMessageID(ctx, "root@x")
	if err != nil {
		t.Fatalf("GetMessageByMessageID: %v", err)
	}
	if got == nil || got.ID != created.ID {
		t.Fatalf("got %+v, want id %s", got, created.ID)
	}
	if !got.CreatedAt.Equal(at) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, at)
	}
	if got.ReplyToID != nil || got.ImportLog != nil {
		t.Errorf("nullable columns should be nil: %+v", got)
	}

	missing, err := s.GetMessageByMessageID(ctx, "nope@x")
	if err != nil || missing != nil {
		t.Fatalf("missing message = %+v, %v; want nil, nil", missing, err)
	}

	thread, err := s.GetThread(ctx, created.ThreadID)
	if err != nil || thread == nil {
		t.Fatalf("GetThread = %+v, %v", thread, err)
	}
	if thread.Title != "hello" {
		t.Errorf("thread title = %q", thread.Title)
	}
}

func TestDuplicateMessageIDRejected(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	first := seedThread(t, s, "dup@x", "dup", time.Now())

	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateMessage(ctx, &model.Message{
			MessageID: "dup@x",
			ThreadID:  first.ThreadID,
			SenderID:  first.SenderID,
			CreatedAt: time.Now(),
		})
	})
	if err == nil {
		t.Fatalf("inserting a duplicate message_id succeeded")
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Messages != 1 || stats.Threads != 1 {
		t.Fatalf("stats = %+v, want 1 message in 1 thread", stats)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.ResolveOrCreateIdentity(ctx, "Bob", "bob@example.org"); err != nil {
			return err
		}
		return context.Canceled
	})
	if err != context.Canceled {
		t.Fatalf("WithTx error = %v, want context.Canceled", err)
	}

	ident, err := s.GetIdentityByAddress(ctx, "bob@example.org")
	if err != nil {
		t.Fatalf("GetIdentityByAddress: %v", err)
	}
	if ident != nil {
		t.Fatalf("identity survived rollback: %+v", ident)
	}
}

func TestFindMessagesBySubjectKeyWindow(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)

	seedThread(t, s, "old@x", "topic", base.AddDate(0, 0, -40))
	seedThread(t, s, "a@x", "topic", base.AddDate(0, 0, -3))
	seedThread(t, s, "b@x", "topic", base.Add(-time.Hour))
	seedThread(t, s, "other@x", "different", base.Add(-time.Hour))

	var found []model.Message
	err := s.WithTx(ctx, func(tx store.Tx) error {
		var err error
		found, err = tx.FindMessagesBySubjectKey(ctx, "topic", base.AddDate(0, 0, -30), base.AddDate(0, 0, 1), 10)
		return err
	})
	if err != nil {
		t.Fatalf("FindMessagesBySubjectKey: %v", err)
	}
	if len(found) != 2 || found[0].MessageID != "b@x" || found[1].MessageID != "a@x" {
		t.Fatalf("found %v, want [b@x a@x]", messageIDs(found))
	}
}

func messageIDs(msgs []model.Message) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.MessageID
	}
	return ids
}

func TestUpdateMessage(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	msg := seedThread(t, s, "upd@x", "u", time.Now())

	msg.Body = "new body"
	msg.ReplyToMessageID = ptr("parent@x")
	msg.ImportLog = ptr("body replaced")
	if err := s.WithTx(ctx, func(tx store.Tx) error { return tx.UpdateMessage(ctx, msg) }); err != nil {
		t.Fatalf("UpdateMessage: %v", err)
	}

	got, err := s.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Body != "new body" || got.ReplyToMessageID == nil || *got.ReplyToMessageID != "parent@x" {
		t.Fatalf("update not applied: %+v", got)
	}
}

func TestIdentities(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	var first, again *model.Identity
	err := s.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if first, err = tx.ResolveOrCreateIdentity(ctx, "", "Carol@Example.org"); err != nil {
			return err
		}
		again, err = tx.ResolveOrCreateIdentity(ctx, "Carol", "carol@example.org ")
		return err
	})
	if err != nil {
		t.Fatalf("resolving identities: %v", err)
	}
	if first.ID != again.ID {
		t.Fatalf("same address resolved to two identities")
	}
	if again.Name != "Carol" {
		t.Fatalf("name = %q, want Carol", again.Name)
	}

	if err := s.AttachIdentity(ctx, first.ID, "carol@work.example"); err != nil {
		t.Fatalf("AttachIdentity: %v", err)
	}
	linked, err := s.GetIdentityByAddress(ctx, "CAROL@work.example")
	if err != nil {
		t.Fatalf("GetIdentityByAddress: %v", err)
	}
	if linked == nil || linked.ID != first.ID {
		t.Fatalf("linked address resolved to %+v", linked)
	}

	if err := s.AttachIdentity(ctx, "no-such-id", "x@y"); err == nil {
		t.Fatalf("AttachIdentity to unknown identity succeeded")
	}
}

func TestSyncStateRoundTrip(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	st, err := s.GetSyncState(ctx, "Archive")
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if st.Label != "Archive" || st.LastUID != 0 {
		t.Fatalf("fresh state = %+v", st)
	}

	checked := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	st.LastUID = 42
	st.UIDValidity = 7
	st.LastCheckedAt = &checked
	st.LastIngested = 3
	st.ConsecutiveErrorCount = 2
	st.LastError = "boom"
	st.LastErrorClass = "network"
	st.BackoffSeconds = 4
	if err := s.SaveSyncState(ctx, st); err != nil {
		t.Fatalf("SaveSyncState: %v", err)
	}

	got, err := s.GetSyncState(ctx, "Archive")
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if got.LastUID != 42 || got.UIDValidity != 7 || got.LastIngested != 3 {
		t.Fatalf("state = %+v", got)
	}
	if got.LastCheckedAt == nil || !got.LastCheckedAt.Equal(checked) {
		t.Fatalf("LastCheckedAt = %v, want %v", got.LastCheckedAt, checked)
	}
	if got.LastCycleStartedAt != nil {
		t.Fatalf("LastCycleStartedAt = %v, want nil", got.LastCycleStartedAt)
	}
	if got.LastError != "boom" || got.BackoffSeconds != 4 {
		t.Fatalf("error fields = %+v", got)
	}

	states, err := s.ListSyncStates(ctx)
	if err != nil || len(states) != 1 {
		t.Fatalf("ListSyncStates = %v, %v", states, err)
	}
}

func TestNotifications(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	msg := seedThread(t, s, "n@x", "n", time.Now())

	if err := s.NotifyNewMessage(ctx, msg); err != nil {
		t.Fatalf("NotifyNewMessage: %v", err)
	}
	unread, err := s.GetUnreadNotifications(ctx)
	if err != nil {
		t.Fatalf("GetUnreadNotifications: %v", err)
	}
	if len(unread) != 1 || unread[0].MessageID != msg.ID {
		t.Fatalf("unread = %+v", unread)
	}
	if err := s.MarkNotificationRead(ctx, unread[0].ID); err != nil {
		t.Fatalf("MarkNotificationRead: %v", err)
	}
	unread, err = s.GetUnreadNotifications(ctx)
	if err != nil || len(unread) != 0 {
		t.Fatalf("after read: %v, %v", unread, err)
	}
}

func TestAttachmentsAndRecipients(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	msg := seedThread(t, s, "att@x", "att", time.Now())

	err := s.WithTx(ctx, func(tx store.Tx) error {
		dave, err := tx.ResolveOrCreateIdentity(ctx, "Dave", "dave@example.org")
		if err != nil {
			return err
		}
		if err := tx.AddRecipient(ctx, msg.ID, dave.ID, model.RecipientTo); err != nil {
			return err
		}
		if err := tx.AddRecipient(ctx, msg.ID, dave.ID, model.RecipientTo); err != nil {
			return err
		}
		return tx.StoreAttachment(ctx, &model.Attachment{
			MessageID:   msg.ID,
			Filename:    "fix.patch",
			ContentType: "text/x-patch",
			IsPatch:     true,
			Data:        []byte("diff --git a/x b/x\n"),
		})
	})
	if err != nil {
		t.Fatalf("storing attachment and recipients: %v", err)
	}

	rcpts, err := s.ListRecipients(ctx, msg.ID)
	if err != nil || len(rcpts) != 1 || rcpts[0].Name != "Dave" {
		t.Fatalf("recipients = %+v, %v", rcpts, err)
	}

	atts, err := s.ListAttachments(ctx, msg.ID)
	if err != nil || len(atts) != 1 {
		t.Fatalf("attachments = %+v, %v", atts, err)
	}
	if !atts[0].IsPatch || atts[0].Size != int64(len("diff --git a/x b/x\n")) {
		t.Fatalf("attachment = %+v", atts[0])
	}
}
