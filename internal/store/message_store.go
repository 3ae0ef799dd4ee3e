package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailsync/internal/model"
)

const messageColumns = `id, message_id, thread_id, sender_id,
	reply_to_message_id, reply_to_id, subject, subject_key, body,
	created_at, imported_at, import_log`

// sqliteTx implements Tx on top of a sqlx transaction.
type sqliteTx struct {
	tx *sqlx.Tx
}

func (t *sqliteTx) GetMessageByMessageID(
	ctx context.Context,
	messageID string,
) (*model.Message, error) {
	return getMessageByMessageID(ctx, t.tx, messageID)
}

func (t *sqliteTx) FindMessagesBySubjectKey(
	ctx context.Context,
	subjectKey string,
	from, to time.Time,
	limit int,
) ([]model.Message, error) {
	var msgs []model.Message
	err := sqlx.SelectContext(ctx, t.tx, &msgs, `
		SELECT `+messageColumns+` FROM messages
		WHERE subject_key = ? AND created_at >= ? AND created_at <= ?
		ORDER BY created_at DESC
		LIMIT ?`,
		subjectKey, from.UTC(), to.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("finding messages by subject %q: %w", subjectKey, err)
	}
	return msgs, nil
}

func (t *sqliteTx) CreateThread(ctx context.Context, thread *model.Thread) error {
	if thread.ID == "" {
		thread.ID = uuid.New().String()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO threads (id, creator_id, title, created_at)
		VALUES (?, ?, ?, ?)`,
		thread.ID, thread.CreatorID, thread.Title, thread.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating thread %s: %w", thread.ID, err)
	}
	return nil
}

func (t *sqliteTx) CreateMessage(ctx context.Context, msg *model.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.ImportedAt.IsZero() {
		msg.ImportedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.MessageID, msg.ThreadID, msg.SenderID,
		nullString(msg.ReplyToMessageID), nullString(msg.ReplyToID), msg.Subject, msg.SubjectKey, msg.Body,
		msg.CreatedAt.UTC(), msg.ImportedAt.UTC(), nullString(msg.ImportLog),
	)
	if err != nil {
		return fmt.Errorf("creating message %s: %w", msg.MessageID, err)
	}
	return nil
}

// UpdateMessage rewrites the mutable columns of an existing message.
// message_id and thread_id never change.
func (t *sqliteTx) UpdateMessage(ctx context.Context, msg *model.Message) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE messages
		SET body = ?, created_at = ?, reply_to_message_id = ?, reply_to_id = ?, import_log = ?
		WHERE id = ?`,
		msg.Body, msg.CreatedAt.UTC(), nullString(msg.ReplyToMessageID), nullString(msg.ReplyToID), nullString(msg.ImportLog),
		msg.ID,
	)
	if err != nil {
		return fmt.Errorf("updating message %s: %w", msg.MessageID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("updating message %s: %w", msg.MessageID, sql.ErrNoRows)
	}
	return nil
}

func (t *sqliteTx) AddRecipient(ctx context.Context, messageID, identityID, kind string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_recipients (message_id, identity_id, kind)
		VALUES (?, ?, ?)`,
		messageID, identityID, kind,
	)
	if err != nil {
		return fmt.Errorf("adding %s recipient to message %s: %w", kind, messageID, err)
	}
	return nil
}

func (t *sqliteTx) StoreAttachment(ctx context.Context, att *model.Attachment) error {
	if att.ID == "" {
		att.ID = uuid.New().String()
	}
	if att.CreatedAt.IsZero() {
		att.CreatedAt = time.Now().UTC()
	}
	if att.Size == 0 {
		att.Size = int64(len(att.Data))
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO attachments (id, message_id, filename, content_type, size, is_patch, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		att.ID, att.MessageID, att.Filename, att.ContentType, att.Size,
		boolToInt(att.IsPatch), att.Data, att.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storing attachment %q: %w", att.Filename, err)
	}
	return nil
}

func (t *sqliteTx) ResolveOrCreateIdentity(
	ctx context.Context,
	name, address string,
) (*model.Identity, error) {
	return resolveOrCreateIdentity(ctx, t.tx, name, address)
}

// nullString binds an optional string as NULL or its value.
func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// getMessageByMessageID returns nil, nil when the message does not exist.
func getMessageByMessageID(
	ctx context.Context,
	q sqlx.QueryerContext,
	messageID string,
) (*model.Message, error) {
	var msg model.Message
	err := sqlx.GetContext(ctx, q, &msg,
		"SELECT "+messageColumns+" FROM messages WHERE message_id = ?", messageID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", messageID, err)
	}
	return &msg, nil
}

// GetMessage retrieves a message by its internal id, or nil if absent.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	err := s.db.GetContext(ctx, &msg, "SELECT "+messageColumns+" FROM messages WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", id, err)
	}
	return &msg, nil
}

// GetMessageByMessageID retrieves a message by its normalized external id,
// or nil if absent.
func (s *SQLiteStore) GetMessageByMessageID(
	ctx context.Context,
	messageID string,
) (*model.Message, error) {
	return getMessageByMessageID(ctx, s.db, messageID)
}

// GetThread retrieves a thread by id, or nil if absent.
func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*model.Thread, error) {
	var thread model.Thread
	err := s.db.GetContext(ctx, &thread,
		"SELECT id, creator_id, title, created_at FROM threads WHERE id = ?", id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting thread %s: %w", id, err)
	}
	return &thread, nil
}

// ListThreadMessages returns a thread's messages in sent order.
func (s *SQLiteStore) ListThreadMessages(
	ctx context.Context,
	threadID string,
) ([]model.Message, error) {
	var msgs []model.Message
	err := s.db.SelectContext(ctx, &msgs,
		"SELECT "+messageColumns+" FROM messages WHERE thread_id = ? ORDER BY created_at, imported_at",
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing messages for thread %s: %w", threadID, err)
	}
	return msgs, nil
}

// ListRecipients returns the To/Cc links of a message.
func (s *SQLiteStore) ListRecipients(ctx context.Context, messageID string) ([]Recipient, error) {
	var rcpts []Recipient
	err := s.db.SelectContext(ctx, &rcpts, `
		SELECT r.identity_id, i.name, r.kind
		FROM message_recipients r
		JOIN identities i ON i.id = r.identity_id
		WHERE r.message_id = ?
		ORDER BY r.kind DESC, i.name`,
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing recipients for message %s: %w", messageID, err)
	}
	return rcpts, nil
}

// ListAttachments returns a message's attachments including their data.
func (s *SQLiteStore) ListAttachments(
	ctx context.Context,
	messageID string,
) ([]model.Attachment, error) {
	var atts []model.Attachment
	err := s.db.SelectContext(ctx, &atts, `
		SELECT id, message_id, filename, content_type, size, is_patch, data, created_at
		FROM attachments WHERE message_id = ? ORDER BY created_at, filename`,
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing attachments for message %s: %w", messageID, err)
	}
	return atts, nil
}
