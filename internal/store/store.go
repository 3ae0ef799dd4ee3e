package store

import (
	"context"
	"time"

	"github.com/nhle/mailsync/internal/model"
)

// Tx is the set of archive operations available inside one ingest
// transaction. Nothing it writes is visible to other readers until the
// surrounding WithTx call commits.
type Tx interface {
	// GetMessageByMessageID returns nil, nil when no message has the id.
	GetMessageByMessageID(ctx context.Context, messageID string) (*model.Message, error)

	// FindMessagesBySubjectKey returns messages with the given subject key
	// created within [from, to], most recent first, at most limit rows.
	FindMessagesBySubjectKey(
		ctx context.Context,
		subjectKey string,
		from, to time.Time,
		limit int,
	) ([]model.Message, error)

	CreateThread(ctx context.Context, thread *model.Thread) error
	CreateMessage(ctx context.Context, msg *model.Message) error
	UpdateMessage(ctx context.Context, msg *model.Message) error

	// ResolveOrCreateIdentity returns the identity owning address,
	// creating one when the address is new.
	ResolveOrCreateIdentity(ctx context.Context, name, address string) (*model.Identity, error)

	AddRecipient(ctx context.Context, messageID, identityID, kind string) error
	StoreAttachment(ctx context.Context, att *model.Attachment) error
}

// Stats summarizes archive contents.
type Stats struct {
	Messages    int `db:"messages" json:"messages"`
	Threads     int `db:"threads" json:"threads"`
	Identities  int `db:"identities" json:"identities"`
	Attachments int `db:"attachments" json:"attachments"`
}

// Store defines the persistence interface for the message archive,
// sync cursors and notifications.
type Store interface {
	// WithTx runs fn in a transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// === Archive reads ===

	GetMessage(ctx context.Context, id string) (*model.Message, error)
	GetMessageByMessageID(ctx context.Context, messageID string) (*model.Message, error)
	GetThread(ctx context.Context, id string) (*model.Thread, error)
	ListThreadMessages(ctx context.Context, threadID string) ([]model.Message, error)
	ListRecipients(ctx context.Context, messageID string) ([]Recipient, error)
	ListAttachments(ctx context.Context, messageID string) ([]model.Attachment, error)
	GetStats(ctx context.Context) (Stats, error)

	// === Identities ===

	GetIdentityByAddress(ctx context.Context, address string) (*model.Identity, error)
	AttachIdentity(ctx context.Context, identityID, address string) error

	// === Sync state ===

	GetSyncState(ctx context.Context, label string) (*model.SyncState, error)
	SaveSyncState(ctx context.Context, st *model.SyncState) error
	ListSyncStates(ctx context.Context) ([]model.SyncState, error)

	// === Notifications ===

	NotifyNewMessage(ctx context.Context, msg *model.Message) error
	GetUnreadNotifications(ctx context.Context) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error

	Close() error
}

// Recipient is a resolved To/Cc link.
type Recipient struct {
	IdentityID string `db:"identity_id" json:"identity_id"`
	Name       string `db:"name" json:"name"`
	Kind       string `db:"kind" json:"kind"`
}
