package model

import "time"

// Identity is a participant known by one or more addresses.
type Identity struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// UnknownSenderAddress identifies the synthetic identity used when a
// message has no parseable sender.
const (
	UnknownSenderAddress = "unknown-user@mailsync.invalid"
	UnknownSenderName    = "Unknown User"
)

// Thread groups a root message and all replies resolved to it.
type Thread struct {
	ID        string    `db:"id" json:"id"`
	CreatorID string    `db:"creator_id" json:"creator_id"`
	Title     string    `db:"title" json:"title"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// DefaultThreadTitle is used when a root message has no subject.
const DefaultThreadTitle = "No title"

// Message is one archived mail item.
type Message struct {
	ID string `db:"id" json:"id"`

	// MessageID is the normalized external identifier. It is unique
	// across the archive and never changes once stored.
	MessageID string `db:"message_id" json:"message_id"`

	ThreadID string `db:"thread_id" json:"thread_id"`
	SenderID string `db:"sender_id" json:"sender_id"`

	// ReplyToMessageID is the raw normalized In-Reply-To value.
	ReplyToMessageID *string `db:"reply_to_message_id" json:"reply_to_message_id,omitempty"`

	// ReplyToID is the resolved parent message, always in the same thread.
	ReplyToID *string `db:"reply_to_id" json:"reply_to_id,omitempty"`

	Subject    string    `db:"subject" json:"subject"`
	SubjectKey string    `db:"subject_key" json:"-"`
	Body       string    `db:"body" json:"body"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	ImportedAt time.Time `db:"imported_at" json:"imported_at"`
	ImportLog  *string   `db:"import_log" json:"import_log,omitempty"`
}

// Recipient kinds.
const (
	RecipientTo = "to"
	RecipientCc = "cc"
)

// Attachment is a stored file part of a message.
type Attachment struct {
	ID          string    `db:"id" json:"id"`
	MessageID   string    `db:"message_id" json:"message_id"`
	Filename    string    `db:"filename" json:"filename"`
	ContentType string    `db:"content_type" json:"content_type"`
	Size        int64     `db:"size" json:"size"`
	IsPatch     bool      `db:"is_patch" json:"is_patch"`
	Data        []byte    `db:"data" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
