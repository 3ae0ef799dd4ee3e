package model

import "time"

// Notification records activity on the archive, one per newly
// ingested message.
type Notification struct {
	// ID is the unique identifier for this notification.
	ID string `db:"id" json:"id"`

	// MessageID links this notification to the archived message.
	MessageID string `db:"message_id" json:"message_id"`

	// ThreadID is the thread the message was filed under.
	ThreadID string `db:"thread_id" json:"thread_id"`

	// Text is the human-readable notification text.
	Text string `db:"text" json:"text"`

	// Read indicates whether a consumer has acknowledged it.
	Read bool `db:"read" json:"read"`

	// CreatedAt is when this notification was generated.
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
