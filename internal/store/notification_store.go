package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailsync/internal/model"
)

// CreateNotification inserts a new notification record.
func (s *SQLiteStore) CreateNotification(
	ctx context.Context,
	n model.Notification,
) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, message_id, thread_id, text, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.MessageID, n.ThreadID, n.Text,
		boolToInt(n.Read), n.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating notification: %w", err)
	}

	return nil
}

// NotifyNewMessage records activity for a newly archived message.
func (s *SQLiteStore) NotifyNewMessage(ctx context.Context, msg *model.Message) error {
	subject := msg.Subject
	if subject == "" {
		subject = model.DefaultThreadTitle
	}
	return s.CreateNotification(ctx, model.Notification{
		MessageID: msg.ID,
		ThreadID:  msg.ThreadID,
		Text:      fmt.Sprintf("New message: %s", subject),
	})
}

// GetUnreadNotifications retrieves all notifications that have not been read,
// ordered by creation time descending.
func (s *SQLiteStore) GetUnreadNotifications(
	ctx context.Context,
) ([]model.Notification, error) {
	var notifications []model.Notification
	err := s.db.SelectContext(ctx, &notifications, `
		SELECT id, message_id, thread_id, text, read, created_at
		FROM notifications WHERE read = 0 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying unread notifications: %w", err)
	}
	return notifications, nil
}

// MarkNotificationRead marks a single notification as read.
func (s *SQLiteStore) MarkNotificationRead(
	ctx context.Context,
	id string,
) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET read = 1 WHERE id = ?", id,
	)
	if err != nil {
		return fmt.Errorf("marking notification %s as read: %w", id, err)
	}
	return nil
}
