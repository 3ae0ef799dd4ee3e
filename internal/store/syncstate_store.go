package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/mailsync/internal/model"
)

const syncStateColumns = `label, last_uid, uid_validity,
	last_checked_at, last_cycle_started_at, last_cycle_duration_ms,
	last_fetched, last_ingested, last_duplicates, last_attachments,
	last_patch_files, last_failed, last_backlog,
	consecutive_error_count, last_error, last_error_class, backoff_seconds,
	updated_at`

// GetSyncState returns the stored state for label. A label that has
// never been synced yields a zero state that is not yet persisted.
func (s *SQLiteStore) GetSyncState(ctx context.Context, label string) (*model.SyncState, error) {
	var st model.SyncState
	err := s.db.GetContext(ctx, &st,
		"SELECT "+syncStateColumns+" FROM sync_state WHERE label = ?", label,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.SyncState{Label: label}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting sync state %s: %w", label, err)
	}
	return &st, nil
}

// SaveSyncState inserts or replaces the state row for st.Label.
func (s *SQLiteStore) SaveSyncState(ctx context.Context, st *model.SyncState) error {
	st.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_state (`+syncStateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.Label, int64(st.LastUID), int64(st.UIDValidity),
		nullTime(st.LastCheckedAt), nullTime(st.LastCycleStartedAt), st.LastCycleDurationMS,
		st.LastFetched, st.LastIngested, st.LastDuplicates, st.LastAttachments,
		st.LastPatchFiles, st.LastFailed, st.LastBacklog,
		st.ConsecutiveErrorCount, st.LastError, st.LastErrorClass, st.BackoffSeconds,
		st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving sync state %s: %w", st.Label, err)
	}
	return nil
}

// ListSyncStates returns every persisted state ordered by label.
func (s *SQLiteStore) ListSyncStates(ctx context.Context) ([]model.SyncState, error) {
	var states []model.SyncState
	err := s.db.SelectContext(ctx, &states,
		"SELECT "+syncStateColumns+" FROM sync_state ORDER BY label",
	)
	if err != nil {
		return nil, fmt.Errorf("listing sync states: %w", err)
	}
	return states, nil
}

// nullTime binds an optional timestamp as NULL or a UTC time.
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
