package model

import "time"

// SyncState is the durable cursor and diagnostics for one mailbox label.
// Only the sync runner holding the label's lock writes it.
type SyncState struct {
	Label string `db:"label" json:"label"`

	// LastUID is the highest UID whose ingest committed.
	LastUID     uint32 `db:"last_uid" json:"last_uid"`
	UIDValidity uint32 `db:"uid_validity" json:"uid_validity"`

	LastCheckedAt       *time.Time `db:"last_checked_at" json:"last_checked_at,omitempty"`
	LastCycleStartedAt  *time.Time `db:"last_cycle_started_at" json:"last_cycle_started_at,omitempty"`
	LastCycleDurationMS int64      `db:"last_cycle_duration_ms" json:"last_cycle_duration_ms"`

	LastFetched     int `db:"last_fetched" json:"last_fetched"`
	LastIngested    int `db:"last_ingested" json:"last_ingested"`
	LastDuplicates  int `db:"last_duplicates" json:"last_duplicates"`
	LastAttachments int `db:"last_attachments" json:"last_attachments"`
	LastPatchFiles  int `db:"last_patch_files" json:"last_patch_files"`
	LastFailed      int `db:"last_failed" json:"last_failed"`
	LastBacklog     int `db:"last_backlog" json:"last_backlog"`

	ConsecutiveErrorCount int    `db:"consecutive_error_count" json:"consecutive_error_count"`
	LastError             string `db:"last_error" json:"last_error,omitempty"`
	LastErrorClass        string `db:"last_error_class" json:"last_error_class,omitempty"`
	BackoffSeconds        int    `db:"backoff_seconds" json:"backoff_seconds"`

	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
