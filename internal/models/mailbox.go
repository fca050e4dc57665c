package models

import (
	"time"
)

// Mailbox represents a monitored supplier-facing email account
type Mailbox struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Address     string    `gorm:"uniqueIndex;not null;size:255" json:"address"`
	DisplayName string    `gorm:"size:255" json:"display_name,omitempty"`
	Enabled     bool      `gorm:"default:true" json:"enabled"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relationships
	Cursor   *SyncCursor `gorm:"foreignKey:MailboxID;constraint:OnDelete:CASCADE" json:"-"`
	Messages []Message   `gorm:"foreignKey:MailboxID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for Mailbox
func (Mailbox) TableName() string {
	return "mailboxes"
}

// SyncCursor tracks incremental sync progress for one mailbox.
// A nil ContinuationToken means the mailbox has never been synced and the
// next poll uses the bounded initial window instead of a token.
type SyncCursor struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	MailboxID         uint       `gorm:"uniqueIndex;not null" json:"mailbox_id"`
	ContinuationToken *string    `gorm:"size:2048" json:"continuation_token,omitempty"`
	LastSyncedAt      *time.Time `json:"last_synced_at,omitempty"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	// Relationships
	Mailbox *Mailbox `gorm:"foreignKey:MailboxID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for SyncCursor
func (SyncCursor) TableName() string {
	return "sync_cursors"
}

// HasSynced reports whether the mailbox has completed at least one poll
func (c *SyncCursor) HasSynced() bool {
	return c.ContinuationToken != nil
}

// MailboxWithPendingCount is used for API responses that include the
// number of messages awaiting human review
type MailboxWithPendingCount struct {
	Mailbox
	PendingCount int64 `json:"pending_count"`
}
