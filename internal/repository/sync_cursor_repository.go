package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/models"
	"gorm.io/gorm"
)

// SyncCursorRepository defines the interface for sync cursor data access.
// The sync coordinator is the only writer; AdvanceToken must only be called
// after a fetched batch has been fully handed off downstream.
type SyncCursorRepository interface {
	GetByMailbox(ctx context.Context, mailboxID uint) (*models.SyncCursor, error)
	GetOrCreate(ctx context.Context, mailboxID uint) (*models.SyncCursor, error)
	AdvanceToken(ctx context.Context, mailboxID uint, token string) error
	Reset(ctx context.Context, mailboxID uint) error
}

// syncCursorRepository implements SyncCursorRepository using GORM
type syncCursorRepository struct {
	db *gorm.DB
}

// NewSyncCursorRepository creates a new SyncCursorRepository instance
func NewSyncCursorRepository(db *gorm.DB) SyncCursorRepository {
	return &syncCursorRepository{db: db}
}

// GetByMailbox retrieves the cursor for a mailbox
func (r *syncCursorRepository) GetByMailbox(ctx context.Context, mailboxID uint) (*models.SyncCursor, error) {
	var cursor models.SyncCursor
	result := r.db.WithContext(ctx).Where("mailbox_id = ?", mailboxID).First(&cursor)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get sync cursor: %w", result.Error)
	}
	return &cursor, nil
}

// GetOrCreate retrieves the cursor for a mailbox, creating an empty one
// (nil token, never synced) if none exists
func (r *syncCursorRepository) GetOrCreate(ctx context.Context, mailboxID uint) (*models.SyncCursor, error) {
	cursor, err := r.GetByMailbox(ctx, mailboxID)
	if err == nil {
		return cursor, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	cursor = &models.SyncCursor{MailboxID: mailboxID}
	if createErr := r.db.WithContext(ctx).Create(cursor).Error; createErr != nil {
		if isDuplicateKeyError(createErr) {
			return r.GetByMailbox(ctx, mailboxID)
		}
		return nil, fmt.Errorf("failed to create sync cursor: %w", createErr)
	}
	return cursor, nil
}

// AdvanceToken replaces the continuation token and stamps last_synced_at.
// The token is stored verbatim; it is never inspected or compared.
func (r *syncCursorRepository) AdvanceToken(ctx context.Context, mailboxID uint, token string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.SyncCursor{}).
		Where("mailbox_id = ?", mailboxID).
		Updates(map[string]interface{}{
			"continuation_token": token,
			"last_synced_at":     now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to advance sync cursor: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Reset clears the token so the next poll performs a fresh initial sync
func (r *syncCursorRepository) Reset(ctx context.Context, mailboxID uint) error {
	result := r.db.WithContext(ctx).Model(&models.SyncCursor{}).
		Where("mailbox_id = ?", mailboxID).
		Updates(map[string]interface{}{
			"continuation_token": nil,
			"last_synced_at":     nil,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to reset sync cursor: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
