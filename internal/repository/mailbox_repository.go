package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/models"
	"gorm.io/gorm"
)

// MailboxRepository defines the interface for mailbox data access
type MailboxRepository interface {
	Create(ctx context.Context, mailbox *models.Mailbox) error
	GetByID(ctx context.Context, id uint) (*models.Mailbox, error)
	GetByAddress(ctx context.Context, address string) (*models.Mailbox, error)
	GetOrCreate(ctx context.Context, address, displayName string) (*models.Mailbox, bool, error)
	List(ctx context.Context, enabledOnly bool) ([]models.MailboxWithPendingCount, error)
	SetEnabled(ctx context.Context, id uint, enabled bool) error
	Delete(ctx context.Context, id uint) error
}

// mailboxRepository implements MailboxRepository using GORM
type mailboxRepository struct {
	db *gorm.DB
}

// NewMailboxRepository creates a new MailboxRepository instance
func NewMailboxRepository(db *gorm.DB) MailboxRepository {
	return &mailboxRepository{db: db}
}

// Create creates a new mailbox
func (r *mailboxRepository) Create(ctx context.Context, mailbox *models.Mailbox) error {
	result := r.db.WithContext(ctx).Create(mailbox)
	if result.Error != nil {
		if isDuplicateKeyError(result.Error) {
			return fmt.Errorf("mailbox with address '%s' already exists: %w", mailbox.Address, ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to create mailbox: %w", result.Error)
	}
	return nil
}

// GetByID retrieves a mailbox by its ID
func (r *mailboxRepository) GetByID(ctx context.Context, id uint) (*models.Mailbox, error) {
	var mailbox models.Mailbox
	result := r.db.WithContext(ctx).First(&mailbox, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get mailbox by ID: %w", result.Error)
	}
	return &mailbox, nil
}

// GetByAddress retrieves a mailbox by its email address
func (r *mailboxRepository) GetByAddress(ctx context.Context, address string) (*models.Mailbox, error) {
	var mailbox models.Mailbox
	result := r.db.WithContext(ctx).Where("address = ?", address).First(&mailbox)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get mailbox by address: %w", result.Error)
	}
	return &mailbox, nil
}

// GetOrCreate retrieves a mailbox by address or creates it if it doesn't exist.
// Returns the mailbox, a boolean indicating if it was created, and any error.
// Used at startup to seed the monitored mailboxes from configuration.
func (r *mailboxRepository) GetOrCreate(ctx context.Context, address, displayName string) (*models.Mailbox, bool, error) {
	mailbox, err := r.GetByAddress(ctx, address)
	if err == nil {
		return mailbox, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	mailbox = &models.Mailbox{
		Address:     address,
		DisplayName: displayName,
		Enabled:     true,
	}

	if err := r.Create(ctx, mailbox); err != nil {
		// Handle race condition - another request might have created it
		if errors.Is(err, ErrDuplicateEntry) {
			mailbox, err = r.GetByAddress(ctx, address)
			if err != nil {
				return nil, false, err
			}
			return mailbox, false, nil
		}
		return nil, false, err
	}

	return mailbox, true, nil
}

// List retrieves all mailboxes with the count of messages awaiting review
func (r *mailboxRepository) List(ctx context.Context, enabledOnly bool) ([]models.MailboxWithPendingCount, error) {
	var results []models.MailboxWithPendingCount

	query := `
		SELECT
			m.*,
			COALESCE((SELECT COUNT(*) FROM messages msg WHERE msg.mailbox_id = m.id AND msg.status = ?), 0) as pending_count
		FROM mailboxes m
	`
	args := []interface{}{models.MessageStatusPendingReview}
	if enabledOnly {
		query += ` WHERE m.enabled = ?`
		args = append(args, true)
	}
	query += ` ORDER BY m.address ASC`

	if err := r.db.WithContext(ctx).Raw(query, args...).Scan(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to list mailboxes: %w", err)
	}

	return results, nil
}

// SetEnabled toggles whether the mailbox is polled by the scheduler
func (r *mailboxRepository) SetEnabled(ctx context.Context, id uint, enabled bool) error {
	result := r.db.WithContext(ctx).Model(&models.Mailbox{}).Where("id = ?", id).Update("enabled", enabled)
	if result.Error != nil {
		return fmt.Errorf("failed to update mailbox enabled flag: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete deletes a mailbox by its ID (cascade deletes cursor, messages, attachments)
func (r *mailboxRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&models.Mailbox{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete mailbox: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
