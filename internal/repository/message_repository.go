package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/models"
	"gorm.io/gorm"
)

// MessageRepository defines the interface for message data access
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	CreateWithAttachments(ctx context.Context, message *models.Message, attachments []models.Attachment) error
	GetByID(ctx context.Context, id uint) (*models.Message, error)
	GetByProviderID(ctx context.Context, mailboxID uint, providerMessageID string) (*models.Message, error)
	ListByMailbox(ctx context.Context, mailboxID uint, limit, offset int) ([]models.MessageListItem, int64, error)
	ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error)
	ListPendingReview(ctx context.Context, limit, offset int) ([]models.MessageListItem, int64, error)
	UpdateStatus(ctx context.Context, id uint, status string) error
	RecordTrust(ctx context.Context, id uint, match, vendorID, vendorName string) error
	RecordClassification(ctx context.Context, id uint, isPriceChange bool, confidence float64, notes string) error
	RecordProcessingError(ctx context.Context, id uint, status, errMsg string) error
	RecordReview(ctx context.Context, id uint, reviewer, status string) error
	Delete(ctx context.Context, id uint) error
}

// messageRepository implements MessageRepository using GORM
type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new MessageRepository instance
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

// Create creates a new message
func (r *messageRepository) Create(ctx context.Context, message *models.Message) error {
	result := r.db.WithContext(ctx).Create(message)
	if result.Error != nil {
		if isDuplicateKeyError(result.Error) {
			return fmt.Errorf("message '%s' already ingested for mailbox %d: %w",
				message.ProviderMessageID, message.MailboxID, ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to create message: %w", result.Error)
	}
	return nil
}

// CreateWithAttachments creates a message with its attachments in a transaction
func (r *messageRepository) CreateWithAttachments(ctx context.Context, message *models.Message, attachments []models.Attachment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Create message first
		if err := tx.Create(message).Error; err != nil {
			if isDuplicateKeyError(err) {
				return fmt.Errorf("message '%s' already ingested for mailbox %d: %w",
					message.ProviderMessageID, message.MailboxID, ErrDuplicateEntry)
			}
			return fmt.Errorf("failed to create message: %w", err)
		}

		// Create attachments with message ID
		for i := range attachments {
			attachments[i].MessageID = message.ID
			if err := tx.Create(&attachments[i]).Error; err != nil {
				return fmt.Errorf("failed to create attachment: %w", err)
			}
		}

		return nil
	})
}

// GetByID retrieves a message by its ID with attachments and the extracted
// record (including product line items) preloaded
func (r *messageRepository) GetByID(ctx context.Context, id uint) (*models.Message, error) {
	var message models.Message
	result := r.db.WithContext(ctx).
		Preload("Attachments").
		Preload("Record").
		Preload("Record.Products", func(db *gorm.DB) *gorm.DB {
			return db.Order("product_line_items.position ASC")
		}).
		First(&message, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get message by ID: %w", result.Error)
	}
	return &message, nil
}

// GetByProviderID looks a message up by its provider-assigned ID within one
// mailbox. The sync coordinator uses this to make re-delivered messages a
// no-op under the feed's at-least-once contract.
func (r *messageRepository) GetByProviderID(ctx context.Context, mailboxID uint, providerMessageID string) (*models.Message, error) {
	var message models.Message
	result := r.db.WithContext(ctx).
		Where("mailbox_id = ? AND provider_message_id = ?", mailboxID, providerMessageID).
		First(&message)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get message by provider ID: %w", result.Error)
	}
	return &message, nil
}

// ListByMailbox retrieves messages for a mailbox with pagination, ordered by received_at descending
func (r *messageRepository) ListByMailbox(ctx context.Context, mailboxID uint, limit, offset int) ([]models.MessageListItem, int64, error) {
	var total int64

	if err := r.db.WithContext(ctx).Model(&models.Message{}).Where("mailbox_id = ?", mailboxID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	var results []models.MessageListItem
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Select("id, mailbox_id, conversation_id, sender_email, sender_name, subject, snippet, status, trust_match, confidence, received_at").
		Where("mailbox_id = ?", mailboxID).
		Order("received_at DESC").
		Limit(limit).Offset(offset).
		Scan(&results).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list messages: %w", err)
	}

	return results, total, nil
}

// ListByConversation retrieves every stored message of a conversation in
// ascending received order. Ties on received_at are broken by provider
// message ID so the ordering is stable across runs.
func (r *messageRepository) ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error) {
	var messages []models.Message
	result := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("received_at ASC, provider_message_id ASC").
		Find(&messages)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list conversation messages: %w", result.Error)
	}
	return messages, nil
}

// ListPendingReview retrieves messages parked for human review, oldest first
func (r *messageRepository) ListPendingReview(ctx context.Context, limit, offset int) ([]models.MessageListItem, int64, error) {
	var total int64

	if err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("status = ?", models.MessageStatusPendingReview).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count pending messages: %w", err)
	}

	var results []models.MessageListItem
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Select("id, mailbox_id, conversation_id, sender_email, sender_name, subject, snippet, status, trust_match, confidence, received_at").
		Where("status = ?", models.MessageStatusPendingReview).
		Order("received_at ASC").
		Limit(limit).Offset(offset).
		Scan(&results).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list pending messages: %w", err)
	}

	return results, total, nil
}

// UpdateStatus moves a message to a new processing status
func (r *messageRepository) UpdateStatus(ctx context.Context, id uint, status string) error {
	result := r.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("failed to update message status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordTrust stores the trust verdict computed at intake time
func (r *messageRepository) RecordTrust(ctx context.Context, id uint, match, vendorID, vendorName string) error {
	result := r.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"trust_match": match,
			"vendor_id":   vendorID,
			"vendor_name": vendorName,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to record trust verdict: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordClassification stores the semantic classification outcome
func (r *messageRepository) RecordClassification(ctx context.Context, id uint, isPriceChange bool, confidence float64, notes string) error {
	result := r.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_price_change":  isPriceChange,
			"confidence":       confidence,
			"classifier_notes": notes,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to record classification: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordProcessingError stores a pipeline failure against the message and
// moves it to the given status in one update
func (r *messageRepository) RecordProcessingError(ctx context.Context, id uint, status, errMsg string) error {
	result := r.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":           status,
			"processing_error": errMsg,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to record processing error: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordReview stores a human review decision and the resulting status
func (r *messageRepository) RecordReview(ctx context.Context, id uint, reviewer, status string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      status,
			"reviewed_by": reviewer,
			"reviewed_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to record review: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete deletes a message by its ID (cascade deletes attachments, record, impacts)
func (r *messageRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&models.Message{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete message: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
