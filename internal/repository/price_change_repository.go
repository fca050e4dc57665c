package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/models"
	"gorm.io/gorm"
)

// PriceChangeRepository defines the interface for extracted price-change
// record data access
type PriceChangeRepository interface {
	// Replace stores the record for a message, removing any prior record
	// and its line items in the same transaction. Re-extraction therefore
	// never leaves a mix of old and new products behind.
	Replace(ctx context.Context, record *models.PriceChangeRecord) error

	GetByMessageID(ctx context.Context, messageID uint) (*models.PriceChangeRecord, error)
	ListByMessageIDs(ctx context.Context, messageIDs []uint) ([]models.PriceChangeRecord, error)
	Delete(ctx context.Context, messageID uint) error
}

// priceChangeRepository implements PriceChangeRepository using GORM
type priceChangeRepository struct {
	db *gorm.DB
}

// NewPriceChangeRepository creates a new PriceChangeRepository instance
func NewPriceChangeRepository(db *gorm.DB) PriceChangeRepository {
	return &priceChangeRepository{db: db}
}

// Replace stores the record for a message, replacing any existing one
func (r *priceChangeRepository) Replace(ctx context.Context, record *models.PriceChangeRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.PriceChangeRecord
		err := tx.Where("message_id = ?", record.MessageID).First(&existing).Error
		if err == nil {
			if delErr := tx.Delete(&existing).Error; delErr != nil {
				return fmt.Errorf("failed to delete prior record: %w", delErr)
			}
			if delErr := tx.Where("record_id = ?", existing.ID).Delete(&models.ProductLineItem{}).Error; delErr != nil {
				return fmt.Errorf("failed to delete prior line items: %w", delErr)
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to check for prior record: %w", err)
		}

		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("failed to create price change record: %w", err)
		}
		return nil
	})
}

// GetByMessageID retrieves the record for a message with line items preloaded
// in their original position order
func (r *priceChangeRepository) GetByMessageID(ctx context.Context, messageID uint) (*models.PriceChangeRecord, error) {
	var record models.PriceChangeRecord
	result := r.db.WithContext(ctx).
		Preload("Products", func(db *gorm.DB) *gorm.DB {
			return db.Order("product_line_items.position ASC")
		}).
		Where("message_id = ?", messageID).
		First(&record)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get price change record: %w", result.Error)
	}
	return &record, nil
}

// ListByMessageIDs retrieves records for a set of messages. Used by the
// thread aggregator to collect every record of a conversation in one query.
func (r *priceChangeRepository) ListByMessageIDs(ctx context.Context, messageIDs []uint) ([]models.PriceChangeRecord, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	var records []models.PriceChangeRecord
	result := r.db.WithContext(ctx).
		Preload("Products", func(db *gorm.DB) *gorm.DB {
			return db.Order("product_line_items.position ASC")
		}).
		Where("message_id IN ?", messageIDs).
		Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list price change records: %w", result.Error)
	}
	return records, nil
}

// Delete removes the record for a message along with its line items
func (r *priceChangeRepository) Delete(ctx context.Context, messageID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.PriceChangeRecord
		err := tx.Where("message_id = ?", messageID).First(&record).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to get record for delete: %w", err)
		}
		if err := tx.Where("record_id = ?", record.ID).Delete(&models.ProductLineItem{}).Error; err != nil {
			return fmt.Errorf("failed to delete line items: %w", err)
		}
		if err := tx.Delete(&record).Error; err != nil {
			return fmt.Errorf("failed to delete record: %w", err)
		}
		return nil
	})
}
