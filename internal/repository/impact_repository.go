package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/models"
	"gorm.io/gorm"
)

// ImpactRepository defines the interface for impact result data access
type ImpactRepository interface {
	// ReplaceForMessage atomically swaps the message's impact results:
	// prior rows (and their affected assemblies) are deleted and the new
	// set inserted in one transaction, so a re-run never leaves stale
	// rows from an earlier analysis behind.
	ReplaceForMessage(ctx context.Context, messageID uint, results []models.ImpactResult) error

	GetByID(ctx context.Context, id uint) (*models.ImpactResult, error)
	ListByMessage(ctx context.Context, messageID uint) ([]models.ImpactResult, error)
	Approve(ctx context.Context, id uint, approver string) error
	DeleteByMessage(ctx context.Context, messageID uint) error
}

// impactRepository implements ImpactRepository using GORM
type impactRepository struct {
	db *gorm.DB
}

// NewImpactRepository creates a new ImpactRepository instance
func NewImpactRepository(db *gorm.DB) ImpactRepository {
	return &impactRepository{db: db}
}

// ReplaceForMessage atomically replaces all impact results for a message
func (r *impactRepository) ReplaceForMessage(ctx context.Context, messageID uint, results []models.ImpactResult) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var priorIDs []uint
		if err := tx.Model(&models.ImpactResult{}).
			Where("message_id = ?", messageID).
			Pluck("id", &priorIDs).Error; err != nil {
			return fmt.Errorf("failed to find prior impact results: %w", err)
		}
		if len(priorIDs) > 0 {
			if err := tx.Where("impact_result_id IN ?", priorIDs).Delete(&models.AffectedAssembly{}).Error; err != nil {
				return fmt.Errorf("failed to delete prior assemblies: %w", err)
			}
			if err := tx.Where("message_id = ?", messageID).Delete(&models.ImpactResult{}).Error; err != nil {
				return fmt.Errorf("failed to delete prior impact results: %w", err)
			}
		}

		for i := range results {
			results[i].MessageID = messageID
			if err := tx.Create(&results[i]).Error; err != nil {
				return fmt.Errorf("failed to create impact result: %w", err)
			}
		}
		return nil
	})
}

// GetByID retrieves an impact result with its affected assemblies
func (r *impactRepository) GetByID(ctx context.Context, id uint) (*models.ImpactResult, error) {
	var result models.ImpactResult
	err := r.db.WithContext(ctx).
		Preload("Assemblies", func(db *gorm.DB) *gorm.DB {
			return db.Order("affected_assemblies.level ASC, affected_assemblies.assembly_id ASC")
		}).
		First(&result, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get impact result: %w", err)
	}
	return &result, nil
}

// ListByMessage retrieves all impact results for a message ordered by the
// product's index in the extracted record
func (r *impactRepository) ListByMessage(ctx context.Context, messageID uint) ([]models.ImpactResult, error) {
	var results []models.ImpactResult
	err := r.db.WithContext(ctx).
		Preload("Assemblies", func(db *gorm.DB) *gorm.DB {
			return db.Order("affected_assemblies.level ASC, affected_assemblies.assembly_id ASC")
		}).
		Where("message_id = ?", messageID).
		Order("product_index ASC").
		Find(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list impact results: %w", err)
	}
	return results, nil
}

// Approve marks a single impact result as approved by the given reviewer
func (r *impactRepository) Approve(ctx context.Context, id uint, approver string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.ImpactResult{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"approved":    true,
			"approved_by": approver,
			"approved_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to approve impact result: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByMessage removes all impact results for a message
func (r *impactRepository) DeleteByMessage(ctx context.Context, messageID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var priorIDs []uint
		if err := tx.Model(&models.ImpactResult{}).
			Where("message_id = ?", messageID).
			Pluck("id", &priorIDs).Error; err != nil {
			return fmt.Errorf("failed to find impact results for delete: %w", err)
		}
		if len(priorIDs) == 0 {
			return nil
		}
		if err := tx.Where("impact_result_id IN ?", priorIDs).Delete(&models.AffectedAssembly{}).Error; err != nil {
			return fmt.Errorf("failed to delete assemblies: %w", err)
		}
		if err := tx.Where("message_id = ?", messageID).Delete(&models.ImpactResult{}).Error; err != nil {
			return fmt.Errorf("failed to delete impact results: %w", err)
		}
		return nil
	})
}
