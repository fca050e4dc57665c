package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/models"
	"gorm.io/gorm"
)

// TrustSnapshotRepository persists the sender trust cache between restarts.
// A single row is kept; Save overwrites it.
type TrustSnapshotRepository interface {
	Get(ctx context.Context) (*models.TrustSnapshot, error)
	Save(ctx context.Context, snapshot *models.TrustSnapshot) error
}

// trustSnapshotRepository implements TrustSnapshotRepository using GORM
type trustSnapshotRepository struct {
	db *gorm.DB
}

// NewTrustSnapshotRepository creates a new TrustSnapshotRepository instance
func NewTrustSnapshotRepository(db *gorm.DB) TrustSnapshotRepository {
	return &trustSnapshotRepository{db: db}
}

// Get retrieves the stored snapshot
func (r *trustSnapshotRepository) Get(ctx context.Context) (*models.TrustSnapshot, error) {
	var snapshot models.TrustSnapshot
	result := r.db.WithContext(ctx).Order("id ASC").First(&snapshot)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get trust snapshot: %w", result.Error)
	}
	return &snapshot, nil
}

// Save stores the snapshot, replacing any existing one
func (r *trustSnapshotRepository) Save(ctx context.Context, snapshot *models.TrustSnapshot) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.TrustSnapshot
		err := tx.Order("id ASC").First(&existing).Error
		if err == nil {
			snapshot.ID = existing.ID
			if saveErr := tx.Save(snapshot).Error; saveErr != nil {
				return fmt.Errorf("failed to update trust snapshot: %w", saveErr)
			}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to check for trust snapshot: %w", err)
		}
		if createErr := tx.Create(snapshot).Error; createErr != nil {
			return fmt.Errorf("failed to create trust snapshot: %w", createErr)
		}
		return nil
	})
}
