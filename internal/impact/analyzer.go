// Package impact validates extracted price changes against the ERP and
// quantifies their effect through the multi-level bill of materials.
//
// Validation runs as two ordered gates. Gate 1 resolves the supplier for
// the whole email; an unknown supplier stops every product. Gate 2 checks
// each product independently: the part must exist and the supplier must
// be authorized to sell it. Only products passing both gates reach the
// cost computation, which runs concurrently under a bounded semaphore.
package impact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	apperrors "github.com/aiplanet-ds/wci-emailagent-sub000/internal/errors"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/erp"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/models"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/repository"
)

// DemandOverride supplies demand figures for parts and assemblies the ERP
// has no forecast for. Callers pass nil when they have nothing to add.
type DemandOverride struct {
	WeeklyDemand float64
}

// Service runs validation and impact analysis for one message's record
type Service interface {
	// Analyze validates the record's products and computes their cost
	// impact, atomically replacing any prior results for the message.
	// An unresolvable supplier returns ErrSupplierUnknown with zero
	// results; an ERP transport failure during supplier resolution
	// returns the transport error with prior results left untouched.
	Analyze(ctx context.Context, messageID uint, record *models.PriceChangeRecord, override *DemandOverride) ([]models.ImpactResult, error)
}

// Config holds dependencies and tuning for the analyzer
type Config struct {
	ERP               erp.Catalog
	MessageRepo       repository.MessageRepository
	ImpactRepo        repository.ImpactRepository
	Concurrency       int64
	MaxBOMDepth       int
	AutoApproveMaxPct float64
	Logger            *slog.Logger
}

// service implements Service
type service struct {
	erp               erp.Catalog
	messages          repository.MessageRepository
	impacts           repository.ImpactRepository
	concurrency       int64
	maxBOMDepth       int
	autoApproveMaxPct float64
	logger            *slog.Logger
}

// NewService creates a new impact analysis service
func NewService(config Config) Service {
	if config.Concurrency <= 0 {
		config.Concurrency = 5
	}
	if config.MaxBOMDepth <= 0 {
		config.MaxBOMDepth = 12
	}
	if config.AutoApproveMaxPct <= 0 {
		config.AutoApproveMaxPct = 10.0
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &service{
		erp:               config.ERP,
		messages:          config.MessageRepo,
		impacts:           config.ImpactRepo,
		concurrency:       config.Concurrency,
		maxBOMDepth:       config.MaxBOMDepth,
		autoApproveMaxPct: config.AutoApproveMaxPct,
		logger:            logger,
	}
}

// Analyze runs both gates and the bounded impact fan-out
func (s *service) Analyze(ctx context.Context, messageID uint, record *models.PriceChangeRecord, override *DemandOverride) ([]models.ImpactResult, error) {
	if record == nil {
		return nil, apperrors.ErrNoExtractedRecord
	}

	vendor, err := s.resolveSupplier(ctx, messageID, record)
	if err != nil {
		return nil, err
	}

	// Products without a product id never reach validation; they stay on
	// the record for reviewers but get no impact row.
	slots := make([]*models.ImpactResult, len(record.Products))
	sem := semaphore.NewWeighted(s.concurrency)
	var wg sync.WaitGroup

	for i := range record.Products {
		if strings.TrimSpace(record.Products[i].ProductID) == "" {
			continue
		}
		wg.Add(1)
		go func(index int, product models.ProductLineItem) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				result := newResult(messageID, index, product)
				result.Status = models.ImpactStatusError
				result.ProcessingErrors = fmt.Sprintf("analysis canceled: %v", err)
				slots[index] = result
				return
			}
			defer sem.Release(1)
			slots[index] = s.analyzeProduct(ctx, messageID, index, vendor, product, override)
		}(i, record.Products[i])
	}
	wg.Wait()

	// Results keep the record's product order regardless of which
	// computation finished first.
	results := make([]models.ImpactResult, 0, len(record.Products))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}

	if err := s.impacts.ReplaceForMessage(ctx, messageID, results); err != nil {
		return nil, fmt.Errorf("failed to store impact results: %w", err)
	}

	s.logger.Info("impact analysis complete",
		slog.Uint64("message_id", uint64(messageID)),
		slog.String("vendor_id", vendor.ID),
		slog.Int("products", len(results)),
		slog.Int("blocked", countStatus(results, models.ImpactStatusBlocked)),
		slog.Int("errors", countStatus(results, models.ImpactStatusError)))
	return results, nil
}

// resolveSupplier is Gate 1: the whole-email circuit breaker. The record's
// ERP id wins; the trust verdict recorded on the message is the fallback.
func (s *service) resolveSupplier(ctx context.Context, messageID uint, record *models.PriceChangeRecord) (*erp.Vendor, error) {
	supplierKey := strings.TrimSpace(record.SupplierERPID)
	if supplierKey == "" {
		msg, err := s.messages.GetByID(ctx, messageID)
		if err != nil {
			return nil, fmt.Errorf("failed to load message %d: %w", messageID, err)
		}
		supplierKey = msg.VendorID
	}
	if supplierKey == "" {
		if err := s.impacts.DeleteByMessage(ctx, messageID); err != nil {
			s.logger.Warn("failed to clear impact results for unknown supplier",
				slog.Uint64("message_id", uint64(messageID)),
				slog.Any("error", err))
		}
		return nil, apperrors.NewSupplierUnknownError(messageID, record.SupplierName)
	}

	vendor, err := s.erp.GetVendor(ctx, supplierKey)
	if err != nil {
		if errors.Is(err, erp.ErrNotFound) {
			if delErr := s.impacts.DeleteByMessage(ctx, messageID); delErr != nil {
				s.logger.Warn("failed to clear impact results for unknown supplier",
					slog.Uint64("message_id", uint64(messageID)),
					slog.Any("error", delErr))
			}
			return nil, apperrors.NewSupplierUnknownError(messageID, supplierKey)
		}
		return nil, fmt.Errorf("supplier lookup for %q failed: %w", supplierKey, err)
	}
	return vendor, nil
}

// newResult builds the skeleton every product's analysis starts from
func newResult(messageID uint, index int, product models.ProductLineItem) *models.ImpactResult {
	return &models.ImpactResult{
		MessageID:       messageID,
		ProductIndex:    index,
		ProductID:       product.ProductID,
		ProductName:     product.ProductName,
		Status:          models.ImpactStatusPending,
		OldPrice:        product.OldPrice,
		NewPrice:        product.NewPrice,
		Currency:        product.Currency,
		DemandSource:    models.DemandSourceNone,
		OverallRiskTier: models.RiskTierUnknown,
		AnalyzedAt:      time.Now(),
	}
}

func countStatus(results []models.ImpactResult, status string) int {
	n := 0
	for i := range results {
		if results[i].Status == status {
			n++
		}
	}
	return n
}
