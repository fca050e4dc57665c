package impact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/erp"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/models"
)

// analyzeProduct runs Gate 2 and the cost computation for one product.
// Every failure mode lands in the product's own result; nothing escapes
// to the siblings running alongside it.
func (s *service) analyzeProduct(ctx context.Context, messageID uint, index int, vendor *erp.Vendor, product models.ProductLineItem, override *DemandOverride) (result *models.ImpactResult) {
	result = newResult(messageID, index, product)
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("impact computation panicked",
				slog.Uint64("message_id", uint64(messageID)),
				slog.String("product_id", product.ProductID),
				slog.Any("panic", rec))
			result.Status = models.ImpactStatusError
			result.CanAutoApprove = false
			result.ProcessingErrors = joinError(result.ProcessingErrors, fmt.Sprintf("computation panic: %v", rec))
		}
	}()

	// Gate 1 already resolved the vendor for the whole email.
	result.SupplierExists = boolPtr(true)

	part, err := s.erp.GetPart(ctx, product.ProductID)
	if err != nil {
		if errors.Is(err, erp.ErrNotFound) {
			result.PartExists = boolPtr(false)
			result.Status = models.ImpactStatusBlocked
			return result
		}
		result.Status = models.ImpactStatusError
		result.ProcessingErrors = joinError(result.ProcessingErrors, fmt.Sprintf("part lookup: %v", err))
		return result
	}
	result.PartExists = boolPtr(true)
	if result.ProductName == "" {
		result.ProductName = part.Description
	}

	link, err := s.erp.GetSupplierPartLink(ctx, vendor.ID, product.ProductID)
	if err != nil {
		if errors.Is(err, erp.ErrNotFound) {
			result.LinkExists = boolPtr(false)
			result.Status = models.ImpactStatusBlocked
			return result
		}
		result.Status = models.ImpactStatusError
		result.ProcessingErrors = joinError(result.ProcessingErrors, fmt.Sprintf("supplier link lookup: %v", err))
		return result
	}
	result.LinkExists = boolPtr(true)
	result.CanProceed = true

	if result.Currency == "" {
		result.Currency = link.Currency
	}
	// The ERP's current price stands in when the email omitted the old one.
	if result.OldPrice == nil && link.CurrentPrice != nil {
		price := *link.CurrentPrice
		result.OldPrice = &price
	}

	if result.NewPrice == nil || result.OldPrice == nil {
		result.Status = models.ImpactStatusWarning
		return result
	}
	delta := *result.NewPrice - *result.OldPrice
	result.PriceDelta = &delta
	if *result.OldPrice != 0 {
		pct := delta / *result.OldPrice * 100
		result.PriceDeltaPct = &pct
	}

	assemblies, err := s.walkBOM(ctx, product.ProductID, delta)
	if err != nil {
		result.Status = models.ImpactStatusError
		result.ProcessingErrors = joinError(result.ProcessingErrors, fmt.Sprintf("bom walk: %v", err))
		return result
	}

	for i := range assemblies {
		weekly, annual, source, err := s.demandFor(ctx, assemblies[i].AssemblyID, override)
		if err != nil {
			result.Status = models.ImpactStatusError
			result.ProcessingErrors = joinError(result.ProcessingErrors,
				fmt.Sprintf("forecast for %s: %v", assemblies[i].AssemblyID, err))
			return result
		}
		assemblies[i].WeeklyDemand = weekly
		assemblies[i].AnnualDemand = annual
		assemblies[i].DemandSource = source
	}
	result.Assemblies = assemblies

	weekly, annual, source, err := s.demandFor(ctx, product.ProductID, override)
	if err != nil {
		result.Status = models.ImpactStatusError
		result.ProcessingErrors = joinError(result.ProcessingErrors, fmt.Sprintf("forecast for %s: %v", product.ProductID, err))
		return result
	}
	result.WeeklyDemand = weekly
	result.AnnualDemand = annual
	result.DemandSource = source

	// The component's own forecast prices the impact directly; without
	// one, roll up the assemblies that do have demand figures.
	if result.AnnualDemand != nil {
		impact := *result.AnnualDemand * delta
		result.AnnualCostImpact = &impact
	} else if sum, ok := assemblyImpact(assemblies); ok {
		result.AnnualCostImpact = &sum
	}

	result.OverallRiskTier = overallTier(assemblies)
	if result.OverallRiskTier == models.RiskTierUnknown || result.AnnualCostImpact == nil {
		result.Status = models.ImpactStatusWarning
	} else {
		result.Status = models.ImpactStatusSuccess
	}

	result.CanAutoApprove = result.ProcessingErrors == "" &&
		(result.OverallRiskTier == models.RiskTierLow || result.OverallRiskTier == models.RiskTierMedium) &&
		result.PriceDeltaPct != nil &&
		math.Abs(*result.PriceDeltaPct) <= s.autoApproveMaxPct

	return result
}

// walkBOM climbs from the changed component to every assembly that uses
// it, directly or through intermediates. The visited set collapses
// diamond paths to their first traversal and, together with the depth
// cap, keeps malformed ERP data from looping the walk forever.
func (s *service) walkBOM(ctx context.Context, partID string, unitDelta float64) ([]models.AffectedAssembly, error) {
	type frame struct {
		partID string
		level  int
		qty    float64
		path   string
	}

	visited := map[string]bool{partID: true}
	queue := []frame{{partID: partID, level: 0, qty: 1, path: partID}}
	var out []models.AffectedAssembly

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.level >= s.maxBOMDepth {
			continue
		}

		parents, err := s.erp.GetBOMParents(ctx, current.partID)
		if err != nil {
			return nil, fmt.Errorf("parents of %s: %w", current.partID, err)
		}
		for _, parent := range parents {
			if parent.ParentID == "" || visited[parent.ParentID] {
				continue
			}
			visited[parent.ParentID] = true

			qty := current.qty * parent.QtyPer
			path := current.path + " > " + parent.ParentID
			increase := unitDelta * qty
			erosion := marginErosion(increase, parent)

			out = append(out, models.AffectedAssembly{
				AssemblyID:       parent.ParentID,
				AssemblyName:     parent.ParentName,
				Level:            current.level + 1,
				CumulativeQtyPer: qty,
				Path:             path,
				UnitCostIncrease: increase,
				MarginErosionPct: erosion,
				RiskTier:         riskTierFor(erosion),
			})
			queue = append(queue, frame{partID: parent.ParentID, level: current.level + 1, qty: qty, path: path})
		}
	}
	return out, nil
}

// demandFor resolves the demand chain: ERP forecast first, the caller's
// override next, otherwise no demand data at all. Weekly and annual
// figures are derived from each other when only one is present.
func (s *service) demandFor(ctx context.Context, partID string, override *DemandOverride) (*float64, *float64, string, error) {
	forecast, err := s.erp.GetForecast(ctx, partID)
	if err != nil && !errors.Is(err, erp.ErrNotFound) {
		return nil, nil, models.DemandSourceNone, err
	}
	if forecast != nil && (forecast.WeeklyDemand != nil || forecast.AnnualDemand != nil) {
		weekly := forecast.WeeklyDemand
		annual := forecast.AnnualDemand
		if annual == nil {
			derived := *weekly * 52
			annual = &derived
		}
		if weekly == nil {
			derived := *annual / 52
			weekly = &derived
		}
		return weekly, annual, models.DemandSourceForecast, nil
	}
	if override != nil {
		weekly := override.WeeklyDemand
		annual := weekly * 52
		return &weekly, &annual, models.DemandSourceOverride, nil
	}
	return nil, nil, models.DemandSourceNone, nil
}

// marginErosion is the share of the assembly's price eaten by the cost
// increase, in percent. Sale price is the preferred denominator, standard
// cost stands in when sale price is unknown, and with neither there is
// nothing to compute.
func marginErosion(unitCostIncrease float64, parent erp.BOMParent) *float64 {
	var denom float64
	switch {
	case parent.SalePrice != nil && *parent.SalePrice > 0:
		denom = *parent.SalePrice
	case parent.StdCost != nil && *parent.StdCost > 0:
		denom = *parent.StdCost
	default:
		return nil
	}
	pct := unitCostIncrease / denom * 100
	return &pct
}

// riskTierFor buckets margin erosion. Cost decreases land in low; a
// missing figure is unknown rather than low so reviewers see the gap.
func riskTierFor(erosion *float64) string {
	if erosion == nil {
		return models.RiskTierUnknown
	}
	switch {
	case *erosion >= 5:
		return models.RiskTierCritical
	case *erosion >= 2:
		return models.RiskTierHigh
	case *erosion >= 0.5:
		return models.RiskTierMedium
	default:
		return models.RiskTierLow
	}
}

// assemblyImpact sums annual cost impact over assemblies with demand data
func assemblyImpact(assemblies []models.AffectedAssembly) (float64, bool) {
	var sum float64
	found := false
	for i := range assemblies {
		if assemblies[i].AnnualDemand != nil {
			sum += *assemblies[i].AnnualDemand * assemblies[i].UnitCostIncrease
			found = true
		}
	}
	return sum, found
}

// overallTier folds per-assembly tiers into the worst one
func overallTier(assemblies []models.AffectedAssembly) string {
	if len(assemblies) == 0 {
		return models.RiskTierUnknown
	}
	tier := assemblies[0].RiskTier
	for _, a := range assemblies[1:] {
		tier = models.WorseRiskTier(tier, a.RiskTier)
	}
	return tier
}

func boolPtr(v bool) *bool { return &v }

func joinError(existing, addition string) string {
	if existing == "" {
		return addition
	}
	return existing + "; " + addition
}
