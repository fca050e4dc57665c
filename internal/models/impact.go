package models

import (
	"time"
)

// Impact result statuses. Blocked means validation failed for the product;
// error means impact computation itself failed. Both block auto-approval.
const (
	ImpactStatusPending = "pending"
	ImpactStatusSuccess = "success"
	ImpactStatusWarning = "warning"
	ImpactStatusError   = "error"
	ImpactStatusBlocked = "blocked"
)

// Risk tiers, ordered from worst to best. Unknown means cost or margin data
// was missing, which is distinct from low risk.
const (
	RiskTierCritical = "critical"
	RiskTierHigh     = "high"
	RiskTierMedium   = "medium"
	RiskTierLow      = "low"
	RiskTierUnknown  = "unknown"
)

// Demand sources, in preference order
const (
	DemandSourceForecast = "forecast"
	DemandSourceOverride = "override"
	DemandSourceNone     = "none"
)

// riskRank orders tiers for worst-of comparisons. Unknown sorts between
// high and medium so missing data is surfaced rather than buried.
var riskRank = map[string]int{
	RiskTierCritical: 0,
	RiskTierHigh:     1,
	RiskTierUnknown:  2,
	RiskTierMedium:   3,
	RiskTierLow:      4,
}

// WorseRiskTier returns the more severe of two tiers
func WorseRiskTier(a, b string) string {
	ra, ok := riskRank[a]
	if !ok {
		return b
	}
	rb, ok := riskRank[b]
	if !ok {
		return a
	}
	if ra <= rb {
		return a
	}
	return b
}

// ImpactResult is the validation and cost-impact outcome for one product of
// one analysis run. Re-running analysis for a message replaces all of its
// rows atomically.
type ImpactResult struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	MessageID    uint   `gorm:"not null;index" json:"message_id"`
	ProductIndex int    `gorm:"not null" json:"product_index"`
	ProductID    string `gorm:"size:128" json:"product_id"`
	ProductName  string `gorm:"size:255" json:"product_name,omitempty"`
	Status       string `gorm:"not null;size:16;default:pending" json:"status"`

	// Validation (tri-state: nil means the check was not performed)
	PartExists     *bool `json:"part_exists,omitempty"`
	SupplierExists *bool `json:"supplier_exists,omitempty"`
	LinkExists     *bool `json:"link_exists,omitempty"`
	CanProceed     bool  `gorm:"default:false" json:"can_proceed"`

	// Price change
	OldPrice      *float64 `json:"old_price,omitempty"`
	NewPrice      *float64 `json:"new_price,omitempty"`
	PriceDelta    *float64 `json:"price_delta,omitempty"`
	PriceDeltaPct *float64 `json:"price_delta_pct,omitempty"`
	Currency      string   `gorm:"size:8" json:"currency,omitempty"`

	// Demand and impact
	WeeklyDemand     *float64 `json:"weekly_demand,omitempty"`
	AnnualDemand     *float64 `json:"annual_demand,omitempty"`
	DemandSource     string   `gorm:"size:16;default:none" json:"demand_source"`
	AnnualCostImpact *float64 `json:"annual_cost_impact,omitempty"`
	OverallRiskTier  string   `gorm:"size:16;default:unknown" json:"overall_risk_tier"`

	// Disposition
	CanAutoApprove   bool       `gorm:"default:false" json:"can_auto_approve"`
	ProcessingErrors string     `json:"processing_errors,omitempty"`
	Approved         bool       `gorm:"default:false" json:"approved"`
	ApprovedBy       string     `gorm:"size:255" json:"approved_by,omitempty"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
	AnalyzedAt       time.Time  `gorm:"autoCreateTime" json:"analyzed_at"`

	// Relationships
	Message    Message            `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"-"`
	Assemblies []AffectedAssembly `gorm:"foreignKey:ImpactResultID;constraint:OnDelete:CASCADE" json:"assemblies,omitempty"`
}

// TableName returns the table name for ImpactResult
func (ImpactResult) TableName() string {
	return "impact_results"
}

// Failed reports whether the product could not be fully analyzed
func (r *ImpactResult) Failed() bool {
	return r.Status == ImpactStatusError || r.Status == ImpactStatusBlocked
}

// AffectedAssembly is one parent assembly reached by walking the BOM upward
// from a changed component, with the cost effect propagated along the path.
type AffectedAssembly struct {
	ID               uint     `gorm:"primaryKey" json:"id"`
	ImpactResultID   uint     `gorm:"not null;index" json:"impact_result_id"`
	AssemblyID       string   `gorm:"not null;size:128" json:"assembly_id"`
	AssemblyName     string   `gorm:"size:255" json:"assembly_name,omitempty"`
	Level            int      `gorm:"not null" json:"level"`
	CumulativeQtyPer float64  `gorm:"not null" json:"cumulative_qty_per"`
	Path             string   `gorm:"size:1024" json:"path"`
	WeeklyDemand     *float64 `json:"weekly_demand,omitempty"`
	AnnualDemand     *float64 `json:"annual_demand,omitempty"`
	DemandSource     string   `gorm:"size:16;default:none" json:"demand_source"`
	UnitCostIncrease float64  `json:"unit_cost_increase"`
	MarginErosionPct *float64 `json:"margin_erosion_pct,omitempty"`
	RiskTier         string   `gorm:"size:16;default:unknown" json:"risk_tier"`

	// Relationships
	ImpactResult ImpactResult `gorm:"foreignKey:ImpactResultID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for AffectedAssembly
func (AffectedAssembly) TableName() string {
	return "affected_assemblies"
}
