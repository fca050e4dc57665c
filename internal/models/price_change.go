package models

import (
	"time"
)

// PriceChangeRecord holds the structured data extracted from one price-change
// email. At most one record exists per message; re-extraction replaces it.
type PriceChangeRecord struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	MessageID       uint       `gorm:"uniqueIndex;not null" json:"message_id"`
	SupplierName    string     `gorm:"size:255" json:"supplier_name,omitempty"`
	SupplierEmail   string     `gorm:"size:255" json:"supplier_email,omitempty"`
	SupplierERPID   string     `gorm:"size:64" json:"supplier_erp_id,omitempty"`
	EffectiveDate   *time.Time `json:"effective_date,omitempty"`
	ChangeReason    string     `json:"change_reason,omitempty"`
	NoticeReference string     `gorm:"size:255" json:"notice_reference,omitempty"`
	Partial         bool       `gorm:"default:false" json:"partial"`
	ExtractionNotes string     `json:"extraction_notes,omitempty"`
	ExtractedAt     time.Time  `gorm:"autoCreateTime" json:"extracted_at"`

	// Relationships
	Message  *Message          `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"-"`
	Products []ProductLineItem `gorm:"foreignKey:RecordID;constraint:OnDelete:CASCADE" json:"products,omitempty"`
}

// TableName returns the table name for PriceChangeRecord
func (PriceChangeRecord) TableName() string {
	return "price_change_records"
}

// ProductLineItem is one claimed product price change within a record.
// ProductID is kept verbatim as the supplier wrote it; items without a
// ProductID are retained for display but never validated or analyzed.
type ProductLineItem struct {
	ID          uint     `gorm:"primaryKey" json:"id"`
	RecordID    uint     `gorm:"not null;index" json:"record_id"`
	Position    int      `gorm:"not null" json:"position"`
	ProductID   string   `gorm:"size:128" json:"product_id,omitempty"`
	ProductName string   `gorm:"size:255" json:"product_name,omitempty"`
	OldPrice    *float64 `json:"old_price,omitempty"`
	NewPrice    *float64 `json:"new_price,omitempty"`
	Currency    string   `gorm:"size:8" json:"currency,omitempty"`
	UOM         string   `gorm:"size:16" json:"uom,omitempty"`

	// Relationships
	Record *PriceChangeRecord `gorm:"foreignKey:RecordID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for ProductLineItem
func (ProductLineItem) TableName() string {
	return "product_line_items"
}

// Identifiable reports whether the item carries a product id and can be
// validated against the catalog
func (p *ProductLineItem) Identifiable() bool {
	return p.ProductID != ""
}

// Delta returns the absolute price change when both prices are present
func (p *ProductLineItem) Delta() *float64 {
	if p.OldPrice == nil || p.NewPrice == nil {
		return nil
	}
	d := *p.NewPrice - *p.OldPrice
	return &d
}
