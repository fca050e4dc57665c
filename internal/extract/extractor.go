// Package extract turns a price-change email into a structured record
// with per-product line items. Extraction is best-effort: missing fields
// produce a partial record, never an error, so downstream analysis can
// work with whatever the notice actually contained.
package extract

import (
	"context"

	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/models"
)

// Content is the email material handed to the extractor
type Content struct {
	Subject     string
	Body        string
	SenderEmail string
	SenderName  string
}

// Extractor produces a structured price-change record from email content.
// The returned record has no MessageID; the caller owns the association.
type Extractor interface {
	Extract(ctx context.Context, content Content) (*models.PriceChangeRecord, error)
}
