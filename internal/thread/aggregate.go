// Package thread merges the messages of one email conversation into a
// single aggregated view. Suppliers routinely split a price change across
// a thread: the first email announces, a follow-up adds the effective
// date, a correction replaces a line item. The aggregate is derived on
// demand and never persisted.
package thread

import (
	"sort"
	"strings"
	"time"

	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/models"
)

// Provenance identifies the message a merged value came from
type Provenance struct {
	SourceMessageID   uint      `json:"source_message_id"`
	ProviderMessageID string    `json:"provider_message_id"`
	ReceivedAt        time.Time `json:"received_at"`
}

// SourcedString is a merged scalar with the message that supplied it
type SourcedString struct {
	Value  string      `json:"value"`
	Source *Provenance `json:"source,omitempty"`
}

// SourcedTime is a merged timestamp with the message that supplied it
type SourcedTime struct {
	Value  *time.Time  `json:"value"`
	Source *Provenance `json:"source,omitempty"`
}

// SourcedProduct is a line item with the message that supplied it
type SourcedProduct struct {
	ProductID   string     `json:"product_id"`
	ProductName string     `json:"product_name"`
	OldPrice    *float64   `json:"old_price,omitempty"`
	NewPrice    *float64   `json:"new_price,omitempty"`
	Currency    string     `json:"currency,omitempty"`
	UOM         string     `json:"uom,omitempty"`
	Source      Provenance `json:"source"`
}

// View is the aggregated state of one conversation
type View struct {
	ConversationID  string           `json:"conversation_id"`
	Subject         string           `json:"subject"`
	MessageCount    int              `json:"message_count"`
	RecordCount     int              `json:"record_count"`
	FirstReceivedAt time.Time        `json:"first_received_at"`
	LastReceivedAt  time.Time        `json:"last_received_at"`
	SupplierName    SourcedString    `json:"supplier_name"`
	SupplierEmail   SourcedString    `json:"supplier_email"`
	SupplierERPID   SourcedString    `json:"supplier_erp_id"`
	EffectiveDate   SourcedTime      `json:"effective_date"`
	ChangeReason    SourcedString    `json:"change_reason"`
	NoticeReference SourcedString    `json:"notice_reference"`
	Products        []SourcedProduct `json:"products"`
	Partial         bool             `json:"partial"`
}

// Aggregate merges a conversation's messages and their extracted records.
// Outgoing messages are dropped. Messages are walked oldest first (ties
// broken by provider message id so the result is deterministic), and for
// scalars the last non-empty value wins; an empty or nil value never
// overwrites an earlier one. Products are deduplicated by verbatim
// product id, a later occurrence replacing the whole line item in place;
// items without a product id are all kept in arrival order.
func Aggregate(conversationID string, messages []models.Message, records []models.PriceChangeRecord) *View {
	byMessage := make(map[uint]*models.PriceChangeRecord, len(records))
	for i := range records {
		byMessage[records[i].MessageID] = &records[i]
	}

	included := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		if !m.IsOutgoing {
			included = append(included, m)
		}
	}
	sort.SliceStable(included, func(i, j int) bool {
		if !included[i].ReceivedAt.Equal(included[j].ReceivedAt) {
			return included[i].ReceivedAt.Before(included[j].ReceivedAt)
		}
		return included[i].ProviderMessageID < included[j].ProviderMessageID
	})

	view := &View{ConversationID: conversationID}
	if len(included) == 0 {
		return view
	}

	view.Subject = included[0].Subject
	view.MessageCount = len(included)
	view.FirstReceivedAt = included[0].ReceivedAt
	view.LastReceivedAt = included[len(included)-1].ReceivedAt

	// verbatim product id -> position in view.Products
	keyed := make(map[string]int)

	for _, msg := range included {
		record, ok := byMessage[msg.ID]
		if !ok {
			continue
		}
		view.RecordCount++
		src := Provenance{
			SourceMessageID:   msg.ID,
			ProviderMessageID: msg.ProviderMessageID,
			ReceivedAt:        msg.ReceivedAt,
		}

		mergeString(&view.SupplierName, record.SupplierName, src)
		mergeString(&view.SupplierEmail, record.SupplierEmail, src)
		mergeString(&view.SupplierERPID, record.SupplierERPID, src)
		mergeString(&view.ChangeReason, record.ChangeReason, src)
		mergeString(&view.NoticeReference, record.NoticeReference, src)
		if record.EffectiveDate != nil {
			ts := *record.EffectiveDate
			source := src
			view.EffectiveDate = SourcedTime{Value: &ts, Source: &source}
		}
		if record.Partial {
			view.Partial = true
		}

		for _, p := range record.Products {
			merged := SourcedProduct{
				ProductID:   p.ProductID,
				ProductName: p.ProductName,
				OldPrice:    p.OldPrice,
				NewPrice:    p.NewPrice,
				Currency:    p.Currency,
				UOM:         p.UOM,
				Source:      src,
			}
			if p.ProductID == "" {
				view.Products = append(view.Products, merged)
				continue
			}
			if at, seen := keyed[p.ProductID]; seen {
				view.Products[at] = merged
			} else {
				keyed[p.ProductID] = len(view.Products)
				view.Products = append(view.Products, merged)
			}
		}
	}

	return view
}

// mergeString applies last-non-empty-wins to a scalar field
func mergeString(field *SourcedString, value string, src Provenance) {
	if strings.TrimSpace(value) == "" {
		return
	}
	source := src
	field.Value = value
	field.Source = &source
}

// ToRecord flattens the view into the record shape impact analysis
// consumes, replacing a single email's extraction when the email belongs
// to a multi-message thread. The result is derived and never persisted.
func (v *View) ToRecord(messageID uint) *models.PriceChangeRecord {
	record := &models.PriceChangeRecord{
		MessageID:       messageID,
		SupplierName:    v.SupplierName.Value,
		SupplierEmail:   v.SupplierEmail.Value,
		SupplierERPID:   v.SupplierERPID.Value,
		EffectiveDate:   v.EffectiveDate.Value,
		ChangeReason:    v.ChangeReason.Value,
		NoticeReference: v.NoticeReference.Value,
		Partial:         v.Partial,
		ExtractedAt:     v.LastReceivedAt,
	}
	for i, p := range v.Products {
		record.Products = append(record.Products, models.ProductLineItem{
			Position:    i,
			ProductID:   p.ProductID,
			ProductName: p.ProductName,
			OldPrice:    p.OldPrice,
			NewPrice:    p.NewPrice,
			Currency:    p.Currency,
			UOM:         p.UOM,
		})
	}
	return record
}
