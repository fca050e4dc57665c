package fixtures

import (
	"fmt"
	"time"

	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/models"
)

// MailboxBuilder creates test Mailbox instances with fluent API
type MailboxBuilder struct {
	mailbox models.Mailbox
}

// NewMailboxBuilder creates a new MailboxBuilder with sensible defaults
func NewMailboxBuilder() *MailboxBuilder {
	return &MailboxBuilder{
		mailbox: models.Mailbox{
			ID:          1,
			Address:     "purchasing@example.com",
			DisplayName: "Purchasing",
			Enabled:     true,
			CreatedAt:   time.Now(),
		},
	}
}

// WithID sets the mailbox ID
func (b *MailboxBuilder) WithID(id uint) *MailboxBuilder {
	b.mailbox.ID = id
	return b
}

// WithAddress sets the mailbox address
func (b *MailboxBuilder) WithAddress(address string) *MailboxBuilder {
	b.mailbox.Address = address
	return b
}

// WithDisplayName sets the display name
func (b *MailboxBuilder) WithDisplayName(name string) *MailboxBuilder {
	b.mailbox.DisplayName = name
	return b
}

// WithEnabled sets whether the mailbox is polled
func (b *MailboxBuilder) WithEnabled(enabled bool) *MailboxBuilder {
	b.mailbox.Enabled = enabled
	return b
}

// Build returns the constructed Mailbox
func (b *MailboxBuilder) Build() *models.Mailbox {
	return &b.mailbox
}

// BuildValue returns the constructed Mailbox as a value (not pointer)
func (b *MailboxBuilder) BuildValue() models.Mailbox {
	return b.mailbox
}

// MessageBuilder creates test Message instances with fluent API
type MessageBuilder struct {
	message models.Message
}

// NewMessageBuilder creates a new MessageBuilder with sensible defaults
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{
		message: models.Message{
			ID:                1,
			MailboxID:         1,
			ProviderMessageID: "msg-0001",
			ConversationID:    "conv-0001",
			SenderEmail:       "sales@acme-metals.example",
			SenderName:        "ACME Metals",
			Subject:           "Price adjustment notice",
			Snippet:           "Please find attached our updated price list...",
			BodyText:          "Please find attached our updated price list effective next month.",
			BodyHTML:          "<p>Please find attached our updated price list effective next month.</p>",
			Source:            models.MessageSourceFeed,
			Status:            models.MessageStatusReceived,
			TrustMatch:        models.TrustMatchExact,
			VendorID:          "V-1001",
			VendorName:        "ACME Metals Inc.",
			ReceivedAt:        time.Now().UTC(),
		},
	}
}

// WithID sets the message ID
func (b *MessageBuilder) WithID(id uint) *MessageBuilder {
	b.message.ID = id
	return b
}

// WithMailboxID sets the mailbox ID
func (b *MessageBuilder) WithMailboxID(mailboxID uint) *MessageBuilder {
	b.message.MailboxID = mailboxID
	return b
}

// WithProviderMessageID sets the provider message ID
func (b *MessageBuilder) WithProviderMessageID(id string) *MessageBuilder {
	b.message.ProviderMessageID = id
	return b
}

// WithConversationID sets the conversation ID
func (b *MessageBuilder) WithConversationID(id string) *MessageBuilder {
	b.message.ConversationID = id
	return b
}

// WithSender sets the sender email and name
func (b *MessageBuilder) WithSender(email, name string) *MessageBuilder {
	b.message.SenderEmail = email
	b.message.SenderName = name
	return b
}

// WithSubject sets the message subject
func (b *MessageBuilder) WithSubject(subject string) *MessageBuilder {
	b.message.Subject = subject
	return b
}

// WithBody sets both text and HTML body
func (b *MessageBuilder) WithBody(text, html string) *MessageBuilder {
	b.message.BodyText = text
	b.message.BodyHTML = html
	return b
}

// WithSource sets the ingest source (feed or smtp)
func (b *MessageBuilder) WithSource(source string) *MessageBuilder {
	b.message.Source = source
	return b
}

// WithStatus sets the processing status
func (b *MessageBuilder) WithStatus(status string) *MessageBuilder {
	b.message.Status = status
	return b
}

// WithTrustMatch sets the trust match recorded at intake
func (b *MessageBuilder) WithTrustMatch(match string) *MessageBuilder {
	b.message.TrustMatch = match
	return b
}

// WithVendor sets the matched vendor identity
func (b *MessageBuilder) WithVendor(id, name string) *MessageBuilder {
	b.message.VendorID = id
	b.message.VendorName = name
	return b
}

// WithClassification sets the classifier verdict
func (b *MessageBuilder) WithClassification(isPriceChange bool, confidence float64) *MessageBuilder {
	b.message.IsPriceChange = &isPriceChange
	b.message.Confidence = confidence
	return b
}

// WithReceivedAt sets the received timestamp
func (b *MessageBuilder) WithReceivedAt(t time.Time) *MessageBuilder {
	b.message.ReceivedAt = t
	return b
}

// WithAttachments sets the message attachments
func (b *MessageBuilder) WithAttachments(attachments []models.Attachment) *MessageBuilder {
	b.message.Attachments = attachments
	b.message.HasAttachments = len(attachments) > 0
	return b
}

// WithRecord sets the extracted price-change record
func (b *MessageBuilder) WithRecord(record *models.PriceChangeRecord) *MessageBuilder {
	b.message.Record = record
	return b
}

// Build returns the constructed Message
func (b *MessageBuilder) Build() *models.Message {
	return &b.message
}

// BuildValue returns the constructed Message as a value (not pointer)
func (b *MessageBuilder) BuildValue() models.Message {
	return b.message
}

// AttachmentBuilder creates test Attachment instances with fluent API
type AttachmentBuilder struct {
	attachment models.Attachment
}

// NewAttachmentBuilder creates a new AttachmentBuilder with sensible defaults
func NewAttachmentBuilder() *AttachmentBuilder {
	return &AttachmentBuilder{
		attachment: models.Attachment{
			ID:          1,
			MessageID:   1,
			Filename:    "pricelist.pdf",
			ContentType: "application/pdf",
			FilePath:    "2026/08/22/abc123.pdf",
			SizeBytes:   1024,
		},
	}
}

// WithID sets the attachment ID
func (b *AttachmentBuilder) WithID(id uint) *AttachmentBuilder {
	b.attachment.ID = id
	return b
}

// WithMessageID sets the message ID
func (b *AttachmentBuilder) WithMessageID(messageID uint) *AttachmentBuilder {
	b.attachment.MessageID = messageID
	return b
}

// WithFilename sets the attachment filename
func (b *AttachmentBuilder) WithFilename(filename string) *AttachmentBuilder {
	b.attachment.Filename = filename
	return b
}

// WithContentType sets the content type
func (b *AttachmentBuilder) WithContentType(contentType string) *AttachmentBuilder {
	b.attachment.ContentType = contentType
	return b
}

// WithFilePath sets the stored file path
func (b *AttachmentBuilder) WithFilePath(filePath string) *AttachmentBuilder {
	b.attachment.FilePath = filePath
	return b
}

// WithSize sets the file size in bytes
func (b *AttachmentBuilder) WithSize(size int64) *AttachmentBuilder {
	b.attachment.SizeBytes = size
	return b
}

// Build returns the constructed Attachment
func (b *AttachmentBuilder) Build() *models.Attachment {
	return &b.attachment
}

// BuildValue returns the constructed Attachment as a value (not pointer)
func (b *AttachmentBuilder) BuildValue() models.Attachment {
	return b.attachment
}

// RecordBuilder creates test PriceChangeRecord instances with fluent API
type RecordBuilder struct {
	record models.PriceChangeRecord
}

// NewRecordBuilder creates a new RecordBuilder with sensible defaults
func NewRecordBuilder() *RecordBuilder {
	effective := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	return &RecordBuilder{
		record: models.PriceChangeRecord{
			ID:            1,
			MessageID:     1,
			SupplierName:  "ACME Metals Inc.",
			SupplierEmail: "sales@acme-metals.example",
			SupplierERPID: "V-1001",
			EffectiveDate: &effective,
			ChangeReason:  "raw material cost increase",
		},
	}
}

// WithID sets the record ID
func (b *RecordBuilder) WithID(id uint) *RecordBuilder {
	b.record.ID = id
	return b
}

// WithMessageID sets the message ID
func (b *RecordBuilder) WithMessageID(messageID uint) *RecordBuilder {
	b.record.MessageID = messageID
	return b
}

// WithSupplier sets the extracted supplier identity
func (b *RecordBuilder) WithSupplier(name, email, erpID string) *RecordBuilder {
	b.record.SupplierName = name
	b.record.SupplierEmail = email
	b.record.SupplierERPID = erpID
	return b
}

// WithEffectiveDate sets the effective date
func (b *RecordBuilder) WithEffectiveDate(t *time.Time) *RecordBuilder {
	b.record.EffectiveDate = t
	return b
}

// WithPartial marks the extraction as incomplete
func (b *RecordBuilder) WithPartial(notes string) *RecordBuilder {
	b.record.Partial = true
	b.record.ExtractionNotes = notes
	return b
}

// WithProducts sets the extracted line items
func (b *RecordBuilder) WithProducts(products []models.ProductLineItem) *RecordBuilder {
	b.record.Products = products
	return b
}

// Build returns the constructed PriceChangeRecord
func (b *RecordBuilder) Build() *models.PriceChangeRecord {
	return &b.record
}

// BuildValue returns the constructed PriceChangeRecord as a value (not pointer)
func (b *RecordBuilder) BuildValue() models.PriceChangeRecord {
	return b.record
}

// LineItemBuilder creates test ProductLineItem instances with fluent API
type LineItemBuilder struct {
	item models.ProductLineItem
}

// NewLineItemBuilder creates a new LineItemBuilder with sensible defaults
func NewLineItemBuilder() *LineItemBuilder {
	oldPrice := 10.50
	newPrice := 12.00
	return &LineItemBuilder{
		item: models.ProductLineItem{
			RecordID:    1,
			Position:    0,
			ProductID:   "PN-1001",
			ProductName: "Hex bolt M8",
			OldPrice:    &oldPrice,
			NewPrice:    &newPrice,
			Currency:    "USD",
			UOM:         "EA",
		},
	}
}

// WithRecordID sets the parent record ID
func (b *LineItemBuilder) WithRecordID(recordID uint) *LineItemBuilder {
	b.item.RecordID = recordID
	return b
}

// WithPosition sets the position within the record
func (b *LineItemBuilder) WithPosition(position int) *LineItemBuilder {
	b.item.Position = position
	return b
}

// WithProduct sets the product identity
func (b *LineItemBuilder) WithProduct(id, name string) *LineItemBuilder {
	b.item.ProductID = id
	b.item.ProductName = name
	return b
}

// WithPrices sets old and new prices
func (b *LineItemBuilder) WithPrices(oldPrice, newPrice float64) *LineItemBuilder {
	b.item.OldPrice = &oldPrice
	b.item.NewPrice = &newPrice
	return b
}

// WithoutPrices clears both prices
func (b *LineItemBuilder) WithoutPrices() *LineItemBuilder {
	b.item.OldPrice = nil
	b.item.NewPrice = nil
	return b
}

// Build returns the constructed ProductLineItem
func (b *LineItemBuilder) Build() *models.ProductLineItem {
	return &b.item
}

// BuildValue returns the constructed ProductLineItem as a value (not pointer)
func (b *LineItemBuilder) BuildValue() models.ProductLineItem {
	return b.item
}

// ImpactResultBuilder creates test ImpactResult instances with fluent API
type ImpactResultBuilder struct {
	result models.ImpactResult
}

// NewImpactResultBuilder creates a new ImpactResultBuilder with sensible defaults
func NewImpactResultBuilder() *ImpactResultBuilder {
	exists := true
	oldPrice := 10.50
	newPrice := 12.00
	delta := newPrice - oldPrice
	deltaPct := delta / oldPrice * 100
	return &ImpactResultBuilder{
		result: models.ImpactResult{
			MessageID:       1,
			ProductIndex:    0,
			ProductID:       "PN-1001",
			ProductName:     "Hex bolt M8",
			Status:          models.ImpactStatusSuccess,
			PartExists:      &exists,
			SupplierExists:  &exists,
			LinkExists:      &exists,
			CanProceed:      true,
			OldPrice:        &oldPrice,
			NewPrice:        &newPrice,
			PriceDelta:      &delta,
			PriceDeltaPct:   &deltaPct,
			Currency:        "USD",
			DemandSource:    models.DemandSourceForecast,
			OverallRiskTier: models.RiskTierMedium,
		},
	}
}

// WithMessageID sets the message ID
func (b *ImpactResultBuilder) WithMessageID(messageID uint) *ImpactResultBuilder {
	b.result.MessageID = messageID
	return b
}

// WithProduct sets the product identity and index
func (b *ImpactResultBuilder) WithProduct(index int, id, name string) *ImpactResultBuilder {
	b.result.ProductIndex = index
	b.result.ProductID = id
	b.result.ProductName = name
	return b
}

// WithStatus sets the result status
func (b *ImpactResultBuilder) WithStatus(status string) *ImpactResultBuilder {
	b.result.Status = status
	return b
}

// WithRiskTier sets the overall risk tier
func (b *ImpactResultBuilder) WithRiskTier(tier string) *ImpactResultBuilder {
	b.result.OverallRiskTier = tier
	return b
}

// WithAutoApprove marks the result as eligible for auto-approval
func (b *ImpactResultBuilder) WithAutoApprove() *ImpactResultBuilder {
	b.result.CanAutoApprove = true
	return b
}

// Build returns the constructed ImpactResult
func (b *ImpactResultBuilder) Build() *models.ImpactResult {
	return &b.result
}

// BuildValue returns the constructed ImpactResult as a value (not pointer)
func (b *ImpactResultBuilder) BuildValue() models.ImpactResult {
	return b.result
}

// Helper functions for creating multiple test entities

// CreateMailboxes creates a slice of mailboxes with sequential addresses
func CreateMailboxes(count int) []models.Mailbox {
	mailboxes := make([]models.Mailbox, count)
	for i := 0; i < count; i++ {
		mailboxes[i] = NewMailboxBuilder().
			WithID(uint(i + 1)).
			WithAddress(fmt.Sprintf("intake%d@example.com", i+1)).
			BuildValue()
	}
	return mailboxes
}

// CreateMessages creates a slice of messages for a given mailbox, newest first
func CreateMessages(mailboxID uint, count int) []models.Message {
	messages := make([]models.Message, count)
	for i := 0; i < count; i++ {
		messages[i] = NewMessageBuilder().
			WithID(uint(i + 1)).
			WithMailboxID(mailboxID).
			WithProviderMessageID(fmt.Sprintf("msg-%04d", i+1)).
			WithSubject(generateSubject(i)).
			WithReceivedAt(time.Now().UTC().Add(-time.Duration(i) * time.Hour)).
			BuildValue()
	}
	return messages
}

// CreateLineItems creates a slice of line items for a given record
func CreateLineItems(recordID uint, count int) []models.ProductLineItem {
	items := make([]models.ProductLineItem, count)
	for i := 0; i < count; i++ {
		items[i] = NewLineItemBuilder().
			WithRecordID(recordID).
			WithPosition(i).
			WithProduct(fmt.Sprintf("PN-%04d", 1001+i), generateProductName(i)).
			WithPrices(10.0+float64(i), 11.0+float64(i)).
			BuildValue()
	}
	return items
}

// Helper functions for generating test data
func generateSubject(index int) string {
	subjects := []string{
		"Price adjustment notice",
		"Updated price list effective Q4",
		"Notice of surcharge increase",
		"Annual price revision",
		"Cost update for your account",
	}
	return subjects[index%len(subjects)]
}

func generateProductName(index int) string {
	names := []string{"Hex bolt M8", "Flat washer M8", "Lock nut M8", "Threaded rod 1m", "Anchor plate"}
	return names[index%len(names)]
}
