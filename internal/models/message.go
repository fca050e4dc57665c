package models

import (
	"time"
)

// Message processing statuses. A message moves received -> pending_review
// (untrusted sender), received -> ignored (classified as not a price change),
// or received -> extracting -> extracted -> analyzing -> analyzed. Failed
// marks a pipeline error after which manual re-analysis is allowed.
const (
	MessageStatusReceived      = "received"
	MessageStatusPendingReview = "pending_review"
	MessageStatusIgnored       = "ignored"
	MessageStatusExtracting    = "extracting"
	MessageStatusExtracted     = "extracted"
	MessageStatusAnalyzing     = "analyzing"
	MessageStatusAnalyzed      = "analyzed"
	MessageStatusFailed        = "failed"
	MessageStatusRejected      = "rejected"
)

// Message sources
const (
	MessageSourceFeed = "feed"
	MessageSourceSMTP = "smtp"
)

// Trust match kinds recorded at intake time
const (
	TrustMatchExact  = "exact"
	TrustMatchDomain = "domain"
	TrustMatchNone   = "none"
)

// Message is an immutable snapshot of one supplier email plus the mutable
// processing state the pipeline attaches to it
type Message struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	MailboxID         uint      `gorm:"not null;index;uniqueIndex:idx_mailbox_provider_msg" json:"mailbox_id"`
	ProviderMessageID string    `gorm:"not null;size:512;uniqueIndex:idx_mailbox_provider_msg" json:"provider_message_id"`
	ConversationID    string    `gorm:"index;size:512" json:"conversation_id,omitempty"`
	SenderEmail       string    `gorm:"not null;size:255;index" json:"sender_email"`
	SenderName        string    `gorm:"size:255" json:"sender_name,omitempty"`
	Subject           string    `json:"subject,omitempty"`
	Snippet           string    `gorm:"size:255" json:"snippet,omitempty"`
	BodyText          string    `json:"body_text,omitempty"`
	BodyHTML          string    `json:"body_html,omitempty"`
	Source            string    `gorm:"not null;size:16;default:feed" json:"source"`
	IsOutgoing        bool      `gorm:"default:false" json:"is_outgoing"`
	IsReply           bool      `gorm:"default:false" json:"is_reply"`
	IsForward         bool      `gorm:"default:false" json:"is_forward"`
	HasAttachments    bool      `gorm:"default:false" json:"has_attachments"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	ReceivedAt        time.Time `gorm:"not null;index" json:"received_at"`
	IngestedAt        time.Time `gorm:"autoCreateTime" json:"ingested_at"`

	// Processing state
	Status          string  `gorm:"not null;size:32;default:received;index" json:"status"`
	TrustMatch      string  `gorm:"size:16" json:"trust_match,omitempty"`
	VendorID        string  `gorm:"size:64" json:"vendor_id,omitempty"`
	VendorName      string  `gorm:"size:255" json:"vendor_name,omitempty"`
	IsPriceChange   *bool   `json:"is_price_change,omitempty"`
	Confidence      float64 `json:"confidence"`
	ClassifierNotes string  `json:"classifier_notes,omitempty"`
	ProcessingError string  `json:"processing_error,omitempty"`
	ReviewedBy      string  `gorm:"size:255" json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`

	// Relationships
	Mailbox     Mailbox            `gorm:"foreignKey:MailboxID;constraint:OnDelete:CASCADE" json:"-"`
	Attachments []Attachment       `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"attachments,omitempty"`
	Record      *PriceChangeRecord `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"record,omitempty"`
}

// TableName returns the table name for Message
func (Message) TableName() string {
	return "messages"
}

// AwaitingReview reports whether the message is parked for a human decision
func (m *Message) AwaitingReview() bool {
	return m.Status == MessageStatusPendingReview
}

// Trusted reports whether the sender matched the vendor directory at intake
func (m *Message) Trusted() bool {
	return m.TrustMatch == TrustMatchExact || m.TrustMatch == TrustMatchDomain
}

// MessageListItem is a lightweight version for list views
type MessageListItem struct {
	ID             uint      `json:"id"`
	MailboxID      uint      `json:"mailbox_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	SenderEmail    string    `json:"sender_email"`
	SenderName     string    `json:"sender_name,omitempty"`
	Subject        string    `json:"subject,omitempty"`
	Snippet        string    `json:"snippet,omitempty"`
	Status         string    `json:"status"`
	TrustMatch     string    `json:"trust_match,omitempty"`
	Confidence     float64   `json:"confidence"`
	ReceivedAt     time.Time `json:"received_at"`
}
