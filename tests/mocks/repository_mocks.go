package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/models"
)

// MockMailboxRepository implements repository.MailboxRepository
type MockMailboxRepository struct {
	mock.Mock
}

// Create creates a new mailbox
func (m *MockMailboxRepository) Create(ctx context.Context, mailbox *models.Mailbox) error {
	args := m.Called(ctx, mailbox)
	return args.Error(0)
}

// GetByID retrieves a mailbox by its ID
func (m *MockMailboxRepository) GetByID(ctx context.Context, id uint) (*models.Mailbox, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Mailbox), args.Error(1)
}

// GetByAddress retrieves a mailbox by its address
func (m *MockMailboxRepository) GetByAddress(ctx context.Context, address string) (*models.Mailbox, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Mailbox), args.Error(1)
}

// GetOrCreate retrieves a mailbox by address or creates it if it doesn't exist
func (m *MockMailboxRepository) GetOrCreate(ctx context.Context, address, displayName string) (*models.Mailbox, bool, error) {
	args := m.Called(ctx, address, displayName)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.Mailbox), args.Bool(1), args.Error(2)
}

// List retrieves all mailboxes with their pending-review counts
func (m *MockMailboxRepository) List(ctx context.Context, enabledOnly bool) ([]models.MailboxWithPendingCount, error) {
	args := m.Called(ctx, enabledOnly)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.MailboxWithPendingCount), args.Error(1)
}

// SetEnabled toggles polling for a mailbox
func (m *MockMailboxRepository) SetEnabled(ctx context.Context, id uint, enabled bool) error {
	args := m.Called(ctx, id, enabled)
	return args.Error(0)
}

// Delete deletes a mailbox by its ID
func (m *MockMailboxRepository) Delete(ctx context.Context, id uint) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockMessageRepository implements repository.MessageRepository
type MockMessageRepository struct {
	mock.Mock
}

// Create creates a new message
func (m *MockMessageRepository) Create(ctx context.Context, message *models.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

// CreateWithAttachments creates a message with its attachments in a transaction
func (m *MockMessageRepository) CreateWithAttachments(ctx context.Context, message *models.Message, attachments []models.Attachment) error {
	args := m.Called(ctx, message, attachments)
	return args.Error(0)
}

// GetByID retrieves a message by its ID with preloaded associations
func (m *MockMessageRepository) GetByID(ctx context.Context, id uint) (*models.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

// GetByProviderID retrieves a message by its provider ID within a mailbox
func (m *MockMessageRepository) GetByProviderID(ctx context.Context, mailboxID uint, providerMessageID string) (*models.Message, error) {
	args := m.Called(ctx, mailboxID, providerMessageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

// ListByMailbox retrieves messages for a mailbox with pagination
func (m *MockMessageRepository) ListByMailbox(ctx context.Context, mailboxID uint, limit, offset int) ([]models.MessageListItem, int64, error) {
	args := m.Called(ctx, mailboxID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]models.MessageListItem), args.Get(1).(int64), args.Error(2)
}

// ListByConversation retrieves all messages sharing a conversation ID
func (m *MockMessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

// ListPendingReview retrieves messages awaiting human review
func (m *MockMessageRepository) ListPendingReview(ctx context.Context, limit, offset int) ([]models.MessageListItem, int64, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]models.MessageListItem), args.Get(1).(int64), args.Error(2)
}

// UpdateStatus sets the processing status of a message
func (m *MockMessageRepository) UpdateStatus(ctx context.Context, id uint, status string) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

// RecordTrust stores the trust verification outcome
func (m *MockMessageRepository) RecordTrust(ctx context.Context, id uint, match, vendorID, vendorName string) error {
	args := m.Called(ctx, id, match, vendorID, vendorName)
	return args.Error(0)
}

// RecordClassification stores the classifier verdict
func (m *MockMessageRepository) RecordClassification(ctx context.Context, id uint, isPriceChange bool, confidence float64, notes string) error {
	args := m.Called(ctx, id, isPriceChange, confidence, notes)
	return args.Error(0)
}

// RecordProcessingError stores a pipeline failure
func (m *MockMessageRepository) RecordProcessingError(ctx context.Context, id uint, status, errMsg string) error {
	args := m.Called(ctx, id, status, errMsg)
	return args.Error(0)
}

// RecordReview stores a human review decision
func (m *MockMessageRepository) RecordReview(ctx context.Context, id uint, reviewer, status string) error {
	args := m.Called(ctx, id, reviewer, status)
	return args.Error(0)
}

// Delete deletes a message by its ID
func (m *MockMessageRepository) Delete(ctx context.Context, id uint) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockAttachmentRepository implements repository.AttachmentRepository
type MockAttachmentRepository struct {
	mock.Mock
}

// Create creates a new attachment record
func (m *MockAttachmentRepository) Create(ctx context.Context, attachment *models.Attachment) error {
	args := m.Called(ctx, attachment)
	return args.Error(0)
}

// GetByID retrieves an attachment by its ID
func (m *MockAttachmentRepository) GetByID(ctx context.Context, id uint) (*models.Attachment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Attachment), args.Error(1)
}

// ListByMessage retrieves all attachments for a message
func (m *MockAttachmentRepository) ListByMessage(ctx context.Context, messageID uint) ([]models.Attachment, error) {
	args := m.Called(ctx, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Attachment), args.Error(1)
}

// Delete deletes an attachment and its stored file
func (m *MockAttachmentRepository) Delete(ctx context.Context, id uint) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockPriceChangeRepository implements repository.PriceChangeRepository
type MockPriceChangeRepository struct {
	mock.Mock
}

// Replace stores the record for a message, replacing any existing one
func (m *MockPriceChangeRepository) Replace(ctx context.Context, record *models.PriceChangeRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

// GetByMessageID retrieves the record for a message
func (m *MockPriceChangeRepository) GetByMessageID(ctx context.Context, messageID uint) (*models.PriceChangeRecord, error) {
	args := m.Called(ctx, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PriceChangeRecord), args.Error(1)
}

// ListByMessageIDs retrieves records for a set of messages
func (m *MockPriceChangeRepository) ListByMessageIDs(ctx context.Context, messageIDs []uint) ([]models.PriceChangeRecord, error) {
	args := m.Called(ctx, messageIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PriceChangeRecord), args.Error(1)
}

// Delete removes the record for a message
func (m *MockPriceChangeRepository) Delete(ctx context.Context, messageID uint) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

// MockImpactRepository implements repository.ImpactRepository
type MockImpactRepository struct {
	mock.Mock
}

// ReplaceForMessage atomically swaps the message's impact results
func (m *MockImpactRepository) ReplaceForMessage(ctx context.Context, messageID uint, results []models.ImpactResult) error {
	args := m.Called(ctx, messageID, results)
	return args.Error(0)
}

// GetByID retrieves an impact result by its ID
func (m *MockImpactRepository) GetByID(ctx context.Context, id uint) (*models.ImpactResult, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ImpactResult), args.Error(1)
}

// ListByMessage retrieves all impact results for a message
func (m *MockImpactRepository) ListByMessage(ctx context.Context, messageID uint) ([]models.ImpactResult, error) {
	args := m.Called(ctx, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ImpactResult), args.Error(1)
}

// Approve marks an impact result as approved
func (m *MockImpactRepository) Approve(ctx context.Context, id uint, approver string) error {
	args := m.Called(ctx, id, approver)
	return args.Error(0)
}

// DeleteByMessage removes all impact results for a message
func (m *MockImpactRepository) DeleteByMessage(ctx context.Context, messageID uint) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

// MockSyncCursorRepository implements repository.SyncCursorRepository
type MockSyncCursorRepository struct {
	mock.Mock
}

// GetByMailbox retrieves the cursor for a mailbox
func (m *MockSyncCursorRepository) GetByMailbox(ctx context.Context, mailboxID uint) (*models.SyncCursor, error) {
	args := m.Called(ctx, mailboxID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SyncCursor), args.Error(1)
}

// GetOrCreate retrieves the cursor for a mailbox, creating it if absent
func (m *MockSyncCursorRepository) GetOrCreate(ctx context.Context, mailboxID uint) (*models.SyncCursor, error) {
	args := m.Called(ctx, mailboxID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SyncCursor), args.Error(1)
}

// AdvanceToken stores the continuation token after a completed poll
func (m *MockSyncCursorRepository) AdvanceToken(ctx context.Context, mailboxID uint, token string) error {
	args := m.Called(ctx, mailboxID, token)
	return args.Error(0)
}

// Reset clears the cursor so the next poll starts from the initial window
func (m *MockSyncCursorRepository) Reset(ctx context.Context, mailboxID uint) error {
	args := m.Called(ctx, mailboxID)
	return args.Error(0)
}

// MockTrustSnapshotRepository implements repository.TrustSnapshotRepository
type MockTrustSnapshotRepository struct {
	mock.Mock
}

// Get retrieves the stored snapshot
func (m *MockTrustSnapshotRepository) Get(ctx context.Context) (*models.TrustSnapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TrustSnapshot), args.Error(1)
}

// Save stores the snapshot
func (m *MockTrustSnapshotRepository) Save(ctx context.Context, snapshot *models.TrustSnapshot) error {
	args := m.Called(ctx, snapshot)
	return args.Error(0)
}
