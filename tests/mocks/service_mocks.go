package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/extract"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/impact"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/ingest"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/mailfeed"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/models"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/thread"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/trust"
)

// MockCoordinator implements ingest.Coordinator
type MockCoordinator struct {
	mock.Mock
}

// Poll runs one sync cycle for a mailbox
func (m *MockCoordinator) Poll(ctx context.Context, mailboxID uint) (*ingest.PollStats, error) {
	args := m.Called(ctx, mailboxID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ingest.PollStats), args.Error(1)
}

// Process runs the pipeline for an already persisted message
func (m *MockCoordinator) Process(ctx context.Context, messageID uint) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

// ProcessApproved re-enters the pipeline after reviewer approval
func (m *MockCoordinator) ProcessApproved(ctx context.Context, messageID uint, approver string) error {
	args := m.Called(ctx, messageID, approver)
	return args.Error(0)
}

// MockImpactService implements impact.Service
type MockImpactService struct {
	mock.Mock
}

// Analyze validates the record and computes cost impact per product
func (m *MockImpactService) Analyze(ctx context.Context, messageID uint, record *models.PriceChangeRecord, override *impact.DemandOverride) ([]models.ImpactResult, error) {
	args := m.Called(ctx, messageID, record, override)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ImpactResult), args.Error(1)
}

// MockThreadService implements thread.Service
type MockThreadService struct {
	mock.Mock
}

// Summary returns the merged view of a conversation
func (m *MockThreadService) Summary(ctx context.Context, conversationID string) (*thread.View, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*thread.View), args.Error(1)
}

// MockTrustVerifier implements trust.Verifier
type MockTrustVerifier struct {
	mock.Mock
}

// Verify answers a sender trust check
func (m *MockTrustVerifier) Verify(ctx context.Context, senderEmail string) (trust.Verdict, error) {
	args := m.Called(ctx, senderEmail)
	return args.Get(0).(trust.Verdict), args.Error(1)
}

// MockFeedClient implements mailfeed.Client
type MockFeedClient struct {
	mock.Mock
}

// Fetch returns messages changed since the continuation token
func (m *MockFeedClient) Fetch(ctx context.Context, mailboxAddress string, token *string, window time.Duration) (*mailfeed.Batch, error) {
	args := m.Called(ctx, mailboxAddress, token, window)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*mailfeed.Batch), args.Error(1)
}

// MockExtractor implements extract.Extractor
type MockExtractor struct {
	mock.Mock
}

// Extract pulls the structured price change record out of one email
func (m *MockExtractor) Extract(ctx context.Context, content extract.Content) (*models.PriceChangeRecord, error) {
	args := m.Called(ctx, content)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PriceChangeRecord), args.Error(1)
}
