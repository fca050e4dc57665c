package ingest_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/classify"
	apperrors "github.com/aiplanet-ds/wci-emailagent-sub000/internal/errors"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/extract"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/impact"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/ingest"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/mailfeed"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/models"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/repository"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/trust"
	"github.com/aiplanet-ds/wci-emailagent-sub000/tests/mocks"
)

const (
	pollMailboxID = uint(7)
	feedAddress   = "buyers@ourco.example"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stubSemantic is the classifier stage behind the gate. The default
// verdict confirms a price change well above the acceptance threshold.
type stubSemantic struct {
	result classify.Result
	err    error
}

func (s *stubSemantic) Classify(ctx context.Context, content classify.Content) (classify.Result, error) {
	return s.result, s.err
}

// harness wires a coordinator to mocks for everything behind it
type harness struct {
	mailboxes *mocks.MockMailboxRepository
	cursors   *mocks.MockSyncCursorRepository
	messages  *mocks.MockMessageRepository
	records   *mocks.MockPriceChangeRepository
	feed      *mocks.MockFeedClient
	trust     *mocks.MockTrustVerifier
	semantic  *stubSemantic
	extractor *mocks.MockExtractor
	impact    *mocks.MockImpactService
	threads   *mocks.MockThreadService
	notifier  *mocks.RecordingNotifier
	coord     ingest.Coordinator

	lastID  uint
	created []*models.Message
}

func newHarness() *harness {
	h := &harness{
		mailboxes: new(mocks.MockMailboxRepository),
		cursors:   new(mocks.MockSyncCursorRepository),
		messages:  new(mocks.MockMessageRepository),
		records:   new(mocks.MockPriceChangeRepository),
		feed:      new(mocks.MockFeedClient),
		trust:     new(mocks.MockTrustVerifier),
		semantic: &stubSemantic{result: classify.Result{
			IsPriceChange: true,
			Confidence:    0.93,
			Reasoning:     "explicit price increase with amounts",
		}},
		extractor: new(mocks.MockExtractor),
		impact:    new(mocks.MockImpactService),
		threads:   new(mocks.MockThreadService),
		notifier:  mocks.NewRecordingNotifier(),
		lastID:    100,
	}
	h.coord = ingest.NewCoordinator(ingest.Config{
		Mailboxes: h.mailboxes,
		Cursors:   h.cursors,
		Messages:  h.messages,
		Records:   h.records,
		Feed:      h.feed,
		Trust:     h.trust,
		Gate:      classify.NewGate(h.semantic, 0.7, testLogger()),
		Extractor: h.extractor,
		Impact:    h.impact,
		Threads:   h.threads,
		Notifier:  h.notifier,
		Logger:    testLogger(),
	})
	return h
}

func trustedVerdict() trust.Verdict {
	return trust.Verdict{
		Trusted:    true,
		MatchKind:  models.TrustMatchExact,
		VendorID:   "V-1001",
		VendorName: "Meridian Polymers",
	}
}

func remote(providerID string) mailfeed.RemoteMessage {
	return mailfeed.RemoteMessage{
		ProviderMessageID: providerID,
		SenderEmail:       "quotes@meridian-polymers.example",
		SenderName:        "Dana Reyes",
		Subject:           "Price increase notice",
		BodyText:          "Effective May 1 the resin price rises to $11.00 per kg.",
		ReceivedAt:        time.Date(2026, 3, 9, 14, 30, 0, 0, time.UTC),
	}
}

func extractedRecord() *models.PriceChangeRecord {
	return &models.PriceChangeRecord{
		SupplierName:  "Meridian Polymers",
		SupplierEmail: "quotes@meridian-polymers.example",
		Products: []models.ProductLineItem{
			{Position: 0, ProductID: "RM-100", NewPrice: fptr(11), Currency: "USD"},
		},
	}
}

func fptr(v float64) *float64 { return &v }

// primePoll sets up the mailbox, cursor, and one feed batch
func (h *harness) primePoll(next string, remotes ...mailfeed.RemoteMessage) {
	h.mailboxes.On("GetByID", mock.Anything, pollMailboxID).
		Return(&models.Mailbox{ID: pollMailboxID, Address: feedAddress, Enabled: true}, nil)
	h.cursors.On("GetOrCreate", mock.Anything, pollMailboxID).
		Return(&models.SyncCursor{MailboxID: pollMailboxID}, nil)
	h.feed.On("Fetch", mock.Anything, feedAddress, mock.Anything, mock.Anything).
		Return(&mailfeed.Batch{Messages: remotes, NextToken: next}, nil)
}

// primeInsert lets every fetched message persist, handing out sequential
// ids the way the database would
func (h *harness) primeInsert() {
	h.messages.On("GetByProviderID", mock.Anything, pollMailboxID, mock.AnythingOfType("string")).
		Return(nil, repository.ErrNotFound)
	h.messages.On("Create", mock.Anything, mock.AnythingOfType("*models.Message")).
		Run(func(args mock.Arguments) {
			msg := args.Get(1).(*models.Message)
			h.lastID++
			msg.ID = h.lastID
			h.created = append(h.created, msg)
		}).Return(nil)
}

func (h *harness) primeTrusted() {
	h.trust.On("Verify", mock.Anything, mock.AnythingOfType("string")).
		Return(trustedVerdict(), nil)
	h.messages.On("RecordTrust", mock.Anything, mock.AnythingOfType("uint"),
		models.TrustMatchExact, "V-1001", "Meridian Polymers").Return(nil)
}

func (h *harness) primeStatuses(statuses ...string) {
	for _, status := range statuses {
		h.messages.On("UpdateStatus", mock.Anything, mock.AnythingOfType("uint"), status).Return(nil)
	}
}

func (h *harness) primeClassified() {
	h.messages.On("RecordClassification", mock.Anything, mock.AnythingOfType("uint"),
		mock.AnythingOfType("bool"), mock.AnythingOfType("float64"), mock.AnythingOfType("string")).
		Return(nil)
}

func (h *harness) primeExtraction() {
	h.extractor.On("Extract", mock.Anything, mock.AnythingOfType("extract.Content")).
		Return(extractedRecord(), nil)
	h.records.On("Replace", mock.Anything, mock.AnythingOfType("*models.PriceChangeRecord")).
		Return(nil)
}

func (h *harness) primeAnalysis(results []models.ImpactResult) {
	h.impact.On("Analyze", mock.Anything, mock.AnythingOfType("uint"), mock.Anything,
		(*impact.DemandOverride)(nil)).Return(results, nil)
}

// primeFullPipeline is the whole happy path behind message persistence
func (h *harness) primeFullPipeline() {
	h.primeTrusted()
	h.primeClassified()
	h.primeStatuses(models.MessageStatusExtracting, models.MessageStatusExtracted,
		models.MessageStatusAnalyzing, models.MessageStatusAnalyzed)
	h.primeExtraction()
	h.primeAnalysis([]models.ImpactResult{{ProductID: "RM-100", Status: models.ImpactStatusSuccess}})
}

func TestPoll_IngestsAndAnalyzes(t *testing.T) {
	h := newHarness()
	h.mailboxes.On("GetByID", mock.Anything, pollMailboxID).
		Return(&models.Mailbox{ID: pollMailboxID, Address: feedAddress, Enabled: true}, nil)
	h.cursors.On("GetOrCreate", mock.Anything, pollMailboxID).
		Return(&models.SyncCursor{MailboxID: pollMailboxID}, nil)
	h.feed.On("Fetch", mock.Anything, feedAddress, (*string)(nil), mock.Anything).
		Return(&mailfeed.Batch{Messages: []mailfeed.RemoteMessage{remote("prov-1")}, NextToken: "tok-2"}, nil)

	h.messages.On("GetByProviderID", mock.Anything, pollMailboxID, "prov-1").
		Return(nil, repository.ErrNotFound)
	h.messages.On("Create", mock.Anything, mock.AnythingOfType("*models.Message")).
		Run(func(args mock.Arguments) {
			msg := args.Get(1).(*models.Message)
			msg.ID = 101
			h.created = append(h.created, msg)
		}).Return(nil)

	h.trust.On("Verify", mock.Anything, "quotes@meridian-polymers.example").
		Return(trustedVerdict(), nil)
	h.messages.On("RecordTrust", mock.Anything, uint(101),
		models.TrustMatchExact, "V-1001", "Meridian Polymers").Return(nil)
	h.messages.On("RecordClassification", mock.Anything, uint(101),
		true, 0.93, "explicit price increase with amounts").Return(nil)
	h.primeStatuses(models.MessageStatusExtracting, models.MessageStatusExtracted,
		models.MessageStatusAnalyzing, models.MessageStatusAnalyzed)

	h.extractor.On("Extract", mock.Anything, mock.MatchedBy(func(c extract.Content) bool {
		return c.Subject == "Price increase notice" &&
			c.SenderEmail == "quotes@meridian-polymers.example"
	})).Return(extractedRecord(), nil)
	h.records.On("Replace", mock.Anything, mock.MatchedBy(func(r *models.PriceChangeRecord) bool {
		return r.MessageID == 101
	})).Return(nil)
	h.impact.On("Analyze", mock.Anything, uint(101), mock.Anything, (*impact.DemandOverride)(nil)).
		Return([]models.ImpactResult{{ProductID: "RM-100", Status: models.ImpactStatusSuccess}}, nil)
	h.cursors.On("AdvanceToken", mock.Anything, pollMailboxID, "tok-2").Return(nil)

	stats, err := h.coord.Poll(context.Background(), pollMailboxID)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Fetched)
	assert.Equal(t, 1, stats.Ingested)
	assert.Equal(t, 0, stats.Duplicates)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, feedAddress, stats.Mailbox)

	require.Len(t, h.created, 1)
	assert.Equal(t, models.MessageSourceFeed, h.created[0].Source)
	assert.Equal(t, models.MessageStatusReceived, h.created[0].Status)
	assert.Equal(t, pollMailboxID, h.created[0].MailboxID)

	analyzed := h.notifier.ByKind(mocks.NotificationAnalyzed)
	require.Len(t, analyzed, 1)
	assert.Equal(t, uint(101), analyzed[0].MessageID)
	assert.Len(t, analyzed[0].Results, 1)

	h.messages.AssertExpectations(t)
	h.cursors.AssertExpectations(t)
}

func TestPoll_ResumesFromStoredToken(t *testing.T) {
	h := newHarness()
	token := "tok-41"
	h.mailboxes.On("GetByID", mock.Anything, pollMailboxID).
		Return(&models.Mailbox{ID: pollMailboxID, Address: feedAddress, Enabled: true}, nil)
	h.cursors.On("GetOrCreate", mock.Anything, pollMailboxID).
		Return(&models.SyncCursor{MailboxID: pollMailboxID, ContinuationToken: &token}, nil)
	h.feed.On("Fetch", mock.Anything, feedAddress, &token, mock.Anything).
		Return(&mailfeed.Batch{NextToken: "tok-42"}, nil)
	h.cursors.On("AdvanceToken", mock.Anything, pollMailboxID, "tok-42").Return(nil)

	stats, err := h.coord.Poll(context.Background(), pollMailboxID)

	require.NoError(t, err)
	assert.Equal(t, 0, stats.Fetched)
	h.feed.AssertExpectations(t)
	h.cursors.AssertExpectations(t)
}

func TestPoll_MailboxDisabled(t *testing.T) {
	h := newHarness()
	h.mailboxes.On("GetByID", mock.Anything, pollMailboxID).
		Return(&models.Mailbox{ID: pollMailboxID, Address: feedAddress, Enabled: false}, nil)

	_, err := h.coord.Poll(context.Background(), pollMailboxID)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Contains(t, err.Error(), "is disabled")
	h.feed.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPoll_MailboxMissing(t *testing.T) {
	h := newHarness()
	h.mailboxes.On("GetByID", mock.Anything, pollMailboxID).
		Return(nil, repository.ErrNotFound)

	_, err := h.coord.Poll(context.Background(), pollMailboxID)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load mailbox 7")
}

func TestPoll_CursorLoadFailure(t *testing.T) {
	h := newHarness()
	h.mailboxes.On("GetByID", mock.Anything, pollMailboxID).
		Return(&models.Mailbox{ID: pollMailboxID, Address: feedAddress, Enabled: true}, nil)
	h.cursors.On("GetOrCreate", mock.Anything, pollMailboxID).
		Return(nil, errors.New("database is locked"))

	_, err := h.coord.Poll(context.Background(), pollMailboxID)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load sync cursor")
}

func TestPoll_SkipsAlreadyIngested(t *testing.T) {
	h := newHarness()
	h.primePoll("tok-2", remote("prov-1"))
	h.messages.On("GetByProviderID", mock.Anything, pollMailboxID, "prov-1").
		Return(&models.Message{ID: 90, ProviderMessageID: "prov-1"}, nil)
	h.cursors.On("AdvanceToken", mock.Anything, pollMailboxID, "tok-2").Return(nil)

	stats, err := h.coord.Poll(context.Background(), pollMailboxID)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 0, stats.Ingested)
	h.messages.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	h.trust.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
	// Re-delivered duplicates still complete the batch, so the token moves
	h.cursors.AssertExpectations(t)
}

func TestPoll_InsertRaceCountsDuplicate(t *testing.T) {
	h := newHarness()
	h.primePoll("tok-2", remote("prov-1"))
	h.messages.On("GetByProviderID", mock.Anything, pollMailboxID, "prov-1").
		Return(nil, repository.ErrNotFound)
	h.messages.On("Create", mock.Anything, mock.AnythingOfType("*models.Message")).
		Return(repository.ErrDuplicateEntry)
	h.cursors.On("AdvanceToken", mock.Anything, pollMailboxID, "tok-2").Return(nil)

	stats, err := h.coord.Poll(context.Background(), pollMailboxID)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 0, stats.Failed)
	h.trust.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
}

func TestPoll_OutgoingKeptButNeverClassified(t *testing.T) {
	h := newHarness()
	outgoing := remote("prov-out")
	outgoing.IsOutgoing = true
	h.primePoll("tok-2", outgoing)
	h.primeInsert()
	h.primeStatuses(models.MessageStatusIgnored)
	h.cursors.On("AdvanceToken", mock.Anything, pollMailboxID, "tok-2").Return(nil)

	stats, err := h.coord.Poll(context.Background(), pollMailboxID)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Ingested)
	assert.Equal(t, 0, stats.Failed)
	h.trust.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
	assert.Empty(t, h.notifier.Notifications)
	h.messages.AssertCalled(t, "UpdateStatus", mock.Anything, uint(101), models.MessageStatusIgnored)
}

func TestPoll_EmptyBatchLeavesTokenAlone(t *testing.T) {
	h := newHarness()
	h.primePoll("")

	stats, err := h.coord.Poll(context.Background(), pollMailboxID)
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Fetched)
	h.cursors.AssertNotCalled(t, "AdvanceToken", mock.Anything, mock.Anything, mock.Anything)
}

func TestPoll_FetchFailureLeavesToken(t *testing.T) {
	h := newHarness()
	h.mailboxes.On("GetByID", mock.Anything, pollMailboxID).
		Return(&models.Mailbox{ID: pollMailboxID, Address: feedAddress, Enabled: true}, nil)
	h.cursors.On("GetOrCreate", mock.Anything, pollMailboxID).
		Return(&models.SyncCursor{MailboxID: pollMailboxID}, nil)
	h.feed.On("Fetch", mock.Anything, feedAddress, mock.Anything, mock.Anything).
		Return(nil, errors.New("change feed timeout"))

	_, err := h.coord.Poll(context.Background(), pollMailboxID)

	require.Error(t, err)
	h.cursors.AssertNotCalled(t, "AdvanceToken", mock.Anything, mock.Anything, mock.Anything)
}

func TestPoll_TokenAdvancesPastRecordedFailures(t *testing.T) {
	h := newHarness()
	h.primePoll("tok-2", remote("prov-1"), remote("prov-2"))
	h.primeInsert()

	// First message dies at the trust write, second sails through.
	h.trust.On("Verify", mock.Anything, mock.AnythingOfType("string")).
		Return(trustedVerdict(), nil)
	h.messages.On("RecordTrust", mock.Anything, uint(101),
		models.TrustMatchExact, "V-1001", "Meridian Polymers").
		Return(errors.New("database is locked"))
	h.messages.On("RecordProcessingError", mock.Anything, uint(101),
		models.MessageStatusFailed, mock.AnythingOfType("string")).Return(nil)

	h.messages.On("RecordTrust", mock.Anything, uint(102),
		models.TrustMatchExact, "V-1001", "Meridian Polymers").Return(nil)
	h.primeClassified()
	h.primeStatuses(models.MessageStatusExtracting, models.MessageStatusExtracted,
		models.MessageStatusAnalyzing, models.MessageStatusAnalyzed)
	h.primeExtraction()
	h.primeAnalysis([]models.ImpactResult{{ProductID: "RM-100", Status: models.ImpactStatusSuccess}})
	h.cursors.On("AdvanceToken", mock.Anything, pollMailboxID, "tok-2").Return(nil)

	stats, err := h.coord.Poll(context.Background(), pollMailboxID)
	require.NoError(t, err)

	// The failure is on record, so the batch counts as handed off.
	assert.Equal(t, 2, stats.Ingested)
	assert.Equal(t, 1, stats.Failed)
	h.cursors.AssertExpectations(t)
	h.messages.AssertCalled(t, "RecordProcessingError", mock.Anything, uint(101),
		models.MessageStatusFailed, mock.AnythingOfType("string"))
}

func TestPoll_AdvanceTokenFailure(t *testing.T) {
	h := newHarness()
	h.primePoll("tok-2")
	h.cursors.On("AdvanceToken", mock.Anything, pollMailboxID, "tok-2").
		Return(errors.New("database is locked"))

	stats, err := h.coord.Poll(context.Background(), pollMailboxID)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to advance sync cursor")
	// Stats still describe the work that was done
	require.NotNil(t, stats)
	assert.Equal(t, 0, stats.Fetched)
}

func TestPoll_ConcurrentPollRejected(t *testing.T) {
	h := newHarness()
	entered := make(chan struct{})
	release := make(chan struct{})
	h.mailboxes.On("GetByID", mock.Anything, pollMailboxID).
		Return(&models.Mailbox{ID: pollMailboxID, Address: feedAddress, Enabled: true}, nil)
	h.cursors.On("GetOrCreate", mock.Anything, pollMailboxID).
		Return(&models.SyncCursor{MailboxID: pollMailboxID}, nil)
	h.feed.On("Fetch", mock.Anything, feedAddress, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			close(entered)
			<-release
		}).Return(&mailfeed.Batch{}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := h.coord.Poll(context.Background(), pollMailboxID)
		assert.NoError(t, err)
	}()

	<-entered
	_, err := h.coord.Poll(context.Background(), pollMailboxID)
	assert.ErrorIs(t, err, apperrors.ErrSyncInProgress)

	close(release)
	<-done
}
