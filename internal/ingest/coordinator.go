// Package ingest drives the intake pipeline. The coordinator polls each
// mailbox's change feed, persists new messages exactly once, gates them
// on sender trust, classifies and extracts confirmed price changes, and
// hands them to impact analysis. The continuation token only advances
// after a batch is fully handed off, so a crash mid-batch re-delivers
// rather than drops.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/classify"
	apperrors "github.com/aiplanet-ds/wci-emailagent-sub000/internal/errors"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/extract"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/impact"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/logger"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/mailfeed"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/models"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/repository"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/thread"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/trust"
)

// Notifier receives pipeline milestones for fan-out to connected
// dashboards. Implementations must not block.
type Notifier interface {
	MessageFlagged(message *models.Message)
	MessageIgnored(message *models.Message)
	AnalysisCompleted(message *models.Message, results []models.ImpactResult)
}

// PollStats summarizes one poll cycle for a mailbox
type PollStats struct {
	MailboxID  uint   `json:"mailbox_id"`
	Mailbox    string `json:"mailbox"`
	Fetched    int    `json:"fetched"`
	Ingested   int    `json:"ingested"`
	Duplicates int    `json:"duplicates"`
	Failed     int    `json:"failed"`
}

// Coordinator runs the intake pipeline
type Coordinator interface {
	// Poll runs one sync cycle for the mailbox. Concurrent polls of the
	// same mailbox return ErrSyncInProgress.
	Poll(ctx context.Context, mailboxID uint) (*PollStats, error)

	// Process runs the pipeline from the trust gate onward for an
	// already persisted message. The SMTP intake gateway enters here.
	Process(ctx context.Context, messageID uint) error

	// ProcessApproved re-enters the pipeline at classification for a
	// message a reviewer approved out of pending_review.
	ProcessApproved(ctx context.Context, messageID uint, approver string) error
}

// Config holds dependencies for creating a Coordinator
type Config struct {
	Mailboxes repository.MailboxRepository
	Cursors   repository.SyncCursorRepository
	Messages  repository.MessageRepository
	Records   repository.PriceChangeRepository
	Feed      mailfeed.Client
	Trust     trust.Verifier
	Gate      *classify.Gate
	Extractor extract.Extractor
	Impact    impact.Service
	Threads   thread.Service

	// Notifier is optional; nil disables event fan-out.
	Notifier Notifier

	// InitialWindow bounds the first sync of a mailbox that has no
	// continuation token yet.
	InitialWindow time.Duration

	Logger *slog.Logger
}

// coordinator implements Coordinator
type coordinator struct {
	mailboxes repository.MailboxRepository
	cursors   repository.SyncCursorRepository
	messages  repository.MessageRepository
	records   repository.PriceChangeRepository
	feed      mailfeed.Client
	trust     trust.Verifier
	gate      *classify.Gate
	extractor extract.Extractor
	impact    impact.Service
	threads   thread.Service
	notifier  Notifier

	initialWindow time.Duration
	logger        *slog.Logger
	pipeline      *logger.PipelineLogger

	// one mutex per mailbox id, created on first use
	locks sync.Map
}

// NewCoordinator creates a new intake pipeline coordinator
func NewCoordinator(config Config) Coordinator {
	if config.InitialWindow <= 0 {
		config.InitialWindow = 14 * 24 * time.Hour
	}
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}
	return &coordinator{
		mailboxes:     config.Mailboxes,
		cursors:       config.Cursors,
		messages:      config.Messages,
		records:       config.Records,
		feed:          config.Feed,
		trust:         config.Trust,
		gate:          config.Gate,
		extractor:     config.Extractor,
		impact:        config.Impact,
		threads:       config.Threads,
		notifier:      config.Notifier,
		initialWindow: config.InitialWindow,
		logger:        log,
		pipeline:      logger.NewPipelineLogger(log),
	}
}

// Poll runs one sync cycle for the mailbox
func (c *coordinator) Poll(ctx context.Context, mailboxID uint) (*PollStats, error) {
	mailbox, err := c.mailboxes.GetByID(ctx, mailboxID)
	if err != nil {
		return nil, fmt.Errorf("failed to load mailbox %d: %w", mailboxID, err)
	}
	if !mailbox.Enabled {
		return nil, fmt.Errorf("mailbox %s is disabled: %w", mailbox.Address, apperrors.ErrInvalidInput)
	}

	lock := c.mailboxLock(mailboxID)
	if !lock.TryLock() {
		return nil, apperrors.ErrSyncInProgress
	}
	defer lock.Unlock()

	cursor, err := c.cursors.GetOrCreate(ctx, mailboxID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync cursor: %w", err)
	}

	batch, err := c.feed.Fetch(ctx, mailbox.Address, cursor.ContinuationToken, c.initialWindow)
	if err != nil {
		// Token untouched: the next poll retries the same position.
		return nil, err
	}

	stats := &PollStats{MailboxID: mailboxID, Mailbox: mailbox.Address, Fetched: len(batch.Messages)}
	for i := range batch.Messages {
		c.handleRemote(ctx, mailbox, &batch.Messages[i], stats)
	}

	// The batch is handed off: every message is persisted and either
	// processed or has its failure recorded. Only now may the token move.
	if batch.NextToken != "" {
		if err := c.cursors.AdvanceToken(ctx, mailboxID, batch.NextToken); err != nil {
			return stats, fmt.Errorf("failed to advance sync cursor: %w", err)
		}
	}

	c.pipeline.SyncCompleted(mailbox.Address, stats.Fetched, stats.Ingested, stats.Failed)
	return stats, nil
}

// handleRemote persists one feed message and runs it through the
// pipeline. Failures are recorded on the message and counted; they never
// abort the rest of the batch.
func (c *coordinator) handleRemote(ctx context.Context, mailbox *models.Mailbox, remote *mailfeed.RemoteMessage, stats *PollStats) {
	existing, err := c.messages.GetByProviderID(ctx, mailbox.ID, remote.ProviderMessageID)
	if err == nil && existing != nil {
		// At-least-once re-delivery of an already ingested message.
		stats.Duplicates++
		return
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		stats.Failed++
		c.logger.Error("failed to check for existing message",
			slog.String("provider_message_id", remote.ProviderMessageID),
			slog.Any("error", err))
		return
	}

	msg := &models.Message{
		MailboxID:         mailbox.ID,
		ProviderMessageID: remote.ProviderMessageID,
		ConversationID:    remote.ConversationID,
		SenderEmail:       remote.SenderEmail,
		SenderName:        remote.SenderName,
		Subject:           remote.Subject,
		Snippet:           remote.Snippet,
		BodyText:          remote.BodyText,
		BodyHTML:          remote.BodyHTML,
		Source:            models.MessageSourceFeed,
		IsOutgoing:        remote.IsOutgoing,
		IsReply:           remote.IsReply,
		IsForward:         remote.IsForward,
		HasAttachments:    remote.HasAttachments,
		SentAt:            remote.SentAt,
		ReceivedAt:        remote.ReceivedAt,
		Status:            models.MessageStatusReceived,
	}
	if err := c.messages.Create(ctx, msg); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			stats.Duplicates++
			return
		}
		stats.Failed++
		c.logger.Error("failed to persist message",
			slog.String("provider_message_id", remote.ProviderMessageID),
			slog.Any("error", err))
		return
	}
	stats.Ingested++
	c.pipeline.MessageIngested(msg.ID, mailbox.Address, msg.SenderEmail, msg.Source)

	if msg.IsOutgoing {
		// Our own replies are kept for thread context but never classified.
		if err := c.messages.UpdateStatus(ctx, msg.ID, models.MessageStatusIgnored); err != nil {
			c.logger.Warn("failed to mark outgoing message ignored",
				slog.Uint64("message_id", uint64(msg.ID)),
				slog.Any("error", err))
		}
		return
	}

	if err := c.runPipeline(ctx, msg); err != nil {
		stats.Failed++
	}
}

// Process runs the pipeline from the trust gate onward
func (c *coordinator) Process(ctx context.Context, messageID uint) error {
	msg, err := c.messages.GetByID(ctx, messageID)
	if err != nil {
		return fmt.Errorf("failed to load message %d: %w", messageID, err)
	}
	return c.runPipeline(ctx, msg)
}

// ProcessApproved re-enters the pipeline at classification after a
// reviewer approved a flagged message
func (c *coordinator) ProcessApproved(ctx context.Context, messageID uint, approver string) error {
	msg, err := c.messages.GetByID(ctx, messageID)
	if err != nil {
		return fmt.Errorf("failed to load message %d: %w", messageID, err)
	}
	if !msg.AwaitingReview() {
		return apperrors.NewInvalidMessageStatusError(messageID, msg.Status,
			models.MessageStatusPendingReview, "only messages awaiting review can be approved")
	}
	if err := c.messages.RecordReview(ctx, messageID, approver, models.MessageStatusReceived); err != nil {
		return fmt.Errorf("failed to record approval: %w", err)
	}
	msg.Status = models.MessageStatusReceived
	return c.classifyOnward(ctx, msg)
}

// runPipeline is the trust gate plus everything behind it
func (c *coordinator) runPipeline(ctx context.Context, msg *models.Message) error {
	verdict, err := c.trust.Verify(ctx, msg.SenderEmail)
	if err != nil {
		// An unbuildable trust cache yields untrusted verdicts; the
		// message parks for review instead of failing.
		c.logger.Warn("trust verification unavailable, flagging message for review",
			slog.Uint64("message_id", uint64(msg.ID)),
			slog.Any("error", err))
	}
	if err := c.messages.RecordTrust(ctx, msg.ID, verdict.MatchKind, verdict.VendorID, verdict.VendorName); err != nil {
		return c.failMessage(ctx, msg, "trust", err)
	}

	if !verdict.Trusted {
		if err := c.messages.UpdateStatus(ctx, msg.ID, models.MessageStatusPendingReview); err != nil {
			return c.failMessage(ctx, msg, "trust", err)
		}
		msg.Status = models.MessageStatusPendingReview
		c.pipeline.MessageFlagged(msg.ID, msg.SenderEmail, "sender not in vendor directory")
		if c.notifier != nil {
			c.notifier.MessageFlagged(msg)
		}
		return nil
	}

	msg.TrustMatch = verdict.MatchKind
	msg.VendorID = verdict.VendorID
	msg.VendorName = verdict.VendorName
	return c.classifyOnward(ctx, msg)
}

// classifyOnward runs Stage B classification, extraction, and analysis
func (c *coordinator) classifyOnward(ctx context.Context, msg *models.Message) error {
	decision := c.gate.Decide(ctx, classify.Content{
		Subject:     msg.Subject,
		Body:        msg.BodyText,
		SenderEmail: msg.SenderEmail,
		SenderName:  msg.SenderName,
	})
	if err := c.messages.RecordClassification(ctx, msg.ID, decision.IsPriceChange, decision.Confidence, decision.Reasoning); err != nil {
		return c.failMessage(ctx, msg, "classify", err)
	}
	verdict := decision.IsPriceChange
	msg.IsPriceChange = &verdict
	msg.Confidence = decision.Confidence
	msg.ClassifierNotes = decision.Reasoning

	if !decision.IsPriceChange {
		if err := c.messages.UpdateStatus(ctx, msg.ID, models.MessageStatusIgnored); err != nil {
			return c.failMessage(ctx, msg, "classify", err)
		}
		msg.Status = models.MessageStatusIgnored
		c.pipeline.MessageIgnored(msg.ID, decision.Confidence)
		if c.notifier != nil {
			c.notifier.MessageIgnored(msg)
		}
		return nil
	}

	if err := c.messages.UpdateStatus(ctx, msg.ID, models.MessageStatusExtracting); err != nil {
		return c.failMessage(ctx, msg, "extract", err)
	}

	record, err := c.extractor.Extract(ctx, extract.Content{
		Subject:     msg.Subject,
		Body:        msg.BodyText,
		SenderEmail: msg.SenderEmail,
		SenderName:  msg.SenderName,
	})
	if err != nil {
		return c.failMessage(ctx, msg, "extract", err)
	}
	record.MessageID = msg.ID
	if err := c.records.Replace(ctx, record); err != nil {
		return c.failMessage(ctx, msg, "extract", err)
	}
	if err := c.messages.UpdateStatus(ctx, msg.ID, models.MessageStatusExtracted); err != nil {
		return c.failMessage(ctx, msg, "extract", err)
	}
	c.pipeline.ExtractionCompleted(msg.ID, len(record.Products), record.Partial)

	return c.analyze(ctx, msg, record)
}

// analyze hands the record (or the thread aggregate, for multi-message
// conversations) to impact analysis and records the outcome
func (c *coordinator) analyze(ctx context.Context, msg *models.Message, record *models.PriceChangeRecord) error {
	if err := c.messages.UpdateStatus(ctx, msg.ID, models.MessageStatusAnalyzing); err != nil {
		return c.failMessage(ctx, msg, "analyze", err)
	}

	input := record
	if strings.TrimSpace(msg.ConversationID) != "" && c.threads != nil {
		if view, err := c.threads.Summary(ctx, msg.ConversationID); err == nil && view.MessageCount > 1 {
			input = view.ToRecord(msg.ID)
		}
	}

	results, err := c.impact.Analyze(ctx, msg.ID, input, nil)
	if err != nil {
		if apperrors.IsReviewError(err) {
			// Validation verdict, not a failure: the message is analyzed
			// with zero results and the reason on record.
			if recErr := c.messages.RecordProcessingError(ctx, msg.ID, models.MessageStatusAnalyzed, err.Error()); recErr != nil {
				return c.failMessage(ctx, msg, "analyze", recErr)
			}
			msg.Status = models.MessageStatusAnalyzed
			c.pipeline.AnalysisCompleted(msg.ID, 0, 0)
			if c.notifier != nil {
				c.notifier.AnalysisCompleted(msg, nil)
			}
			return nil
		}
		return c.failMessage(ctx, msg, "analyze", err)
	}

	if err := c.messages.UpdateStatus(ctx, msg.ID, models.MessageStatusAnalyzed); err != nil {
		return c.failMessage(ctx, msg, "analyze", err)
	}
	msg.Status = models.MessageStatusAnalyzed

	failed := 0
	for i := range results {
		if results[i].Failed() {
			failed++
		}
	}
	c.pipeline.AnalysisCompleted(msg.ID, len(results), failed)
	if c.notifier != nil {
		c.notifier.AnalysisCompleted(msg, results)
	}
	return nil
}

// failMessage records a pipeline failure on the message and returns the
// error so the caller can count it
func (c *coordinator) failMessage(ctx context.Context, msg *models.Message, stage string, cause error) error {
	c.pipeline.PipelineError(msg.ID, stage, cause)
	if err := c.messages.RecordProcessingError(ctx, msg.ID, models.MessageStatusFailed, cause.Error()); err != nil {
		c.logger.Error("failed to record processing error",
			slog.Uint64("message_id", uint64(msg.ID)),
			slog.Any("error", err))
	}
	msg.Status = models.MessageStatusFailed
	return fmt.Errorf("%s stage for message %d: %w", stage, msg.ID, cause)
}

// mailboxLock returns the mutex serializing polls of one mailbox
func (c *coordinator) mailboxLock(mailboxID uint) *sync.Mutex {
	actual, _ := c.locks.LoadOrStore(mailboxID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}
