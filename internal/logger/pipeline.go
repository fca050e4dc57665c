package logger

import (
	"log/slog"
)

// snippetLimit caps how much of an email body ever reaches a log line.
const snippetLimit = 120

// PipelineLogger logs the lifecycle of messages moving through the intake
// pipeline. Bodies are never logged in full; only a bounded snippet.
type PipelineLogger struct {
	logger *slog.Logger
}

// NewPipelineLogger creates a PipelineLogger on top of an existing slog.Logger.
func NewPipelineLogger(logger *slog.Logger) *PipelineLogger {
	return &PipelineLogger{logger: logger}
}

// MessageIngested logs a newly persisted message.
func (p *PipelineLogger) MessageIngested(messageID uint, mailbox, sender, source string) {
	p.logger.Info("message ingested",
		slog.Uint64("message_id", uint64(messageID)),
		slog.String("mailbox", mailbox),
		slog.String("sender", sender),
		slog.String("source", source),
	)
}

// MessageFlagged logs a message parked for human review.
func (p *PipelineLogger) MessageFlagged(messageID uint, sender, reason string) {
	p.logger.Warn("message flagged for review",
		slog.Uint64("message_id", uint64(messageID)),
		slog.String("sender", sender),
		slog.String("reason", reason),
	)
}

// MessageIgnored logs a message the classifier rejected.
func (p *PipelineLogger) MessageIgnored(messageID uint, confidence float64) {
	p.logger.Info("message ignored",
		slog.Uint64("message_id", uint64(messageID)),
		slog.Float64("confidence", confidence),
	)
}

// ExtractionCompleted logs a finished extraction with its product count.
func (p *PipelineLogger) ExtractionCompleted(messageID uint, products int, partial bool) {
	p.logger.Info("extraction completed",
		slog.Uint64("message_id", uint64(messageID)),
		slog.Int("products", products),
		slog.Bool("partial", partial),
	)
}

// AnalysisCompleted logs a finished impact analysis run.
func (p *PipelineLogger) AnalysisCompleted(messageID uint, results, failed int) {
	p.logger.Info("analysis completed",
		slog.Uint64("message_id", uint64(messageID)),
		slog.Int("results", results),
		slog.Int("failed", failed),
	)
}

// PipelineError logs a per-message pipeline failure without aborting context.
func (p *PipelineLogger) PipelineError(messageID uint, stage string, err error) {
	p.logger.Error("pipeline stage failed",
		slog.Uint64("message_id", uint64(messageID)),
		slog.String("stage", stage),
		slog.String("error", err.Error()),
	)
}

// SyncCompleted logs one finished poll cycle for a mailbox.
func (p *PipelineLogger) SyncCompleted(mailbox string, fetched, processed, failed int) {
	p.logger.Info("sync completed",
		slog.String("mailbox", mailbox),
		slog.Int("fetched", fetched),
		slog.Int("processed", processed),
		slog.Int("failed", failed),
	)
}

// Snippet returns a log-safe prefix of an email body.
func Snippet(body string) string {
	if len(body) <= snippetLimit {
		return body
	}
	return body[:snippetLimit] + "..."
}
