package mocks

import (
	"sync"

	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/models"
)

// NotificationRecord records one notification emitted by the pipeline
type NotificationRecord struct {
	Kind      string
	MessageID uint
	MailboxID uint
	Results   []models.ImpactResult
}

// Notification kinds recorded by RecordingNotifier
const (
	NotificationFlagged  = "flagged"
	NotificationIgnored  = "ignored"
	NotificationAnalyzed = "analyzed"
)

// RecordingNotifier implements ingest.Notifier and records every call so
// tests can assert which dashboard events the pipeline would have pushed.
// Safe for concurrent use.
type RecordingNotifier struct {
	mu            sync.Mutex
	Notifications []NotificationRecord
}

// NewRecordingNotifier creates a new RecordingNotifier instance
func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{Notifications: make([]NotificationRecord, 0)}
}

// MessageFlagged records a flagged-for-review notification
func (n *RecordingNotifier) MessageFlagged(msg *models.Message) {
	n.record(NotificationRecord{Kind: NotificationFlagged, MessageID: msg.ID, MailboxID: msg.MailboxID})
}

// MessageIgnored records a classifier-dropped notification
func (n *RecordingNotifier) MessageIgnored(msg *models.Message) {
	n.record(NotificationRecord{Kind: NotificationIgnored, MessageID: msg.ID, MailboxID: msg.MailboxID})
}

// AnalysisCompleted records a finished-analysis notification
func (n *RecordingNotifier) AnalysisCompleted(msg *models.Message, results []models.ImpactResult) {
	n.record(NotificationRecord{Kind: NotificationAnalyzed, MessageID: msg.ID, MailboxID: msg.MailboxID, Results: results})
}

// ByKind returns all recorded notifications of one kind
func (n *RecordingNotifier) ByKind(kind string) []NotificationRecord {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []NotificationRecord
	for _, rec := range n.Notifications {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

// Clear discards all recorded notifications
func (n *RecordingNotifier) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Notifications = n.Notifications[:0]
}

func (n *RecordingNotifier) record(rec NotificationRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Notifications = append(n.Notifications, rec)
}
