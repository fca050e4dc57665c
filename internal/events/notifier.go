package events

import (
	"time"

	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/models"
)

// PipelineNotifier adapts the hub to the intake pipeline's notification
// hooks. Every method enqueues without blocking.
type PipelineNotifier struct {
	hub *Hub
}

// NewPipelineNotifier creates a notifier backed by the given hub
func NewPipelineNotifier(hub *Hub) *PipelineNotifier {
	return &PipelineNotifier{hub: hub}
}

// MessageFlagged announces a message parked for human review
func (n *PipelineNotifier) MessageFlagged(msg *models.Message) {
	payload := messagePayload(msg)
	payload.Reason = "sender not matched in vendor directory"
	n.hub.BroadcastEvent(msg.MailboxID, EventTypeMessageFlagged, payload)
}

// MessageIgnored announces a message the classifier dropped
func (n *PipelineNotifier) MessageIgnored(msg *models.Message) {
	payload := messagePayload(msg)
	payload.Reason = msg.ClassifierNotes
	n.hub.BroadcastEvent(msg.MailboxID, EventTypeMessageIgnored, payload)
}

// AnalysisCompleted announces a finished impact analysis run
func (n *PipelineNotifier) AnalysisCompleted(msg *models.Message, results []models.ImpactResult) {
	payload := &AnalysisEventPayload{
		MessageID:      msg.ID,
		ProductCount:   len(results),
		AutoApprovable: len(results) > 0,
	}

	for i := range results {
		if results[i].Failed() {
			payload.FailedCount++
		}
		if !results[i].CanAutoApprove {
			payload.AutoApprovable = false
		}
		if payload.WorstRiskTier == "" {
			payload.WorstRiskTier = results[i].OverallRiskTier
		} else {
			payload.WorstRiskTier = models.WorseRiskTier(payload.WorstRiskTier, results[i].OverallRiskTier)
		}
	}

	n.hub.BroadcastEvent(msg.MailboxID, EventTypeAnalysisCompleted, payload)
}

func messagePayload(msg *models.Message) *MessageEventPayload {
	return &MessageEventPayload{
		ID:          msg.ID,
		SenderEmail: msg.SenderEmail,
		SenderName:  msg.SenderName,
		Subject:     msg.Subject,
		Status:      msg.Status,
		TrustMatch:  msg.TrustMatch,
		ReceivedAt:  msg.ReceivedAt.Format(time.RFC3339),
	}
}
