// Package events pushes pipeline notifications to connected dashboard
// clients over WebSocket. Clients subscribe per mailbox and receive an
// event whenever a message is parked for review, dropped by the
// classifier, or finishes impact analysis.
package events

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	EventTypeSubscribe         EventType = "subscribe"
	EventTypeUnsubscribe       EventType = "unsubscribe"
	EventTypeMessageFlagged    EventType = "message_flagged"
	EventTypeMessageIgnored    EventType = "message_ignored"
	EventTypeAnalysisCompleted EventType = "analysis_completed"
	EventTypeError             EventType = "error"
)

// Envelope represents a WebSocket frame in either direction
type Envelope struct {
	Type      EventType   `json:"type"`
	MailboxID uint        `json:"mailbox_id,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// MessageEventPayload describes the message a flagged or ignored event
// refers to
type MessageEventPayload struct {
	ID          uint   `json:"id"`
	SenderEmail string `json:"sender_email"`
	SenderName  string `json:"sender_name,omitempty"`
	Subject     string `json:"subject,omitempty"`
	Status      string `json:"status"`
	TrustMatch  string `json:"trust_match,omitempty"`
	Reason      string `json:"reason,omitempty"`
	ReceivedAt  string `json:"received_at"`
}

// AnalysisEventPayload summarizes a finished impact analysis run
type AnalysisEventPayload struct {
	MessageID      uint   `json:"message_id"`
	ProductCount   int    `json:"product_count"`
	FailedCount    int    `json:"failed_count"`
	WorstRiskTier  string `json:"worst_risk_tier"`
	AutoApprovable bool   `json:"auto_approvable"`
}

// Hub maintains the set of active clients and broadcasts events
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Mailbox subscriptions: mailboxID -> set of clients
	subscriptions map[uint]map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Subscribe to mailbox
	subscribe chan *subscriptionRequest

	// Unsubscribe from mailbox
	unsubscribeMailbox chan *subscriptionRequest

	// Broadcast to mailbox subscribers
	broadcast chan *broadcastEvent

	// Mutex for thread-safe operations
	mu sync.RWMutex

	// Logger
	logger *slog.Logger
}

type subscriptionRequest struct {
	client    *Client
	mailboxID uint
}

type broadcastEvent struct {
	mailboxID uint
	frame     []byte
}

// NewHub creates a new Hub instance
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:            make(map[*Client]bool),
		subscriptions:      make(map[uint]map[*Client]bool),
		register:           make(chan *Client),
		unregister:         make(chan *Client),
		subscribe:          make(chan *subscriptionRequest),
		unsubscribeMailbox: make(chan *subscriptionRequest),
		broadcast:          make(chan *broadcastEvent, 256),
		logger:             logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Debug("client registered")
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				// Remove from all subscriptions
				for mailboxID, subscribers := range h.subscriptions {
					delete(subscribers, client)
					if len(subscribers) == 0 {
						delete(h.subscriptions, mailboxID)
					}
				}
			}
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Debug("client unregistered")
			}

		case req := <-h.subscribe:
			h.mu.Lock()
			if h.subscriptions[req.mailboxID] == nil {
				h.subscriptions[req.mailboxID] = make(map[*Client]bool)
			}
			h.subscriptions[req.mailboxID][req.client] = true
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Debug("client subscribed to mailbox", slog.Uint64("mailbox_id", uint64(req.mailboxID)))
			}

		case req := <-h.unsubscribeMailbox:
			h.mu.Lock()
			if subscribers, ok := h.subscriptions[req.mailboxID]; ok {
				delete(subscribers, req.client)
				if len(subscribers) == 0 {
					delete(h.subscriptions, req.mailboxID)
				}
			}
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Debug("client unsubscribed from mailbox", slog.Uint64("mailbox_id", uint64(req.mailboxID)))
			}

		case ev := <-h.broadcast:
			h.mu.RLock()
			subscribers := h.subscriptions[ev.mailboxID]
			for client := range subscribers {
				select {
				case client.send <- ev.frame:
				default:
					// Client buffer full, skip
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe subscribes a client to a mailbox
func (h *Hub) Subscribe(client *Client, mailboxID uint) {
	h.subscribe <- &subscriptionRequest{client: client, mailboxID: mailboxID}
}

// Unsubscribe unsubscribes a client from a mailbox
func (h *Hub) Unsubscribe(client *Client, mailboxID uint) {
	h.unsubscribeMailbox <- &subscriptionRequest{client: client, mailboxID: mailboxID}
}

// BroadcastEvent sends an event to every subscriber of a mailbox. The
// enqueue never blocks; when the hub buffer is full the event is
// dropped, since dashboard notifications must not stall the pipeline.
func (h *Hub) BroadcastEvent(mailboxID uint, eventType EventType, payload interface{}) {
	frame, err := json.Marshal(Envelope{
		Type:      eventType,
		MailboxID: mailboxID,
		Payload:   payload,
	})
	if err != nil {
		if h.logger != nil {
			h.logger.Error("failed to marshal broadcast event", slog.Any("error", err))
		}
		return
	}

	select {
	case h.broadcast <- &broadcastEvent{mailboxID: mailboxID, frame: frame}:
	default:
		if h.logger != nil {
			h.logger.Warn("event buffer full, dropping event",
				slog.String("event_type", string(eventType)),
				slog.Uint64("mailbox_id", uint64(mailboxID)))
		}
	}
}
