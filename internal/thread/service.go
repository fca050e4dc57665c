package thread

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/repository"
)

// Service exposes conversation-level aggregation
type Service interface {
	// Summary loads every message of the conversation plus their extracted
	// records and returns the merged view. Returns repository.ErrNotFound
	// when the conversation has no messages.
	Summary(ctx context.Context, conversationID string) (*View, error)
}

// Config holds dependencies for creating a thread Service
type Config struct {
	MessageRepo repository.MessageRepository
	RecordRepo  repository.PriceChangeRepository
	Logger      *slog.Logger
}

// service implements Service
type service struct {
	messages repository.MessageRepository
	records  repository.PriceChangeRepository
	logger   *slog.Logger
}

// NewService creates a new thread aggregation service
func NewService(config Config) Service {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &service{
		messages: config.MessageRepo,
		records:  config.RecordRepo,
		logger:   logger,
	}
}

// Summary aggregates one conversation
func (s *service) Summary(ctx context.Context, conversationID string) (*View, error) {
	messages, err := s.messages.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", conversationID, err)
	}
	if len(messages) == 0 {
		return nil, repository.ErrNotFound
	}

	ids := make([]uint, 0, len(messages))
	for _, m := range messages {
		if !m.IsOutgoing {
			ids = append(ids, m.ID)
		}
	}
	records, err := s.records.ListByMessageIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load records for conversation %s: %w", conversationID, err)
	}

	view := Aggregate(conversationID, messages, records)
	s.logger.Debug("aggregated conversation",
		slog.String("conversation_id", conversationID),
		slog.Int("messages", view.MessageCount),
		slog.Int("records", view.RecordCount),
		slog.Int("products", len(view.Products)))
	return view, nil
}
