package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/aiplanet-ds/wci-emailagent-sub000/internal/errors"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/mailfeed"
	"github.com/aiplanet-ds/wci-emailagent-sub000/internal/repository"
)

// SchedulerConfig holds configuration for the background mailbox poller
type SchedulerConfig struct {
	// Interval is how often every enabled mailbox is polled
	Interval time.Duration
	// Stagger is the pause between mailboxes within one cycle, spreading
	// feed load instead of bursting all mailboxes at once
	Stagger time.Duration
}

// Scheduler polls every enabled mailbox on a fixed interval
type Scheduler struct {
	coordinator Coordinator
	mailboxes   repository.MailboxRepository
	config      SchedulerConfig
	logger      *slog.Logger
	stopCh      chan struct{}
	wg          sync.WaitGroup
	running     bool
	mu          sync.Mutex
}

// NewScheduler creates a new mailbox poll scheduler
func NewScheduler(
	coordinator Coordinator,
	mailboxes repository.MailboxRepository,
	config SchedulerConfig,
	logger *slog.Logger,
) *Scheduler {
	// Set defaults
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	if config.Stagger <= 0 {
		config.Stagger = 2 * time.Second
	}

	return &Scheduler{
		coordinator: coordinator,
		mailboxes:   mailboxes,
		config:      config,
		logger:      logger,
		stopCh:      make(chan struct{}),
	}
}

// Start begins the background polling job
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.pollLoop()

	s.logger.Info("mailbox poll scheduler started",
		slog.Duration("interval", s.config.Interval),
		slog.Duration("stagger", s.config.Stagger))
}

// Stop gracefully stops the background polling job
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("mailbox poll scheduler stopped")
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// pollLoop is the main loop that periodically polls all mailboxes
func (s *Scheduler) pollLoop() {
	defer s.wg.Done()

	// Run immediately on start
	s.pollCycle()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.pollCycle()
		}
	}
}

// pollCycle polls every enabled mailbox once, staggered
func (s *Scheduler) pollCycle() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Interval)
	defer cancel()

	boxes, err := s.mailboxes.List(ctx, true)
	if err != nil {
		s.logger.Error("failed to list mailboxes for polling",
			slog.Any("error", err))
		return
	}
	if len(boxes) == 0 {
		s.logger.Debug("no enabled mailboxes to poll")
		return
	}

	for i := range boxes {
		if i > 0 {
			select {
			case <-s.stopCh:
				return
			case <-time.After(s.config.Stagger):
			}
		}
		s.pollMailbox(ctx, boxes[i].ID, boxes[i].Address)
	}
}

// pollMailbox polls a single mailbox, logging instead of failing the
// cycle when one mailbox has trouble
func (s *Scheduler) pollMailbox(ctx context.Context, mailboxID uint, address string) {
	stats, err := s.coordinator.Poll(ctx, mailboxID)
	switch {
	case errors.Is(err, apperrors.ErrSyncInProgress):
		s.logger.Debug("skipping mailbox, sync already running",
			slog.String("mailbox", address))
	case errors.Is(err, mailfeed.ErrAuthFailed):
		s.logger.Warn("feed authentication failed, skipping mailbox for this cycle",
			slog.String("mailbox", address),
			slog.Any("error", err))
	case err != nil:
		s.logger.Error("mailbox poll failed",
			slog.String("mailbox", address),
			slog.Any("error", err))
	default:
		s.logger.Debug("mailbox polled",
			slog.String("mailbox", address),
			slog.Int("fetched", stats.Fetched),
			slog.Int("ingested", stats.Ingested),
			slog.Int("failed", stats.Failed))
	}
}
