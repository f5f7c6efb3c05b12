package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ananth-NQI/smsbook-backend/internal/models"
	"github.com/Ananth-NQI/smsbook-backend/internal/services"
)

// RetryBatchSize bounds one failed-message retry sweep
const RetryBatchSize = 100

// ConversationExpirer resets abandoned conversations
type ConversationExpirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// MessageRetrier resends failed outbound messages
type MessageRetrier interface {
	RetryFailed(ctx context.Context, limit int) (int, error)
}

// ReminderSender sends appointment reminders
type ReminderSender interface {
	SendDueReminders(ctx context.Context) (int, error)
}

// CampaignRunner advances scheduled and active campaigns
type CampaignRunner interface {
	ActivateDue(ctx context.Context) (int, error)
	ActiveCampaigns(ctx context.Context) ([]*models.Campaign, error)
	ProcessBatch(ctx context.Context, id uuid.UUID, size int) (services.BatchResult, error)
}

// Intervals configures how often each job runs
type Intervals struct {
	Expiry    time.Duration
	Retry     time.Duration
	Reminders time.Duration
	Campaigns time.Duration
}

// DefaultIntervals returns the production schedule
func DefaultIntervals() Intervals {
	return Intervals{
		Expiry:    5 * time.Minute,
		Retry:     10 * time.Minute,
		Reminders: 15 * time.Minute,
		Campaigns: time.Minute,
	}
}

// Scheduler runs the periodic maintenance jobs
type Scheduler struct {
	conversations ConversationExpirer
	messages      MessageRetrier
	reminders     ReminderSender
	campaigns     CampaignRunner
	intervals     Intervals
	batchSize     int
	log           *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewScheduler creates a new job scheduler. Nil dependencies disable their job.
func NewScheduler(conversations ConversationExpirer, messages MessageRetrier, reminders ReminderSender, campaigns CampaignRunner, intervals Intervals, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		conversations: conversations,
		messages:      messages,
		reminders:     reminders,
		campaigns:     campaigns,
		intervals:     intervals,
		batchSize:     services.DefaultCampaignBatchSize,
		log:           logger,
	}
}

// Start launches one goroutine per job. Jobs stop when ctx is cancelled or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.log.Warn("jobs_already_running")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	if s.conversations != nil {
		s.every(ctx, "conversation_expiry", s.intervals.Expiry, s.ExpireConversations)
	}
	if s.messages != nil {
		s.every(ctx, "message_retry", s.intervals.Retry, s.RetryMessages)
	}
	if s.reminders != nil {
		s.every(ctx, "appointment_reminders", s.intervals.Reminders, s.SendReminders)
	}
	if s.campaigns != nil {
		s.every(ctx, "campaign_runner", s.intervals.Campaigns, s.RunCampaigns)
	}
	s.log.Info("jobs_started")
}

// Stop cancels every job and waits for in-flight runs to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("jobs_stopped")
}

func (s *Scheduler) every(ctx context.Context, name string, interval time.Duration, run func(context.Context) error) {
	if interval <= 0 {
		s.log.Warn("job_disabled", "job", name)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := run(ctx); err != nil && ctx.Err() == nil {
					s.log.Error("job_failed", "job", name, "error", err)
				}
			}
		}
	}()
}

// ExpireConversations resets conversations idle past their TTL
func (s *Scheduler) ExpireConversations(ctx context.Context) error {
	_, err := s.conversations.ExpireStale(ctx)
	return err
}

// RetryMessages resends failed, non-terminal outbound messages
func (s *Scheduler) RetryMessages(ctx context.Context) error {
	n, err := s.messages.RetryFailed(ctx, RetryBatchSize)
	if n > 0 {
		s.log.Info("failed_messages_retried", "count", n)
	}
	return err
}

// SendReminders reminds contacts of appointments in the next day
func (s *Scheduler) SendReminders(ctx context.Context) error {
	n, err := s.reminders.SendDueReminders(ctx)
	if n > 0 {
		s.log.Info("reminders_sent", "count", n)
	}
	return err
}

// RunCampaigns activates due campaigns and sends one batch of each active one
func (s *Scheduler) RunCampaigns(ctx context.Context) error {
	if _, err := s.campaigns.ActivateDue(ctx); err != nil {
		return err
	}
	active, err := s.campaigns.ActiveCampaigns(ctx)
	if err != nil {
		return err
	}
	for _, c := range active {
		if _, err := s.campaigns.ProcessBatch(ctx, c.ID, s.batchSize); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error("campaign_batch_failed", "campaign_id", c.ID, "error", err)
		}
	}
	return nil
}
