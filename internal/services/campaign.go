package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Ananth-NQI/smsbook-backend/internal/models"
	"github.com/Ananth-NQI/smsbook-backend/internal/storage"
	"github.com/Ananth-NQI/smsbook-backend/internal/utils"
)

// DefaultCampaignBatchSize is how many recipients one runner pass handles
const DefaultCampaignBatchSize = 50

var (
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrCampaignState    = errors.New("campaign cannot make that transition")
	ErrEmptyTemplate    = errors.New("campaign template is empty")
)

// BatchResult counts what one ProcessBatch pass did
type BatchResult struct {
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
	Deferred int `json:"deferred"`
}

// CampaignService sends templated bulk messages to opted-in contacts
type CampaignService struct {
	store        storage.Store
	outbound     OutboundChannel
	templates    *TemplateService
	limiter      *TokenBucket
	quietDefault utils.QuietHours
	quietStart   string
	quietEnd     string
	log          *slog.Logger
	now          func() time.Time
}

// NewCampaignService creates a campaign service. quietStart and quietEnd are
// the "HH:MM" bounds assigned to new campaigns.
func NewCampaignService(store storage.Store, outbound OutboundChannel, templates *TemplateService, limiter *TokenBucket, quietStart, quietEnd string, logger *slog.Logger) (*CampaignService, error) {
	quiet, err := utils.NewQuietHours(quietStart, quietEnd)
	if err != nil {
		return nil, err
	}
	return &CampaignService{
		store:        store,
		outbound:     outbound,
		templates:    templates,
		limiter:      limiter,
		quietDefault: quiet,
		quietStart:   quietStart,
		quietEnd:     quietEnd,
		log:          logger,
		now:          time.Now,
	}, nil
}

// CreateCampaign snapshots the currently opted-in contacts as pending recipients
func (s *CampaignService) CreateCampaign(ctx context.Context, name, template string) (*models.Campaign, error) {
	if strings.TrimSpace(template) == "" {
		return nil, ErrEmptyTemplate
	}

	contacts, err := s.store.GetOptedInContacts(ctx)
	if err != nil {
		return nil, err
	}

	campaign := &models.Campaign{
		ID:              uuid.New(),
		Name:            name,
		MessageTemplate: template,
		Status:          models.CampaignStatusDraft,
		QuietHoursStart: s.quietStart,
		QuietHoursEnd:   s.quietEnd,
		RespectTimezone: true,
		TotalRecipients: len(contacts),
	}
	recipients := make([]*models.CampaignRecipient, 0, len(contacts))
	for _, c := range contacts {
		recipients = append(recipients, &models.CampaignRecipient{
			ID:         uuid.New(),
			CampaignID: campaign.ID,
			ContactID:  c.ID,
			Status:     models.RecipientStatusPending,
		})
	}

	if err := s.store.CreateCampaign(ctx, campaign, recipients); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}

	s.log.Info("campaign_created", "campaign_id", campaign.ID, "recipients", len(recipients))
	return campaign, nil
}

func (s *CampaignService) get(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	campaign, err := s.store.GetCampaign(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrCampaignNotFound
	}
	return campaign, err
}

func (s *CampaignService) transition(ctx context.Context, id uuid.UUID, to string, from ...string) (*models.Campaign, error) {
	campaign, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, f := range from {
		if campaign.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s -> %s", ErrCampaignState, campaign.Status, to)
	}

	campaign.Status = to
	if err := s.store.UpdateCampaign(ctx, campaign); err != nil {
		return nil, err
	}
	s.log.Info("campaign_status_changed", "campaign_id", id, "status", to)
	return campaign, nil
}

// Activate starts sending on the next runner pass
func (s *CampaignService) Activate(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	return s.transition(ctx, id, models.CampaignStatusActive,
		models.CampaignStatusDraft, models.CampaignStatusScheduled, models.CampaignStatusPaused)
}

// Pause stops sending; pending recipients are kept
func (s *CampaignService) Pause(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	return s.transition(ctx, id, models.CampaignStatusPaused, models.CampaignStatusActive)
}

// Schedule activates a draft campaign at a later time
func (s *CampaignService) Schedule(ctx context.Context, id uuid.UUID, at time.Time) (*models.Campaign, error) {
	campaign, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if campaign.Status != models.CampaignStatusDraft {
		return nil, fmt.Errorf("%w: %s -> %s", ErrCampaignState, campaign.Status, models.CampaignStatusScheduled)
	}
	at = at.UTC()
	campaign.Status = models.CampaignStatusScheduled
	campaign.ScheduledAt = &at
	if err := s.store.UpdateCampaign(ctx, campaign); err != nil {
		return nil, err
	}
	return campaign, nil
}

// Stats returns recipient counts by status
func (s *CampaignService) Stats(ctx context.Context, id uuid.UUID) (*models.CampaignStats, error) {
	if _, err := s.get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.GetCampaignStats(ctx, id)
}

// ActivateDue moves scheduled campaigns whose time has come to active
func (s *CampaignService) ActivateDue(ctx context.Context) (int, error) {
	scheduled, err := s.store.GetCampaignsByStatus(ctx, models.CampaignStatusScheduled)
	if err != nil {
		return 0, err
	}
	now := s.now()
	activated := 0
	for _, c := range scheduled {
		if c.ScheduledAt != nil && c.ScheduledAt.After(now) {
			continue
		}
		if _, err := s.Activate(ctx, c.ID); err != nil {
			s.log.Warn("campaign_activation_failed", "campaign_id", c.ID, "error", err)
			continue
		}
		activated++
	}
	return activated, nil
}

// ActiveCampaigns lists campaigns the runner should process
func (s *CampaignService) ActiveCampaigns(ctx context.Context) ([]*models.Campaign, error) {
	return s.store.GetCampaignsByStatus(ctx, models.CampaignStatusActive)
}

// ProcessBatch sends to up to size due recipients. Contacts who are no longer
// opted in are skipped, and contacts inside quiet hours are deferred to the
// end of the window. The campaign completes once nothing is pending.
func (s *CampaignService) ProcessBatch(ctx context.Context, id uuid.UUID, size int) (BatchResult, error) {
	var result BatchResult

	campaign, err := s.get(ctx, id)
	if err != nil {
		return result, err
	}
	if campaign.Status != models.CampaignStatusActive {
		return result, nil
	}
	if size <= 0 {
		size = DefaultCampaignBatchSize
	}

	quiet, err := utils.NewQuietHours(campaign.QuietHoursStart, campaign.QuietHoursEnd)
	if err != nil {
		s.log.Warn("campaign_quiet_hours_invalid", "campaign_id", id, "error", err)
		quiet = s.quietDefault
	}

	recipients, err := s.store.GetDueRecipients(ctx, id, s.now(), size)
	if err != nil {
		return result, err
	}

	for _, r := range recipients {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		contact, err := s.store.GetContact(ctx, r.ContactID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return result, err
		}
		if contact == nil || contact.OptInStatus != models.OptInStatusOptedIn {
			r.Status = models.RecipientStatusSkipped
			result.Skipped++
			if err := s.store.UpdateRecipient(ctx, r); err != nil {
				return result, err
			}
			continue
		}

		loc := time.UTC
		if campaign.RespectTimezone {
			loc = contact.Location()
		}
		now := s.now()
		if quiet.Contains(now, loc) {
			next := quiet.NextAllowed(now, loc).UTC()
			r.NextAttemptAt = &next
			result.Deferred++
			if err := s.store.UpdateRecipient(ctx, r); err != nil {
				return result, err
			}
			continue
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return result, err
			}
		}

		body := RenderTemplate(campaign.MessageTemplate, s.templates.ContactVars(contact))
		msg, sendErr := s.outbound.SendMessage(ctx, contact.PhoneNumber, body, SendOptions{
			Kind:       models.MessageKindCampaign,
			CampaignID: &campaign.ID,
		})
		if msg != nil {
			r.MessageID = &msg.ID
		}
		if sendErr != nil {
			s.log.Warn("campaign_send_failed", "campaign_id", id, "contact_id", contact.ID, "error", sendErr)
			r.Status = models.RecipientStatusFailed
			result.Failed++
		} else {
			sentAt := s.now().UTC()
			r.Status = models.RecipientStatusSent
			r.SentAt = &sentAt
			result.Sent++
		}
		if err := s.store.UpdateRecipient(ctx, r); err != nil {
			return result, err
		}
	}

	if err := s.refreshCounts(ctx, id); err != nil {
		return result, err
	}

	s.log.Info("campaign_batch_processed",
		"campaign_id", id,
		"sent", result.Sent,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"deferred", result.Deferred,
	)
	return result, nil
}

// refreshCounts re-reads the campaign so a concurrent Pause is not overwritten
func (s *CampaignService) refreshCounts(ctx context.Context, id uuid.UUID) error {
	campaign, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	stats, err := s.store.GetCampaignStats(ctx, id)
	if err != nil {
		return err
	}
	campaign.SentCount = stats.Sent
	campaign.FailedCount = stats.Failed
	if stats.Pending == 0 && campaign.Status == models.CampaignStatusActive {
		campaign.Status = models.CampaignStatusCompleted
		s.log.Info("campaign_completed", "campaign_id", campaign.ID)
	}
	return s.store.UpdateCampaign(ctx, campaign)
}
