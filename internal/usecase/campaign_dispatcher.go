package usecase

import (
	"context"
	"fmt"
	"time"

	"mailpilot-service/internal/domain/entity"
	"mailpilot-service/internal/domain/repository"
	"mailpilot-service/pkg/logger"
	"mailpilot-service/pkg/mailerr"
	"mailpilot-service/pkg/metrics"
	"mailpilot-service/pkg/mimemsg"

	"github.com/google/uuid"
)

// DispatchSettings tunes the campaign dispatcher. Zero values are replaced
// with the defaults below.
type DispatchSettings struct {
	// Throttle is the minimum gap between two sends of one campaign.
	Throttle time.Duration
	// MaxPerRun caps sends per campaign per dispatch pass, so a big
	// campaign drips out over many passes instead of bursting.
	MaxPerRun int
	// MaxRetries bounds delivery attempts per recipient or message.
	MaxRetries int
	// ScheduledBatch caps how many due scheduled messages one pass takes.
	ScheduledBatch int
}

func (s DispatchSettings) withDefaults() DispatchSettings {
	if s.Throttle <= 0 {
		s.Throttle = 25 * time.Second
	}
	if s.MaxPerRun <= 0 {
		s.MaxPerRun = 2
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = 3
	}
	if s.ScheduledBatch <= 0 {
		s.ScheduledBatch = 10
	}
	return s
}

// CampaignDispatcher drips campaign sends and flushes due scheduled
// messages, respecting per-user daily quotas and per-campaign throttles.
type CampaignDispatcher struct {
	campaignRepo repository.CampaignRepository
	outboundRepo repository.OutboundEmailRepository
	accountRepo  repository.AccountRepository
	quotaRepo    repository.QuotaRepository
	tokens       TokenProvider
	newSender    SenderFactory
	settings     DispatchSettings
	metrics      *metrics.Metrics
	logger       logger.Logger
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewCampaignDispatcher creates a new campaign dispatcher
func NewCampaignDispatcher(
	campaignRepo repository.CampaignRepository,
	outboundRepo repository.OutboundEmailRepository,
	accountRepo repository.AccountRepository,
	quotaRepo repository.QuotaRepository,
	tokens TokenProvider,
	newSender SenderFactory,
	settings DispatchSettings,
	m *metrics.Metrics,
	logger logger.Logger,
) *CampaignDispatcher {
	return &CampaignDispatcher{
		campaignRepo: campaignRepo,
		outboundRepo: outboundRepo,
		accountRepo:  accountRepo,
		quotaRepo:    quotaRepo,
		tokens:       tokens,
		newSender:    newSender,
		settings:     settings.withDefaults(),
		metrics:      m,
		logger:       logger,
		now:          time.Now,
		sleep:        sleepCtx,
	}
}

// ProcessCampaigns takes one dispatch pass over the active campaigns. Each
// campaign sends at most MaxPerRun messages, throttled, and is marked
// completed once no recipient remains pending.
func (d *CampaignDispatcher) ProcessCampaigns(ctx context.Context) error {
	campaigns, err := d.campaignRepo.FindActive(ctx, 50)
	if err != nil {
		return fmt.Errorf("failed to find active campaigns: %w", err)
	}

	for _, campaign := range campaigns {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.processCampaign(ctx, campaign); err != nil {
			d.logger.Error("Campaign pass failed",
				"campaignId", campaign.ID,
				"error", err)
		}
	}
	return nil
}

func (d *CampaignDispatcher) processCampaign(ctx context.Context, campaign *entity.Campaign) error {
	recipients, err := d.campaignRepo.PendingRecipients(ctx, campaign.ID, d.settings.MaxPerRun)
	if err != nil {
		return fmt.Errorf("pending recipients: %w", err)
	}

	if len(recipients) == 0 {
		return d.maybeComplete(ctx, campaign)
	}

	// The throttle spans invocations: a send from the previous pass keeps
	// this campaign quiet until the gap has fully elapsed.
	if campaign.LastSentAt != nil {
		if wait := d.settings.Throttle - d.now().Sub(*campaign.LastSentAt); wait > 0 {
			d.logger.Debug("Campaign inside throttle window, skipping pass",
				"campaignId", campaign.ID,
				"wait", wait)
			return nil
		}
	}

	account, err := d.accountRepo.FindByID(ctx, campaign.AccountID)
	if err != nil {
		return fmt.Errorf("account: %w", err)
	}
	if !account.CanSend {
		d.logger.Warn("Account is not allowed to send, pausing campaign",
			"campaignId", campaign.ID,
			"accountId", account.ID)
		return d.campaignRepo.UpdateStatus(ctx, campaign.ID, entity.CampaignPaused)
	}

	sender, err := d.senderFor(ctx, account)
	if err != nil {
		return fmt.Errorf("sender: %w", err)
	}

	for i, recipient := range recipients {
		ok, err := d.quotaRepo.TryConsume(ctx, account.UserID, d.now())
		if err != nil {
			return fmt.Errorf("quota: %w", err)
		}
		if !ok {
			// Out of quota for today; the recipient stays pending and the
			// next day's pass picks it up.
			if d.metrics != nil {
				d.metrics.QuotaExhausted.Inc()
			}
			d.logger.Info("Daily send quota exhausted",
				"campaignId", campaign.ID,
				"userId", account.UserID)
			return nil
		}

		d.sendToRecipient(ctx, campaign, account, sender, recipient)

		if i < len(recipients)-1 {
			if err := d.sleep(ctx, d.settings.Throttle); err != nil {
				return err
			}
		}
	}

	return d.maybeComplete(ctx, campaign)
}

func (d *CampaignDispatcher) sendToRecipient(ctx context.Context, campaign *entity.Campaign, account *entity.Account, sender MailSender, recipient *entity.CampaignRecipient) {
	data := mergeDataFor(recipient)

	opts := SendOptions{
		To:       recipient.Email,
		ToName:   recipient.Name,
		Subject:  mimemsg.MergeFields(campaign.Subject, data),
		HTMLBody: mimemsg.MergeFields(campaign.HTMLBody, data),
		TextBody: mimemsg.MergeFields(campaign.TextBody, data),
	}
	trackingID := ""
	if campaign.TrackingEnabled {
		trackingID = uuid.New().String()
		opts.TrackingID = trackingID
		opts.TrackingEnabled = true
	}

	result, err := sender.SendEmail(ctx, opts)
	if err != nil {
		code := mailerr.SendCodeFor(err)
		requeue := recipient.RetryCount+1 < d.settings.MaxRetries && code != mailerr.CodeInvalidRecipient
		if d.metrics != nil {
			d.metrics.SendFailures.WithLabelValues(string(code)).Inc()
		}
		d.logger.Warn("Campaign send failed",
			"campaignId", campaign.ID,
			"recipient", recipient.Email,
			"code", string(code),
			"requeue", requeue,
			"error", err)

		if merr := d.campaignRepo.MarkRecipientFailed(ctx, recipient.ID, err.Error(), requeue); merr != nil {
			d.logger.Error("Failed to mark recipient failed", "recipientId", recipient.ID, "error", merr)
		}
		if !requeue {
			if ierr := d.campaignRepo.IncrementFailed(ctx, campaign.ID); ierr != nil {
				d.logger.Error("Failed to bump failed count", "campaignId", campaign.ID, "error", ierr)
			}
		}
		return
	}

	campaignID := campaign.ID
	outbound := &entity.OutboundEmail{
		ID:                uuid.New().String(),
		AccountID:         account.ID,
		UserID:            account.UserID,
		ToEmail:           recipient.Email,
		ToName:            recipient.Name,
		Subject:           opts.Subject,
		HTMLBody:          opts.HTMLBody,
		TextBody:          opts.TextBody,
		Status:            entity.OutboundSent,
		SentAt:            &result.SentAt,
		ProviderMessageID: result.ProviderMessageID,
		ProviderThreadID:  result.ProviderThreadID,
		TrackingID:        trackingID,
		TrackingEnabled:   campaign.TrackingEnabled,
		CampaignID:        &campaignID,
	}
	if err := d.outboundRepo.Create(ctx, outbound); err != nil {
		d.logger.Error("Failed to record outbound email", "campaignId", campaign.ID, "error", err)
	}
	if err := d.campaignRepo.MarkRecipientSent(ctx, recipient.ID, outbound.ID); err != nil {
		d.logger.Error("Failed to mark recipient sent", "recipientId", recipient.ID, "error", err)
	}
	if err := d.campaignRepo.IncrementSent(ctx, campaign.ID); err != nil {
		d.logger.Error("Failed to bump sent count", "campaignId", campaign.ID, "error", err)
	}
	if err := d.campaignRepo.TouchLastSent(ctx, campaign.ID, result.SentAt); err != nil {
		d.logger.Error("Failed to touch last sent", "campaignId", campaign.ID, "error", err)
	}
	if d.metrics != nil {
		d.metrics.EmailsSent.Inc()
	}
}

func (d *CampaignDispatcher) maybeComplete(ctx context.Context, campaign *entity.Campaign) error {
	pending, err := d.campaignRepo.CountPending(ctx, campaign.ID)
	if err != nil {
		return fmt.Errorf("count pending: %w", err)
	}
	if pending > 0 {
		return nil
	}

	d.logger.Info("Campaign completed", "campaignId", campaign.ID)
	return d.campaignRepo.UpdateStatus(ctx, campaign.ID, entity.CampaignCompleted)
}

// ProcessScheduled flushes scheduled messages whose send time has passed.
func (d *CampaignDispatcher) ProcessScheduled(ctx context.Context) error {
	due, err := d.outboundRepo.FindScheduledDue(ctx, d.now(), d.settings.ScheduledBatch)
	if err != nil {
		return fmt.Errorf("failed to find due messages: %w", err)
	}

	for _, email := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.sendScheduled(ctx, email); err != nil {
			d.logger.Error("Scheduled send failed",
				"emailId", email.ID,
				"error", err)
		}
	}
	return nil
}

func (d *CampaignDispatcher) sendScheduled(ctx context.Context, email *entity.OutboundEmail) error {
	account, err := d.accountRepo.FindByID(ctx, email.AccountID)
	if err != nil {
		return fmt.Errorf("account: %w", err)
	}
	if !account.CanSend {
		return d.outboundRepo.MarkFailed(ctx, email.ID, "account is not allowed to send", false)
	}

	ok, err := d.quotaRepo.TryConsume(ctx, account.UserID, d.now())
	if err != nil {
		return fmt.Errorf("quota: %w", err)
	}
	if !ok {
		if d.metrics != nil {
			d.metrics.QuotaExhausted.Inc()
		}
		// Stays scheduled; tomorrow's quota covers it.
		return nil
	}

	sender, err := d.senderFor(ctx, account)
	if err != nil {
		return fmt.Errorf("sender: %w", err)
	}

	if err := d.outboundRepo.UpdateStatus(ctx, email.ID, entity.OutboundSending); err != nil {
		return fmt.Errorf("mark sending: %w", err)
	}

	opts := SendOptions{
		To:              email.ToEmail,
		ToName:          email.ToName,
		Subject:         email.Subject,
		HTMLBody:        email.HTMLBody,
		TextBody:        email.TextBody,
		TrackingID:      email.TrackingID,
		TrackingEnabled: email.TrackingEnabled,
	}
	if email.ParentEmailID != nil {
		if parent, perr := d.outboundRepo.FindByID(ctx, *email.ParentEmailID); perr == nil {
			opts.ThreadID = parent.ProviderThreadID
			opts.InReplyTo = rfcMessageID(parent.ProviderMessageID)
			opts.References = opts.InReplyTo
		}
	}

	result, err := sender.SendEmail(ctx, opts)
	if err != nil {
		code := mailerr.SendCodeFor(err)
		requeue := email.RetryCount+1 < d.settings.MaxRetries && code != mailerr.CodeInvalidRecipient
		if d.metrics != nil {
			d.metrics.SendFailures.WithLabelValues(string(code)).Inc()
		}
		if merr := d.outboundRepo.MarkFailed(ctx, email.ID, err.Error(), requeue); merr != nil {
			d.logger.Error("Failed to mark message failed", "emailId", email.ID, "error", merr)
		}
		return err
	}

	if d.metrics != nil {
		d.metrics.EmailsSent.Inc()
	}
	return d.outboundRepo.MarkSent(ctx, email.ID, result.ProviderMessageID, result.ProviderThreadID, result.SentAt)
}

func (d *CampaignDispatcher) senderFor(ctx context.Context, account *entity.Account) (MailSender, error) {
	token, err := d.tokens.GetValidToken(ctx, account)
	if err != nil {
		return nil, err
	}
	return d.newSender(ctx, account, token)
}

func mergeDataFor(recipient *entity.CampaignRecipient) map[string]string {
	data := map[string]string{
		"name":  recipient.Name,
		"email": recipient.Email,
	}
	for k, v := range recipient.MergeData {
		data[k] = v
	}
	return data
}

func rfcMessageID(providerMessageID string) string {
	if providerMessageID == "" {
		return ""
	}
	return fmt.Sprintf("<%s@mail.gmail.com>", providerMessageID)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
