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

const defaultFollowUpBody = "<p>Hi {{name}},</p><p>Just following up on my previous email. Did you get a chance to look at it?</p>"

// FollowUpSettings tunes the evaluator.
type FollowUpSettings struct {
	// BatchSize caps candidates evaluated per pass.
	BatchSize int
}

func (s FollowUpSettings) withDefaults() FollowUpSettings {
	if s.BatchSize <= 0 {
		s.BatchSize = 20
	}
	return s
}

// FollowUpEvaluator walks sent messages with a follow-up armed, decides
// whether the condition holds, and sends at most one follow-up per
// original message, threaded into the same conversation.
type FollowUpEvaluator struct {
	outboundRepo repository.OutboundEmailRepository
	accountRepo  repository.AccountRepository
	quotaRepo    repository.QuotaRepository
	tokens       TokenProvider
	newSender    SenderFactory
	settings     FollowUpSettings
	metrics      *metrics.Metrics
	logger       logger.Logger
	now          func() time.Time
}

// NewFollowUpEvaluator creates a new follow-up evaluator
func NewFollowUpEvaluator(
	outboundRepo repository.OutboundEmailRepository,
	accountRepo repository.AccountRepository,
	quotaRepo repository.QuotaRepository,
	tokens TokenProvider,
	newSender SenderFactory,
	settings FollowUpSettings,
	m *metrics.Metrics,
	logger logger.Logger,
) *FollowUpEvaluator {
	return &FollowUpEvaluator{
		outboundRepo: outboundRepo,
		accountRepo:  accountRepo,
		quotaRepo:    quotaRepo,
		tokens:       tokens,
		newSender:    newSender,
		settings:     settings.withDefaults(),
		metrics:      m,
		logger:       logger,
		now:          time.Now,
	}
}

// ProcessFollowUps takes one evaluation pass over the armed candidates.
func (e *FollowUpEvaluator) ProcessFollowUps(ctx context.Context) error {
	candidates, err := e.outboundRepo.FindFollowUpCandidates(ctx, e.settings.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to find follow-up candidates: %w", err)
	}

	for _, email := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.shouldFollowUp(email) {
			continue
		}
		if err := e.sendFollowUp(ctx, email); err != nil {
			e.logger.Error("Follow-up failed",
				"emailId", email.ID,
				"error", err)
		}
	}
	return nil
}

// shouldFollowUp evaluates the armed condition. A reply always disarms the
// follow-up regardless of condition; the delay must have fully elapsed.
func (e *FollowUpEvaluator) shouldFollowUp(email *entity.OutboundEmail) bool {
	if email.SentAt == nil || email.HasReply {
		return false
	}

	elapsed := e.now().Sub(*email.SentAt)
	if elapsed < time.Duration(email.FollowUpDelayDays)*24*time.Hour {
		return false
	}

	switch email.FollowUpCondition {
	case entity.FollowUpNoReply:
		// With tracking off there is no open signal; the absent reply is
		// the only evidence we get, so the follow-up still fires.
		return email.OpenCount > 0 || !email.TrackingEnabled
	case entity.FollowUpNoOpen:
		return email.OpenCount == 0
	case entity.FollowUpAlways:
		return true
	default:
		return false
	}
}

func (e *FollowUpEvaluator) sendFollowUp(ctx context.Context, original *entity.OutboundEmail) error {
	account, err := e.accountRepo.FindByID(ctx, original.AccountID)
	if err != nil {
		return fmt.Errorf("account: %w", err)
	}
	if !account.CanSend {
		return nil
	}

	ok, err := e.quotaRepo.TryConsume(ctx, account.UserID, e.now())
	if err != nil {
		return fmt.Errorf("quota: %w", err)
	}
	if !ok {
		if e.metrics != nil {
			e.metrics.QuotaExhausted.Inc()
		}
		return nil
	}

	token, err := e.tokens.GetValidToken(ctx, account)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	sender, err := e.newSender(ctx, account, token)
	if err != nil {
		return fmt.Errorf("sender: %w", err)
	}

	// Claim the follow-up before sending so a concurrent pass cannot send
	// a second one for the same message.
	if err := e.outboundRepo.MarkFollowUpSent(ctx, original.ID); err != nil {
		e.logger.Debug("Follow-up already claimed", "emailId", original.ID)
		return nil
	}

	body := original.FollowUpBody
	if body == "" {
		body = defaultFollowUpBody
	}
	body = mimemsg.MergeFields(body, map[string]string{
		"name":  original.ToName,
		"email": original.ToEmail,
	})

	messageID := rfcMessageID(original.ProviderMessageID)

	opts := SendOptions{
		To:         original.ToEmail,
		ToName:     original.ToName,
		Subject:    "Re: " + original.Subject,
		HTMLBody:   body,
		InReplyTo:  messageID,
		References: messageID,
		ThreadID:   original.ProviderThreadID,
	}

	result, err := sender.SendEmail(ctx, opts)
	if err != nil {
		if e.metrics != nil {
			e.metrics.SendFailures.WithLabelValues(string(mailerr.SendCodeFor(err))).Inc()
		}
		return fmt.Errorf("send: %w", err)
	}

	parentID := original.ID
	followUp := &entity.OutboundEmail{
		ID:                uuid.New().String(),
		AccountID:         original.AccountID,
		UserID:            original.UserID,
		ToEmail:           original.ToEmail,
		ToName:            original.ToName,
		Subject:           opts.Subject,
		HTMLBody:          body,
		Status:            entity.OutboundSent,
		SentAt:            &result.SentAt,
		ProviderMessageID: result.ProviderMessageID,
		ProviderThreadID:  result.ProviderThreadID,
		ParentEmailID:     &parentID,
		CampaignID:        original.CampaignID,
	}
	if err := e.outboundRepo.Create(ctx, followUp); err != nil {
		e.logger.Error("Failed to record follow-up email", "emailId", original.ID, "error", err)
	}

	if e.metrics != nil {
		e.metrics.EmailsSent.Inc()
	}
	e.logger.Info("Follow-up sent",
		"originalEmailId", original.ID,
		"followUpEmailId", followUp.ID,
		"condition", original.FollowUpCondition)
	return nil
}
