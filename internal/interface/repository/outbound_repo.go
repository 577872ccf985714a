package repository

import (
	"context"
	"fmt"
	"time"

	"mailpilot-service/internal/domain/entity"
	"mailpilot-service/internal/domain/repository"

	"gorm.io/gorm"
)

// GormOutboundRepository implements the OutboundEmailRepository interface
type GormOutboundRepository struct {
	db *gorm.DB
}

// NewGormOutboundRepository creates a new GORM outbound email repository
func NewGormOutboundRepository(db *gorm.DB) repository.OutboundEmailRepository {
	return &GormOutboundRepository{
		db: db,
	}
}

// OutboundEmails GORM model for database mapping
type OutboundEmails struct {
	ID                string     `gorm:"column:id;primaryKey"`
	AccountID         string     `gorm:"column:account_id;index"`
	UserID            string     `gorm:"column:user_id;index"`
	ToEmail           string     `gorm:"column:to_email"`
	ToName            string     `gorm:"column:to_name"`
	Subject           string     `gorm:"column:subject"`
	HTMLBody          string     `gorm:"column:html_body"`
	TextBody          string     `gorm:"column:text_body"`
	Status            string     `gorm:"column:status;index"`
	ScheduledAt       *time.Time `gorm:"column:scheduled_at"`
	SentAt            *time.Time `gorm:"column:sent_at"`
	ProviderMessageID string     `gorm:"column:provider_message_id"`
	ProviderThreadID  string     `gorm:"column:provider_thread_id"`
	TrackingID        string     `gorm:"column:tracking_id;index"`
	TrackingEnabled   bool       `gorm:"column:tracking_enabled"`
	OpenCount         int        `gorm:"column:open_count"`
	HasReply          bool       `gorm:"column:has_reply"`
	RetryCount        int        `gorm:"column:retry_count"`
	LastError         string     `gorm:"column:last_error"`
	ParentEmailID     *string    `gorm:"column:parent_email_id"`
	CampaignID        *string    `gorm:"column:campaign_id;index"`
	FollowUpEnabled   bool       `gorm:"column:follow_up_enabled"`
	FollowUpSent      bool       `gorm:"column:follow_up_sent"`
	FollowUpCondition string     `gorm:"column:follow_up_condition"`
	FollowUpDelayDays int        `gorm:"column:follow_up_delay_days"`
	FollowUpBody      string     `gorm:"column:follow_up_body"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
}

// TableName overrides the default table name
func (OutboundEmails) TableName() string {
	return "outbound_emails"
}

// Create inserts a new outbound email
func (r *GormOutboundRepository) Create(ctx context.Context, email *entity.OutboundEmail) error {
	model := toOutboundModel(email)
	result := r.db.WithContext(ctx).Create(model)
	if result.Error != nil {
		return result.Error
	}

	email.CreatedAt = model.CreatedAt
	email.UpdatedAt = model.UpdatedAt
	return nil
}

// FindByID finds an outbound email by ID
func (r *GormOutboundRepository) FindByID(ctx context.Context, id string) (*entity.OutboundEmail, error) {
	var model OutboundEmails
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&model)
	if result.Error != nil {
		return nil, result.Error
	}
	return toOutboundEntity(&model), nil
}

// UpdateStatus updates just the lifecycle status
func (r *GormOutboundRepository) UpdateStatus(ctx context.Context, id, status string) error {
	result := r.db.WithContext(ctx).Model(&OutboundEmails{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no outbound email found with id: %s", id)
	}
	return nil
}

// MarkSent records the provider ids and moves the message to sent
func (r *GormOutboundRepository) MarkSent(ctx context.Context, id, providerMessageID, providerThreadID string, sentAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&OutboundEmails{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":              entity.OutboundSent,
			"provider_message_id": providerMessageID,
			"provider_thread_id":  providerThreadID,
			"sent_at":             sentAt,
			"last_error":          "",
			"updated_at":          time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no outbound email found with id: %s", id)
	}
	return nil
}

// MarkFailed records the error and bumps the retry count
func (r *GormOutboundRepository) MarkFailed(ctx context.Context, id, errMsg string, requeue bool) error {
	status := entity.OutboundFailed
	if requeue {
		status = entity.OutboundScheduled
	}

	result := r.db.WithContext(ctx).Model(&OutboundEmails{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":      status,
			"last_error":  errMsg,
			"retry_count": gorm.Expr("retry_count + 1"),
			"updated_at":  time.Now(),
		})
	return result.Error
}

// FindScheduledDue returns scheduled messages whose send time has passed
func (r *GormOutboundRepository) FindScheduledDue(ctx context.Context, now time.Time, limit int) ([]*entity.OutboundEmail, error) {
	var models []OutboundEmails
	result := r.db.WithContext(ctx).
		Where("status = ?", entity.OutboundScheduled).
		Where("scheduled_at IS NOT NULL AND scheduled_at <= ?", now).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&models)
	if result.Error != nil {
		return nil, result.Error
	}

	emails := make([]*entity.OutboundEmail, 0, len(models))
	for i := range models {
		emails = append(emails, toOutboundEntity(&models[i]))
	}
	return emails, nil
}

// FindFollowUpCandidates returns sent messages awaiting follow-up evaluation
func (r *GormOutboundRepository) FindFollowUpCandidates(ctx context.Context, limit int) ([]*entity.OutboundEmail, error) {
	var models []OutboundEmails
	result := r.db.WithContext(ctx).
		Where("status = ?", entity.OutboundSent).
		Where("follow_up_enabled = ? AND follow_up_sent = ?", true, false).
		Order("sent_at ASC").
		Limit(limit).
		Find(&models)
	if result.Error != nil {
		return nil, result.Error
	}

	emails := make([]*entity.OutboundEmail, 0, len(models))
	for i := range models {
		emails = append(emails, toOutboundEntity(&models[i]))
	}
	return emails, nil
}

// MarkFollowUpSent guarantees at most one follow-up per original message
func (r *GormOutboundRepository) MarkFollowUpSent(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&OutboundEmails{}).
		Where("id = ? AND follow_up_sent = ?", id, false).
		Updates(map[string]interface{}{
			"follow_up_sent": true,
			"updated_at":     time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("follow-up already recorded for email: %s", id)
	}
	return nil
}

func toOutboundModel(e *entity.OutboundEmail) *OutboundEmails {
	return &OutboundEmails{
		ID:                e.ID,
		AccountID:         e.AccountID,
		UserID:            e.UserID,
		ToEmail:           e.ToEmail,
		ToName:            e.ToName,
		Subject:           e.Subject,
		HTMLBody:          e.HTMLBody,
		TextBody:          e.TextBody,
		Status:            e.Status,
		ScheduledAt:       e.ScheduledAt,
		SentAt:            e.SentAt,
		ProviderMessageID: e.ProviderMessageID,
		ProviderThreadID:  e.ProviderThreadID,
		TrackingID:        e.TrackingID,
		TrackingEnabled:   e.TrackingEnabled,
		OpenCount:         e.OpenCount,
		HasReply:          e.HasReply,
		RetryCount:        e.RetryCount,
		LastError:         e.LastError,
		ParentEmailID:     e.ParentEmailID,
		CampaignID:        e.CampaignID,
		FollowUpEnabled:   e.FollowUpEnabled,
		FollowUpSent:      e.FollowUpSent,
		FollowUpCondition: e.FollowUpCondition,
		FollowUpDelayDays: e.FollowUpDelayDays,
		FollowUpBody:      e.FollowUpBody,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}

func toOutboundEntity(m *OutboundEmails) *entity.OutboundEmail {
	return &entity.OutboundEmail{
		ID:                m.ID,
		AccountID:         m.AccountID,
		UserID:            m.UserID,
		ToEmail:           m.ToEmail,
		ToName:            m.ToName,
		Subject:           m.Subject,
		HTMLBody:          m.HTMLBody,
		TextBody:          m.TextBody,
		Status:            m.Status,
		ScheduledAt:       m.ScheduledAt,
		SentAt:            m.SentAt,
		ProviderMessageID: m.ProviderMessageID,
		ProviderThreadID:  m.ProviderThreadID,
		TrackingID:        m.TrackingID,
		TrackingEnabled:   m.TrackingEnabled,
		OpenCount:         m.OpenCount,
		HasReply:          m.HasReply,
		RetryCount:        m.RetryCount,
		LastError:         m.LastError,
		ParentEmailID:     m.ParentEmailID,
		CampaignID:        m.CampaignID,
		FollowUpEnabled:   m.FollowUpEnabled,
		FollowUpSent:      m.FollowUpSent,
		FollowUpCondition: m.FollowUpCondition,
		FollowUpDelayDays: m.FollowUpDelayDays,
		FollowUpBody:      m.FollowUpBody,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}
