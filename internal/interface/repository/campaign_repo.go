package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mailpilot-service/internal/domain/entity"
	"mailpilot-service/internal/domain/repository"

	"gorm.io/gorm"
)

// GormCampaignRepository implements the CampaignRepository interface
type GormCampaignRepository struct {
	db *gorm.DB
}

// NewGormCampaignRepository creates a new GORM campaign repository
func NewGormCampaignRepository(db *gorm.DB) repository.CampaignRepository {
	return &GormCampaignRepository{
		db: db,
	}
}

// Campaigns GORM model for database mapping
type Campaigns struct {
	ID              string     `gorm:"column:id;primaryKey"`
	UserID          string     `gorm:"column:user_id;index"`
	AccountID       string     `gorm:"column:account_id;index"`
	Name            string     `gorm:"column:name"`
	Subject         string     `gorm:"column:subject"`
	HTMLBody        string     `gorm:"column:html_body"`
	TextBody        string     `gorm:"column:text_body"`
	Status          string     `gorm:"column:status;index"`
	TotalRecipients int        `gorm:"column:total_recipients"`
	SentCount       int        `gorm:"column:sent_count"`
	FailedCount     int        `gorm:"column:failed_count"`
	TrackingEnabled bool       `gorm:"column:tracking_enabled"`
	LastSentAt      *time.Time `gorm:"column:last_sent_at"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at"`
}

// TableName overrides the default table name
func (Campaigns) TableName() string {
	return "campaigns"
}

// CampaignRecipients GORM model for database mapping. Merge data is a JSON
// column so each recipient carries its own substitution map.
type CampaignRecipients struct {
	ID              string    `gorm:"column:id;primaryKey"`
	CampaignID      string    `gorm:"column:campaign_id;index"`
	Email           string    `gorm:"column:email"`
	Name            string    `gorm:"column:name"`
	MergeData       string    `gorm:"column:merge_data"`
	Status          string    `gorm:"column:status;index"`
	OutboundEmailID *string   `gorm:"column:outbound_email_id"`
	RetryCount      int       `gorm:"column:retry_count"`
	LastError       string    `gorm:"column:last_error"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

// TableName overrides the default table name
func (CampaignRecipients) TableName() string {
	return "campaign_recipients"
}

// FindByID finds a campaign by ID
func (r *GormCampaignRepository) FindByID(ctx context.Context, id string) (*entity.Campaign, error) {
	var model Campaigns
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&model)
	if result.Error != nil {
		return nil, result.Error
	}
	return toCampaignEntity(&model), nil
}

// FindActive returns active campaigns, oldest last-send first so no
// campaign starves the others.
func (r *GormCampaignRepository) FindActive(ctx context.Context, limit int) ([]*entity.Campaign, error) {
	var models []Campaigns
	result := r.db.WithContext(ctx).
		Where("status = ?", entity.CampaignActive).
		Order("last_sent_at ASC NULLS FIRST").
		Limit(limit).
		Find(&models)
	if result.Error != nil {
		return nil, result.Error
	}

	campaigns := make([]*entity.Campaign, 0, len(models))
	for i := range models {
		campaigns = append(campaigns, toCampaignEntity(&models[i]))
	}
	return campaigns, nil
}

// UpdateStatus updates the campaign lifecycle status
func (r *GormCampaignRepository) UpdateStatus(ctx context.Context, id, status string) error {
	result := r.db.WithContext(ctx).Model(&Campaigns{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no campaign found with id: %s", id)
	}
	return nil
}

// TouchLastSent records the time of the campaign's latest send
func (r *GormCampaignRepository) TouchLastSent(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&Campaigns{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_sent_at": at,
			"updated_at":   time.Now(),
		})
	return result.Error
}

// IncrementSent bumps the sent counter atomically
func (r *GormCampaignRepository) IncrementSent(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&Campaigns{}).Where("id = ?", id).
		UpdateColumn("sent_count", gorm.Expr("sent_count + 1"))
	return result.Error
}

// IncrementFailed bumps the failed counter atomically
func (r *GormCampaignRepository) IncrementFailed(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&Campaigns{}).Where("id = ?", id).
		UpdateColumn("failed_count", gorm.Expr("failed_count + 1"))
	return result.Error
}

// PendingRecipients returns the next pending recipients for a campaign
func (r *GormCampaignRepository) PendingRecipients(ctx context.Context, campaignID string, limit int) ([]*entity.CampaignRecipient, error) {
	var models []CampaignRecipients
	result := r.db.WithContext(ctx).
		Where("campaign_id = ? AND status = ?", campaignID, entity.RecipientPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&models)
	if result.Error != nil {
		return nil, result.Error
	}

	recipients := make([]*entity.CampaignRecipient, 0, len(models))
	for i := range models {
		recipients = append(recipients, toRecipientEntity(&models[i]))
	}
	return recipients, nil
}

// CountPending counts recipients still pending for a campaign
func (r *GormCampaignRepository) CountPending(ctx context.Context, campaignID string) (int64, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&CampaignRecipients{}).
		Where("campaign_id = ? AND status = ?", campaignID, entity.RecipientPending).
		Count(&count)
	return count, result.Error
}

// MarkRecipientSent links the recipient to its outbound email record
func (r *GormCampaignRepository) MarkRecipientSent(ctx context.Context, recipientID, outboundEmailID string) error {
	result := r.db.WithContext(ctx).Model(&CampaignRecipients{}).Where("id = ?", recipientID).
		Updates(map[string]interface{}{
			"status":            entity.RecipientSent,
			"outbound_email_id": outboundEmailID,
			"last_error":        "",
			"updated_at":        time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no recipient found with id: %s", recipientID)
	}
	return nil
}

// MarkRecipientFailed records the error and bumps the retry count
func (r *GormCampaignRepository) MarkRecipientFailed(ctx context.Context, recipientID, errMsg string, requeue bool) error {
	status := entity.RecipientFailed
	if requeue {
		status = entity.RecipientPending
	}

	result := r.db.WithContext(ctx).Model(&CampaignRecipients{}).Where("id = ?", recipientID).
		Updates(map[string]interface{}{
			"status":      status,
			"last_error":  errMsg,
			"retry_count": gorm.Expr("retry_count + 1"),
			"updated_at":  time.Now(),
		})
	return result.Error
}

func toCampaignEntity(m *Campaigns) *entity.Campaign {
	return &entity.Campaign{
		ID:              m.ID,
		UserID:          m.UserID,
		AccountID:       m.AccountID,
		Name:            m.Name,
		Subject:         m.Subject,
		HTMLBody:        m.HTMLBody,
		TextBody:        m.TextBody,
		Status:          m.Status,
		TotalRecipients: m.TotalRecipients,
		SentCount:       m.SentCount,
		FailedCount:     m.FailedCount,
		TrackingEnabled: m.TrackingEnabled,
		LastSentAt:      m.LastSentAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func toRecipientEntity(m *CampaignRecipients) *entity.CampaignRecipient {
	mergeData := map[string]string{}
	if m.MergeData != "" {
		// Malformed merge data falls back to an empty map; the template
		// keeps its placeholders visible instead of failing the send.
		json.Unmarshal([]byte(m.MergeData), &mergeData)
	}

	return &entity.CampaignRecipient{
		ID:              m.ID,
		CampaignID:      m.CampaignID,
		Email:           m.Email,
		Name:            m.Name,
		MergeData:       mergeData,
		Status:          m.Status,
		OutboundEmailID: m.OutboundEmailID,
		RetryCount:      m.RetryCount,
		LastError:       m.LastError,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
