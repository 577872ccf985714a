package repository

import (
	"context"
	"fmt"
	"time"

	"mailpilot-service/internal/domain/entity"
	"mailpilot-service/internal/domain/repository"

	"gorm.io/gorm"
)

// GormAccountRepository implements the AccountRepository interface
type GormAccountRepository struct {
	db *gorm.DB
}

// NewGormAccountRepository creates a new GORM account repository
func NewGormAccountRepository(db *gorm.DB) repository.AccountRepository {
	return &GormAccountRepository{
		db: db,
	}
}

// Accounts GORM model for database mapping
type Accounts struct {
	ID            string    `gorm:"column:id;primaryKey"`
	UserID        string    `gorm:"column:user_id;index"`
	EmailAddress  string    `gorm:"column:email_address"`
	AccessToken   string    `gorm:"column:access_token"`
	RefreshToken  string    `gorm:"column:refresh_token"`
	TokenExpiry   time.Time `gorm:"column:token_expiry"`
	LastSyncAt    time.Time `gorm:"column:last_sync_at;index"`
	LastHistoryID uint64    `gorm:"column:last_history_id"`
	NeedsBackfill bool      `gorm:"column:needs_backfill"`
	CanSend       bool      `gorm:"column:can_send"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

// TableName overrides the default table name
func (Accounts) TableName() string {
	return "accounts"
}

// FindByID finds an account by ID
func (r *GormAccountRepository) FindByID(ctx context.Context, id string) (*entity.Account, error) {
	var model Accounts
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&model)
	if result.Error != nil {
		return nil, result.Error
	}
	return toAccountEntity(&model), nil
}

// FindDueForSync returns accounts whose last sync is older than the cutoff
func (r *GormAccountRepository) FindDueForSync(ctx context.Context, olderThan time.Time, limit int) ([]*entity.Account, error) {
	var models []Accounts
	result := r.db.WithContext(ctx).
		Where("last_sync_at < ?", olderThan).
		Order("last_sync_at ASC").
		Limit(limit).
		Find(&models)
	if result.Error != nil {
		return nil, result.Error
	}

	accounts := make([]*entity.Account, 0, len(models))
	for i := range models {
		accounts = append(accounts, toAccountEntity(&models[i]))
	}
	return accounts, nil
}

// UpdateTokens persists a refreshed access token. The refresh token is only
// rewritten when the provider supplied a new one.
func (r *GormAccountRepository) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error {
	updates := map[string]interface{}{
		"access_token": accessToken,
		"token_expiry": expiry,
		"updated_at":   time.Now(),
	}
	if refreshToken != "" {
		updates["refresh_token"] = refreshToken
	}

	result := r.db.WithContext(ctx).Model(&Accounts{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no account found with id: %s", id)
	}
	return nil
}

// UpdateSyncState records the last sync time and history cursor
func (r *GormAccountRepository) UpdateSyncState(ctx context.Context, id string, lastSyncAt time.Time, historyID uint64) error {
	updates := map[string]interface{}{
		"last_sync_at": lastSyncAt,
		"updated_at":   time.Now(),
	}
	if historyID > 0 {
		updates["last_history_id"] = historyID
	}

	result := r.db.WithContext(ctx).Model(&Accounts{}).Where("id = ?", id).Updates(updates)
	return result.Error
}

// MarkBackfillComplete clears the backfill flag
func (r *GormAccountRepository) MarkBackfillComplete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&Accounts{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"needs_backfill": false,
			"updated_at":     time.Now(),
		})
	return result.Error
}

func toAccountEntity(model *Accounts) *entity.Account {
	return &entity.Account{
		ID:            model.ID,
		UserID:        model.UserID,
		EmailAddress:  model.EmailAddress,
		AccessToken:   model.AccessToken,
		RefreshToken:  model.RefreshToken,
		TokenExpiry:   model.TokenExpiry,
		LastSyncAt:    model.LastSyncAt,
		LastHistoryID: model.LastHistoryID,
		NeedsBackfill: model.NeedsBackfill,
		CanSend:       model.CanSend,
		CreatedAt:     model.CreatedAt,
		UpdatedAt:     model.UpdatedAt,
	}
}
