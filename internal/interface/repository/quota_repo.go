package repository

import (
	"context"
	"time"

	"mailpilot-service/internal/domain/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormQuotaRepository implements the QuotaRepository interface
type GormQuotaRepository struct {
	db         *gorm.DB
	dailyQuota int
}

// NewGormQuotaRepository creates a new GORM quota repository
func NewGormQuotaRepository(db *gorm.DB, dailyQuota int) repository.QuotaRepository {
	return &GormQuotaRepository{
		db:         db,
		dailyQuota: dailyQuota,
	}
}

// SendQuotas GORM model for database mapping, keyed by user and day
type SendQuotas struct {
	UserID    string    `gorm:"column:user_id;primaryKey"`
	Day       string    `gorm:"column:day;primaryKey"`
	Remaining int       `gorm:"column:remaining"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName overrides the default table name
func (SendQuotas) TableName() string {
	return "send_quotas"
}

// TryConsume takes one unit from the user's quota for the day. The decrement
// is a single guarded UPDATE so concurrent senders cannot overspend.
func (r *GormQuotaRepository) TryConsume(ctx context.Context, userID string, day time.Time) (bool, error) {
	dayKey := day.UTC().Format("2006-01-02")

	// Seed the day's counter on first use; a concurrent insert wins quietly.
	seed := SendQuotas{
		UserID:    userID,
		Day:       dayKey,
		Remaining: r.dailyQuota,
		UpdatedAt: time.Now(),
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return false, err
	}

	result := r.db.WithContext(ctx).Model(&SendQuotas{}).
		Where("user_id = ? AND day = ? AND remaining > 0", userID, dayKey).
		Updates(map[string]interface{}{
			"remaining":  gorm.Expr("remaining - 1"),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Remaining reports how much of the day's quota is left
func (r *GormQuotaRepository) Remaining(ctx context.Context, userID string, day time.Time) (int, error) {
	dayKey := day.UTC().Format("2006-01-02")

	var model SendQuotas
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND day = ?", userID, dayKey).
		First(&model)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return r.dailyQuota, nil
		}
		return 0, result.Error
	}
	return model.Remaining, nil
}
