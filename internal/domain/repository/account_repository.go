package repository

import (
	"context"
	"time"

	"mailpilot-service/internal/domain/entity"
)

// AccountRepository persists connected mailbox accounts.
type AccountRepository interface {
	FindByID(ctx context.Context, id string) (*entity.Account, error)
	// FindDueForSync returns accounts whose last sync is older than the
	// cutoff, capped to limit, oldest first.
	FindDueForSync(ctx context.Context, olderThan time.Time, limit int) ([]*entity.Account, error)
	// UpdateTokens persists a refreshed access token. An empty refresh
	// token leaves the stored one untouched.
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error
	UpdateSyncState(ctx context.Context, id string, lastSyncAt time.Time, historyID uint64) error
	MarkBackfillComplete(ctx context.Context, id string) error
}
