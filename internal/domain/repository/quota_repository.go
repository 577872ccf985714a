package repository

import (
	"context"
	"time"
)

// QuotaRepository tracks per-user daily send quotas.
type QuotaRepository interface {
	// TryConsume atomically takes one unit from the user's quota for the
	// given day, creating the day's counter on first use. Returns false
	// when the quota is exhausted.
	TryConsume(ctx context.Context, userID string, day time.Time) (bool, error)
	Remaining(ctx context.Context, userID string, day time.Time) (int, error)
}
