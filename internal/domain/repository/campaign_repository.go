package repository

import (
	"context"
	"time"

	"mailpilot-service/internal/domain/entity"
)

// CampaignRepository persists campaigns and their recipients.
type CampaignRepository interface {
	FindByID(ctx context.Context, id string) (*entity.Campaign, error)
	FindActive(ctx context.Context, limit int) ([]*entity.Campaign, error)
	UpdateStatus(ctx context.Context, id, status string) error
	TouchLastSent(ctx context.Context, id string, at time.Time) error
	IncrementSent(ctx context.Context, id string) error
	IncrementFailed(ctx context.Context, id string) error

	PendingRecipients(ctx context.Context, campaignID string, limit int) ([]*entity.CampaignRecipient, error)
	CountPending(ctx context.Context, campaignID string) (int64, error)
	MarkRecipientSent(ctx context.Context, recipientID, outboundEmailID string) error
	// MarkRecipientFailed records the error and bumps the retry count.
	// When requeue is true the recipient is reset to pending so a future
	// invocation retries it.
	MarkRecipientFailed(ctx context.Context, recipientID, errMsg string, requeue bool) error
}
