package repository

import (
	"context"
	"time"

	"mailpilot-service/internal/domain/entity"
)

// OutboundEmailRepository persists queued and sent messages.
type OutboundEmailRepository interface {
	Create(ctx context.Context, email *entity.OutboundEmail) error
	FindByID(ctx context.Context, id string) (*entity.OutboundEmail, error)
	UpdateStatus(ctx context.Context, id, status string) error
	MarkSent(ctx context.Context, id, providerMessageID, providerThreadID string, sentAt time.Time) error
	// MarkFailed records the error and bumps the retry count. When requeue
	// is true the message goes back to scheduled for a later attempt.
	MarkFailed(ctx context.Context, id, errMsg string, requeue bool) error
	FindScheduledDue(ctx context.Context, now time.Time, limit int) ([]*entity.OutboundEmail, error)
	// FindFollowUpCandidates returns sent messages with follow-up enabled
	// and not yet followed up.
	FindFollowUpCandidates(ctx context.Context, limit int) ([]*entity.OutboundEmail, error)
	MarkFollowUpSent(ctx context.Context, id string) error
}
