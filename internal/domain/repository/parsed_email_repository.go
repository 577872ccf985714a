package repository

import (
	"context"

	"mailpilot-service/internal/domain/entity"
)

// ParsedEmailRepository stores fetched provider messages.
type ParsedEmailRepository interface {
	// SaveBatch inserts emails that are not already stored and returns how
	// many were created.
	SaveBatch(ctx context.Context, emails []*entity.ParsedEmail) (int, error)
	FindByMessageIDs(ctx context.Context, messageIDs []string) (map[string]*entity.ParsedEmail, error)
	GetLastReceived(ctx context.Context) (*entity.ParsedEmail, error)
}
