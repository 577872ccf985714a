package repository

import (
	"context"

	"mailpilot-service/internal/domain/entity"
)

// SyncRunRepository stores orchestrator run audit records.
type SyncRunRepository interface {
	Save(ctx context.Context, run *entity.SyncRun) error
	FindRecent(ctx context.Context, limit int) ([]*entity.SyncRun, error)
}
