package usecase

import (
	"context"
	"time"

	"mailpilot-service/internal/domain/entity"
)

// ListResult is one page of message ids from the provider.
type ListResult struct {
	MessageIDs    []string
	NextPageToken string
}

// HistoryResult is the outcome of an incremental history walk. When the
// stored cursor is too old the provider forgets it; FullSyncRequired tells
// the caller to fall back to a bounded listing instead of failing.
type HistoryResult struct {
	AddedIDs         []string
	NewHistoryID     uint64
	FullSyncRequired bool
}

// BatchResult carries per-message outcomes of a parallel fetch. A failed
// message lands in Errors without discarding the rest of the batch.
// LatestHistoryID is the highest history id seen across the fetched
// messages, used to seed the incremental cursor after a full listing.
type BatchResult struct {
	Emails          []*entity.ParsedEmail
	Errors          map[string]error
	LatestHistoryID uint64
}

// MailFetcher reads messages from the provider for one account.
type MailFetcher interface {
	ListMessages(ctx context.Context, cfg entity.SyncConfig) (*ListResult, error)
	GetMessage(ctx context.Context, messageID string, bodySizeLimit int) (*entity.ParsedEmail, error)
	GetMessages(ctx context.Context, messageIDs []string, bodySizeLimit int) (*BatchResult, error)
	GetHistory(ctx context.Context, startHistoryID uint64) (*HistoryResult, error)
}

// SendOptions describes one outbound message for the provider boundary.
type SendOptions struct {
	To              string
	ToName          string
	Subject         string
	HTMLBody        string
	TextBody        string
	InReplyTo       string
	References      string
	ThreadID        string
	TrackingID      string
	TrackingEnabled bool
}

// SendResult is the provider's acknowledgement of an accepted message.
type SendResult struct {
	ProviderMessageID string
	ProviderThreadID  string
	SentAt            time.Time
}

// MailSender delivers messages through the provider for one account.
type MailSender interface {
	SendEmail(ctx context.Context, opts SendOptions) (*SendResult, error)
}

// TokenProvider returns a usable access token for an account, refreshing
// when the stored one is expired or about to expire.
type TokenProvider interface {
	GetValidToken(ctx context.Context, account *entity.Account) (string, error)
}

// FetcherFactory builds a fetcher bound to one account's credentials.
type FetcherFactory func(ctx context.Context, account *entity.Account, accessToken string) (MailFetcher, error)

// SenderFactory builds a sender bound to one account's credentials.
type SenderFactory func(ctx context.Context, account *entity.Account, accessToken string) (MailSender, error)
