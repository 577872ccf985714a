package entity

import "time"

// Campaign status
const (
	CampaignDraft     = "draft"
	CampaignActive    = "active"
	CampaignPaused    = "paused"
	CampaignCompleted = "completed"
	CampaignCancelled = "cancelled"
)

// Campaign recipient status
const (
	RecipientPending = "pending"
	RecipientSent    = "sent"
	RecipientFailed  = "failed"
)

// Campaign groups many recipients against one template and one account.
// Invariant: SentCount + FailedCount <= TotalRecipients; status becomes
// completed only when no recipient remains pending.
type Campaign struct {
	ID              string
	UserID          string
	AccountID       string
	Name            string
	Subject         string
	HTMLBody        string
	TextBody        string
	Status          string
	TotalRecipients int
	SentCount       int
	FailedCount     int
	TrackingEnabled bool
	LastSentAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CampaignRecipient is one planned send with per-recipient merge data.
type CampaignRecipient struct {
	ID              string
	CampaignID      string
	Email           string
	Name            string
	MergeData       map[string]string
	Status          string
	OutboundEmailID *string
	RetryCount      int
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
