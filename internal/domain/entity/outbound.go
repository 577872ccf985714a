package entity

import "time"

// Outbound email lifecycle status. Transitions are one-directional except
// failed -> scheduled for bounded retry.
const (
	OutboundQueued    = "queued"
	OutboundScheduled = "scheduled"
	OutboundSending   = "sending"
	OutboundSent      = "sent"
	OutboundFailed    = "failed"
)

// Follow-up conditions
const (
	FollowUpNoReply = "no_reply"
	FollowUpNoOpen  = "no_open"
	FollowUpAlways  = "always"
)

// OutboundEmail is a message queued or sent by an account.
type OutboundEmail struct {
	ID                string
	AccountID         string
	UserID            string
	ToEmail           string
	ToName            string
	Subject           string
	HTMLBody          string
	TextBody          string
	Status            string
	ScheduledAt       *time.Time
	SentAt            *time.Time
	ProviderMessageID string
	ProviderThreadID  string
	TrackingID        string
	TrackingEnabled   bool
	OpenCount         int
	HasReply          bool
	RetryCount        int
	LastError         string
	ParentEmailID     *string
	CampaignID        *string

	FollowUpEnabled   bool
	FollowUpSent      bool
	FollowUpCondition string
	FollowUpDelayDays int
	FollowUpBody      string

	CreatedAt time.Time
	UpdatedAt time.Time
}
