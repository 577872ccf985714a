package entity

import "time"

// Account identifies a connected mailbox. The access token is short-lived
// and rewritten on every refresh; the refresh token is long-lived and must
// never be overwritten with an empty value.
type Account struct {
	ID            string
	UserID        string
	EmailAddress  string
	AccessToken   string
	RefreshToken  string
	TokenExpiry   time.Time
	LastSyncAt    time.Time
	LastHistoryID uint64
	NeedsBackfill bool
	CanSend       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SyncConfig controls a single fetch call. Not persisted. Whether a fetch
// is a backfill page or an incremental window is decided by the caller
// through Query/MaxResults/PageToken.
type SyncConfig struct {
	MaxResults    int64
	Query         string
	LabelIDs      []string
	BodySizeLimit int
	PageToken     string
}
