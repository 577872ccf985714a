package entity

import "time"

// Sync run terminal status
const (
	RunCompleted = "completed"
	RunPartial   = "partial"
	RunFailed    = "failed"
)

// Sync run trigger sources
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// AccountSyncResult records one account's outcome within a run.
type AccountSyncResult struct {
	AccountID    string `bson:"accountId"`
	EmailAddress string `bson:"emailAddress"`
	Backfill     bool   `bson:"backfill"`
	Fetched      int    `bson:"fetched"`
	Created      int    `bson:"created"`
	// Analyzed counts emails annotated downstream. The analysis collaborator
	// lives outside this service, so the engine records zero here.
	Analyzed   int    `bson:"analyzed"`
	DurationMs int64  `bson:"durationMs"`
	Success    bool   `bson:"success"`
	Error      string `bson:"error,omitempty"`
}

// SyncRun is the audit record of one orchestrator invocation.
type SyncRun struct {
	ID                string              `bson:"_id"`
	Trigger           string              `bson:"trigger"`
	Status            string              `bson:"status"`
	AccountsProcessed int                 `bson:"accountsProcessed"`
	AccountsSucceeded int                 `bson:"accountsSucceeded"`
	AccountsFailed    int                 `bson:"accountsFailed"`
	EmailsFetched     int                 `bson:"emailsFetched"`
	EmailsCreated     int                 `bson:"emailsCreated"`
	EmailsAnalyzed    int                 `bson:"emailsAnalyzed"`
	DurationMs        int64               `bson:"durationMs"`
	Results           []AccountSyncResult `bson:"results"`
	StartedAt         time.Time           `bson:"startedAt"`
	CompletedAt       time.Time           `bson:"completedAt"`
}
