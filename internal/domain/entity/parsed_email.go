package entity

import "time"

// ParsedEmail is a provider message converted at the fetch boundary and
// handed to the persistence collaborator.
type ParsedEmail struct {
	MessageID  string    `bson:"messageId"`
	ThreadID   string    `bson:"threadId"`
	From       string    `bson:"from"`
	To         string    `bson:"to"`
	Subject    string    `bson:"subject"`
	Body       string    `bson:"body"`
	HTMLBody   string    `bson:"htmlBody"`
	Snippet    string    `bson:"snippet"`
	Labels     []string  `bson:"labels"`
	InReplyTo  string    `bson:"inReplyTo"`
	References string    `bson:"references"`
	IsRead     bool      `bson:"isRead"`
	IsStarred  bool      `bson:"isStarred"`
	ReceivedAt time.Time `bson:"receivedAt"`
	SyncedAt   time.Time `bson:"syncedAt"`
}
