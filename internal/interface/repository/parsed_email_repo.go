package repository

import (
	"context"
	"time"

	"mailpilot-service/internal/domain/entity"
	"mailpilot-service/internal/domain/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoParsedEmailRepository implements the ParsedEmailRepository interface
type MongoParsedEmailRepository struct {
	collection *mongo.Collection
}

// NewMongoParsedEmailRepository creates a new MongoDB parsed email repository
func NewMongoParsedEmailRepository(db *mongo.Database) repository.ParsedEmailRepository {
	collection := db.Collection("parsedEmails")

	// Create indexes for better performance
	ctx := context.Background()

	messageIDIndex := mongo.IndexModel{
		Keys:    bson.M{"messageId": 1},
		Options: options.Index().SetUnique(true),
	}

	// Index on receivedAt for sorting and filtering
	receivedAtIndex := mongo.IndexModel{
		Keys: bson.M{"receivedAt": -1},
	}

	threadIndex := mongo.IndexModel{
		Keys: bson.M{"threadId": 1},
	}

	collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		messageIDIndex,
		receivedAtIndex,
		threadIndex,
	})

	return &MongoParsedEmailRepository{
		collection: collection,
	}
}

// SaveBatch inserts only the emails not already stored and returns the
// number of new documents created.
func (r *MongoParsedEmailRepository) SaveBatch(ctx context.Context, emails []*entity.ParsedEmail) (int, error) {
	if len(emails) == 0 {
		return 0, nil
	}

	messageIDs := make([]string, 0, len(emails))
	for _, email := range emails {
		messageIDs = append(messageIDs, email.MessageID)
	}

	existing, err := r.FindByMessageIDs(ctx, messageIDs)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	docs := make([]interface{}, 0, len(emails))
	for _, email := range emails {
		if _, ok := existing[email.MessageID]; ok {
			continue
		}
		if email.SyncedAt.IsZero() {
			email.SyncedAt = now
		}
		docs = append(docs, email)
	}

	if len(docs) == 0 {
		return 0, nil
	}

	// Unordered insert so one duplicate slipping past the pre-check does
	// not abort the rest of the batch.
	unordered := false
	result, err := r.collection.InsertMany(ctx, docs, &options.InsertManyOptions{Ordered: &unordered})
	if result != nil && mongo.IsDuplicateKeyError(err) {
		return len(result.InsertedIDs), nil
	}
	if err != nil {
		return 0, err
	}
	return len(result.InsertedIDs), nil
}

// FindByMessageIDs returns the stored emails among the given provider ids
func (r *MongoParsedEmailRepository) FindByMessageIDs(ctx context.Context, messageIDs []string) (map[string]*entity.ParsedEmail, error) {
	found := make(map[string]*entity.ParsedEmail)
	if len(messageIDs) == 0 {
		return found, nil
	}

	cursor, err := r.collection.Find(ctx, bson.M{"messageId": bson.M{"$in": messageIDs}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var emails []*entity.ParsedEmail
	if err := cursor.All(ctx, &emails); err != nil {
		return nil, err
	}

	for _, email := range emails {
		found[email.MessageID] = email
	}
	return found, nil
}

// GetLastReceived returns the most recently received stored email
func (r *MongoParsedEmailRepository) GetLastReceived(ctx context.Context) (*entity.ParsedEmail, error) {
	var email entity.ParsedEmail
	err := r.collection.FindOne(ctx, bson.M{}, &options.FindOneOptions{
		Sort: bson.D{{Key: "receivedAt", Value: -1}},
	}).Decode(&email)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &email, nil
}
