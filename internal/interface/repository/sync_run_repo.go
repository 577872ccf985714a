package repository

import (
	"context"

	"mailpilot-service/internal/domain/entity"
	"mailpilot-service/internal/domain/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoSyncRunRepository implements the SyncRunRepository interface
type MongoSyncRunRepository struct {
	collection *mongo.Collection
}

// NewMongoSyncRunRepository creates a new MongoDB sync run repository
func NewMongoSyncRunRepository(db *mongo.Database) repository.SyncRunRepository {
	collection := db.Collection("syncRuns")

	ctx := context.Background()

	startedAtIndex := mongo.IndexModel{
		Keys: bson.M{"startedAt": -1},
	}

	collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		startedAtIndex,
	})

	return &MongoSyncRunRepository{
		collection: collection,
	}
}

// Save stores a completed run record
func (r *MongoSyncRunRepository) Save(ctx context.Context, run *entity.SyncRun) error {
	_, err := r.collection.InsertOne(ctx, run)
	return err
}

// FindRecent returns the latest runs, newest first
func (r *MongoSyncRunRepository) FindRecent(ctx context.Context, limit int) ([]*entity.SyncRun, error) {
	limit64 := int64(limit)
	cursor, err := r.collection.Find(ctx, bson.M{}, &options.FindOptions{
		Limit: &limit64,
		Sort:  bson.D{{Key: "startedAt", Value: -1}},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var runs []*entity.SyncRun
	if err := cursor.All(ctx, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}
