package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sweetpotato0/ai-router/conversation"
	"github.com/sweetpotato0/ai-router/errors"
)

// MongoStore keeps one document per conversation: {_id, name, messages}.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

var _ conversation.Store = (*MongoStore)(nil)

// MongoConfig holds MongoDB connection configuration
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// DefaultMongoConfig returns default MongoDB configuration
func DefaultMongoConfig() *MongoConfig {
	return &MongoConfig{
		URI:        "mongodb://localhost:27017",
		Database:   "ai_router",
		Collection: "conversations",
	}
}

// NewMongoStore connects to MongoDB and returns a conversation store.
func NewMongoStore(ctx context.Context, config *MongoConfig) (*MongoStore, error) {
	if config == nil {
		config = DefaultMongoConfig()
	}
	if config.Database == "" {
		config.Database = "ai_router"
	}
	if config.Collection == "" {
		config.Collection = "conversations"
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &MongoStore{
		client:     client,
		collection: client.Database(config.Database).Collection(config.Collection),
	}, nil
}

// Get loads a conversation document.
func (s *MongoStore) Get(ctx context.Context, id string) (*conversation.Conversation, error) {
	var c conversation.Conversation
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("conversation %s: %w", id, errors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return &c, nil
}

// Save upserts the conversation document.
func (s *MongoStore) Save(ctx context.Context, c *conversation.Conversation) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("conversation cannot be nil")
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection.ReplaceOne(ctx, bson.M{"_id": c.ID}, c, opts); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// List returns id and name of every conversation.
func (s *MongoStore) List(ctx context.Context) ([]conversation.Summary, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1, "name": 1}).SetSort(bson.M{"_id": 1})
	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		ID   string `bson:"_id"`
		Name string `bson:"name"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	out := make([]conversation.Summary, 0, len(docs))
	for _, d := range docs {
		out = append(out, conversation.Summary{ID: d.ID, Name: d.Name})
	}
	return out, nil
}

// Delete removes a conversation document.
func (s *MongoStore) Delete(ctx context.Context, id string) error {
	if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// Ping checks if MongoDB connection is alive
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close closes the MongoDB connection
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
