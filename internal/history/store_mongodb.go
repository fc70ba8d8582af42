package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const mongoCollection = "prompt_history"

// MongoDBStore implements Store for MongoDB.
type MongoDBStore struct {
	collection *mongo.Collection
}

// NewMongoDBStore creates a new MongoDB exchange store.
// It creates indexes on the collection if they don't exist.
func NewMongoDBStore(database *mongo.Database) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}

	collection := database.Collection(mongoCollection)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "model", Value: 1}}},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		// Indexes may already exist
		slog.Warn("failed to create some MongoDB indexes", "error", err)
	}

	return &MongoDBStore{collection: collection}, nil
}

// WriteBatch writes multiple exchanges to MongoDB using an unordered
// InsertMany so one bad document doesn't block the rest.
func (s *MongoDBStore) WriteBatch(ctx context.Context, exchanges []*Exchange) error {
	if len(exchanges) == 0 {
		return nil
	}

	docs := make([]interface{}, len(exchanges))
	for i, ex := range exchanges {
		docs[i] = exchangeToDocument(ex)
	}

	opts := options.InsertMany().SetOrdered(false)
	if _, err := s.collection.InsertMany(ctx, docs, opts); err != nil {
		if bulkErr, ok := err.(mongo.BulkWriteException); ok {
			slog.Warn("partial exchange insert failure",
				"total", len(exchanges),
				"failed", len(bulkErr.WriteErrors),
			)
			return nil
		}
		return fmt.Errorf("failed to insert exchanges: %w", err)
	}

	return nil
}

// exchangeToDocument converts an Exchange to a BSON document. The JSON
// payloads are stored as native documents so they stay queryable.
func exchangeToDocument(ex *Exchange) bson.M {
	return bson.M{
		"_id":               ex.ID,
		"timestamp":         ex.Timestamp,
		"model":             ex.Model,
		"messages":          ex.Messages,
		"response":          rawJSONToBSON(ex.Response, ex.ID),
		"raw_response":      rawJSONToBSON(ex.RawResponse, ex.ID),
		"total_tokens":      ex.TotalTokens,
		"response_ms":       ex.ResponseMs,
		"created":           ex.Created,
		"prompt_tokens":     ex.PromptTokens,
		"completion_tokens": ex.CompletionTokens,
	}
}

// rawJSONToBSON decodes raw JSON for native BSON storage, degrading to a
// string value when the payload isn't valid JSON.
func rawJSONToBSON(raw json.RawMessage, id string) interface{} {
	if len(raw) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		slog.Warn("storing non-JSON exchange payload as string", "id", id, "error", err)
		return string(raw)
	}
	return v
}

// Flush is a no-op for MongoDB as writes are synchronous.
func (s *MongoDBStore) Flush(_ context.Context) error {
	return nil
}

// Close is a no-op; the client is owned by the storage layer.
func (s *MongoDBStore) Close() error {
	return nil
}
