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

	"promptkeeper/internal/core"
)

// MongoDBReader implements Reader for MongoDB.
type MongoDBReader struct {
	collection *mongo.Collection
}

// NewMongoDBReader creates a new MongoDB exchange reader.
func NewMongoDBReader(database *mongo.Database) (*MongoDBReader, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &MongoDBReader{collection: database.Collection(mongoCollection)}, nil
}

// exchangeDocument mirrors the stored BSON shape; response payloads come
// back as native documents and are re-encoded to JSON for the Exchange.
type exchangeDocument struct {
	ID               string         `bson:"_id"`
	Timestamp        time.Time      `bson:"timestamp"`
	Model            string         `bson:"model"`
	Messages         []core.Message `bson:"messages"`
	Response         interface{}    `bson:"response"`
	RawResponse      interface{}    `bson:"raw_response"`
	TotalTokens      int            `bson:"total_tokens"`
	ResponseMs       int64          `bson:"response_ms"`
	Created          int64          `bson:"created"`
	PromptTokens     int            `bson:"prompt_tokens"`
	CompletionTokens int            `bson:"completion_tokens"`
}

// ListSince returns exchanges recorded at or after since, newest first.
// A zero since returns all exchanges.
func (r *MongoDBReader) ListSince(ctx context.Context, since time.Time) ([]Exchange, error) {
	filter := bson.M{}
	if !since.IsZero() {
		filter["timestamp"] = bson.M{"$gte": since.UTC()}
	}

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt history: %w", err)
	}
	defer cursor.Close(ctx)

	exchanges := make([]Exchange, 0)
	for cursor.Next(ctx) {
		var doc exchangeDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode prompt history document: %w", err)
		}

		ex := Exchange{
			ID:               doc.ID,
			Timestamp:        doc.Timestamp,
			Model:            doc.Model,
			Messages:         doc.Messages,
			Response:         bsonToRawJSON(doc.Response, doc.ID),
			RawResponse:      bsonToRawJSON(doc.RawResponse, doc.ID),
			TotalTokens:      doc.TotalTokens,
			ResponseMs:       doc.ResponseMs,
			Created:          doc.Created,
			PromptTokens:     doc.PromptTokens,
			CompletionTokens: doc.CompletionTokens,
		}
		if ex.Messages == nil {
			ex.Messages = []core.Message{}
		}

		exchanges = append(exchanges, ex)
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prompt history documents: %w", err)
	}

	return exchanges, nil
}

// bsonToRawJSON re-encodes a decoded BSON value as relaxed JSON, degrading
// to nil on failure rather than aborting the query.
func bsonToRawJSON(v interface{}, id string) json.RawMessage {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		// Payload was stored as a raw string fallback
		return json.RawMessage(s)
	}
	b, err := bson.MarshalExtJSON(v, false, false)
	if err != nil {
		slog.Warn("failed to re-encode stored response", "id", id, "error", err)
		return nil
	}
	return b
}
