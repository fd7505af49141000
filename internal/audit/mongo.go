package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"relay/internal/constants"
)

type MongoSink struct {
	collection *mongo.Collection
}

func NewMongoSink(db *mongo.Database) *MongoSink {
	return &MongoSink{collection: db.Collection(constants.AuditCollection)}
}

func (s *MongoSink) Name() string {
	return constants.AuditBackendMongoDB
}

// mongoEntry stores the payload as a document rather than raw bytes so it stays queryable.
type mongoEntry struct {
	Entry   `bson:",inline"`
	Payload bson.M `bson:"payload,omitempty"`
}

func (s *MongoSink) Record(ctx context.Context, entry Entry) error {
	doc := mongoEntry{Entry: entry}
	if len(entry.Payload) > 0 {
		var payload bson.M
		if err := json.Unmarshal(entry.Payload, &payload); err == nil {
			doc.Payload = payload
		}
	}

	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert notification log: %w", err)
	}
	return nil
}
