//go:build integration

package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"relay/internal/constants"
	"relay/internal/testinfra"
	"relay/pkg/migrations"
)

func TestMongoSink_Record(t *testing.T) {
	db := testinfra.Mongo(t)
	ctx := context.Background()
	require.NoError(t, migrations.EnsureAuditIndexes(ctx, db))

	sink := NewMongoSink(db)
	scheduled := time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond)
	err := sink.Record(ctx, Entry{
		ID:           "log-1",
		TenantID:     "t-1",
		EventType:    "deal.updated",
		Payload:      json.RawMessage(`{"event":"deal.updated","current":{"value":10}}`),
		Status:       StatusPending,
		Reason:       ReasonQuietHours,
		ScheduledFor: &scheduled,
		CreatedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)

	var doc bson.M
	require.NoError(t, db.Collection(constants.AuditCollection).FindOne(ctx, bson.M{"_id": "log-1"}).Decode(&doc))
	assert.Equal(t, "pending", doc["status"])
	assert.Equal(t, "quiet_hours", doc["reason"])
	payload, ok := doc["payload"].(bson.M)
	require.True(t, ok)
	assert.Equal(t, "deal.updated", payload["event"])
}
