package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLogFields_Order(t *testing.T) {
	ctx := context.Background()
	ctx = WithServiceName(ctx, "relay-service")
	ctx = WithTenantID(ctx, "tenant-1")
	ctx = WithCorrelationID(ctx, "corr-1")
	ctx = WithEventType(ctx, "deal.updated")

	fields := GetLogFields(ctx)

	assert.Equal(t, []interface{}{
		"correlation_id", "corr-1",
		"tenant_id", "tenant-1",
		"event_type", "deal.updated",
		"service_name", "relay-service",
	}, fields)
}

func TestWithValue_EmptyIsIgnored(t *testing.T) {
	ctx := WithTenantID(context.Background(), "")

	assert.Empty(t, GetTenantID(ctx))
	assert.Empty(t, GetLogFields(ctx))
}
