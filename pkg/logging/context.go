package logging

import (
	"context"
)

type contextKey string

const (
	TraceIDKey       = "trace_id"
	CorrelationIDKey = "correlation_id"
	TenantIDKey      = "tenant_id"
	EventTypeKey     = "event_type"
	ServiceNameKey   = "service_name"
)

// logFieldKeys fixes the order in which context fields are emitted.
var logFieldKeys = []string{TraceIDKey, CorrelationIDKey, TenantIDKey, EventTypeKey, ServiceNameKey}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return withValue(ctx, TraceIDKey, traceID)
}

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return withValue(ctx, CorrelationIDKey, correlationID)
}

func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return withValue(ctx, TenantIDKey, tenantID)
}

func WithEventType(ctx context.Context, eventType string) context.Context {
	return withValue(ctx, EventTypeKey, eventType)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return withValue(ctx, ServiceNameKey, serviceName)
}

func GetTraceID(ctx context.Context) string {
	return getValue(ctx, TraceIDKey)
}

func GetCorrelationID(ctx context.Context) string {
	return getValue(ctx, CorrelationIDKey)
}

func GetTenantID(ctx context.Context) string {
	return getValue(ctx, TenantIDKey)
}

func GetEventType(ctx context.Context) string {
	return getValue(ctx, EventTypeKey)
}

func GetServiceName(ctx context.Context) string {
	return getValue(ctx, ServiceNameKey)
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 2*len(logFieldKeys))

	for _, key := range logFieldKeys {
		if value := getValue(ctx, key); value != "" {
			fields = append(fields, key, value)
		}
	}

	return fields
}

func withValue(ctx context.Context, key, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, contextKey(key), value)
}

func getValue(ctx context.Context, key string) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(contextKey(key)).(string); ok {
		return value
	}
	return ""
}
