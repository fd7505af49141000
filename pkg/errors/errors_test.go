package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCode(t *testing.T) {
	wrapped := fmt.Errorf("dispatch: %w", ErrQuotaExceeded.WithDetail("usage", 100))

	assert.True(t, IsCode(wrapped, ErrQuotaExceeded))
	assert.False(t, IsCode(wrapped, ErrCircuitOpen))
	assert.False(t, IsCode(errors.New("plain"), ErrQuotaExceeded))
	assert.False(t, IsCode(wrapped, nil))
	assert.Equal(t, "QUOTA_EXCEEDED", CodeOf(wrapped))
	assert.Empty(t, CodeOf(errors.New("plain")))
}

func TestWithDetailDoesNotMutateSentinel(t *testing.T) {
	_ = ErrAllTiersFailed.WithDetail("tier_1", "timeout")
	assert.Empty(t, ErrAllTiersFailed.Details)
}

func TestRetryability(t *testing.T) {
	tests := []struct {
		name      string
		err       *Error
		retryable bool
	}{
		{name: "transient delivery", err: ErrTransientDelivery, retryable: true},
		{name: "quota exceeded", err: ErrQuotaExceeded, retryable: false},
		{name: "unresolved tenant", err: ErrUnresolvedTenant, retryable: false},
		{name: "validation", err: ErrValidation, retryable: false},
		{name: "internal", err: ErrInternal, retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.err.IsRetryable())
			assert.Equal(t, !tt.retryable, tt.err.IsFatal())
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := ErrTransientDelivery.WithCause(errors.New("status 503"))
	assert.Equal(t, "TRANSIENT_DELIVERY: transient delivery failure (caused by: status 503)", err.Error())
	assert.Equal(t, 502, ToHTTPStatus(err))
}
