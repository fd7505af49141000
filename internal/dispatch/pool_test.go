package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/logger"
	apperrors "relay/pkg/errors"
	"relay/pkg/models"
	"relay/pkg/retry"
)

type countingHandler struct {
	mu      sync.Mutex
	events  []string
	err     error
	release chan struct{}
}

func (h *countingHandler) Dispatch(_ context.Context, evt *models.InboundEvent) (Summary, error) {
	if h.release != nil {
		<-h.release
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, evt.EventType)
	return Summary{Outcome: OutcomeProcessed}, h.err
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func TestPool_ProcessesQueuedEvents(t *testing.T) {
	h := &countingHandler{}
	p := NewPool(h, PoolConfig{Workers: 2, QueueSize: 8}, logger.NopLogger())
	p.Start(context.Background())

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Process(context.Background(), dealUpdated()))
	}
	p.Stop()

	assert.Equal(t, 5, h.count())
}

func TestPool_InlineFallbackWhenNotStarted(t *testing.T) {
	h := &countingHandler{}
	p := NewPool(h, PoolConfig{}, logger.NopLogger())

	assert.False(t, p.Submit(context.Background(), dealUpdated()))
	require.NoError(t, p.Process(context.Background(), dealUpdated()))

	assert.Equal(t, 1, h.count())
}

func TestPool_InlineFallbackWhenFull(t *testing.T) {
	h := &countingHandler{release: make(chan struct{})}
	p := NewPool(h, PoolConfig{Workers: 1, QueueSize: 1}, logger.NopLogger())
	p.Start(context.Background())

	// One event occupies the worker, one fills the queue.
	require.True(t, p.Submit(context.Background(), dealUpdated()))
	require.Eventually(t, func() bool { return len(p.jobs) == 0 }, time.Second, time.Millisecond)
	require.True(t, p.Submit(context.Background(), dealUpdated()))
	assert.False(t, p.Submit(context.Background(), dealUpdated()))

	close(h.release)
	require.NoError(t, p.Process(context.Background(), dealUpdated()))
	p.Stop()

	assert.Equal(t, 3, h.count())
}

func TestPool_SubmitAfterStop(t *testing.T) {
	p := NewPool(&countingHandler{}, PoolConfig{}, logger.NopLogger())
	p.Start(context.Background())
	p.Stop()
	p.Stop()

	assert.False(t, p.Submit(context.Background(), dealUpdated()))
}

func TestPool_HandleEnvelope(t *testing.T) {
	valid, err := json.Marshal(dealUpdated())
	require.NoError(t, err)

	tests := []struct {
		name       string
		payload    json.RawMessage
		handlerErr error
		wantErr    bool
		wantFatal  bool
		wantCalls  int
	}{
		{name: "valid event", payload: valid, wantCalls: 1},
		{name: "malformed payload", payload: json.RawMessage(`{"event":`), wantErr: true, wantFatal: true},
		{name: "missing event type", payload: json.RawMessage(`{"current":{}}`), wantErr: true, wantFatal: true},
		{name: "fatal dispatch error dropped", payload: valid, handlerErr: apperrors.ErrQuotaExceeded, wantCalls: 1},
		{name: "transient dispatch error returned", payload: valid, handlerErr: errors.New("db down"), wantErr: true, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &countingHandler{err: tt.handlerErr}
			p := NewPool(h, PoolConfig{}, logger.NopLogger())

			err := p.HandleEnvelope(context.Background(), models.Envelope{ID: "env-1", Payload: tt.payload})

			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantFatal, retry.IsFatal(err))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, h.count())
		})
	}
}

type panickingHandler struct{}

func (panickingHandler) Dispatch(context.Context, *models.InboundEvent) (Summary, error) {
	panic("boom")
}

func TestPool_RecoversHandlerPanic(t *testing.T) {
	p := NewPool(panickingHandler{}, PoolConfig{}, logger.NopLogger())

	err := p.Process(context.Background(), dealUpdated())

	require.Error(t, err)
}
