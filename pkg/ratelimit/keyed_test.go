package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyed_BurstPerKey(t *testing.T) {
	k := NewKeyed(Config{RPS: 0.001, Burst: 2, MaxAge: time.Minute})

	assert.True(t, k.Allow("hooks.slack.com"))
	assert.True(t, k.Allow("hooks.slack.com"))
	assert.False(t, k.Allow("hooks.slack.com"))

	assert.True(t, k.Allow("chat.example.com"))
	assert.Equal(t, 2, k.Len())
}

func TestKeyed_ZeroRPSIsUnlimited(t *testing.T) {
	k := NewKeyed(Config{RPS: 0, Burst: 1})
	for i := 0; i < 10; i++ {
		assert.True(t, k.Allow("a"))
	}
}

func TestKeyed_WaitHonoursContext(t *testing.T) {
	k := NewKeyed(Config{RPS: 0.001, Burst: 1, MaxAge: time.Minute})
	assert.NoError(t, k.Wait(context.Background(), "a"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, k.Wait(ctx, "a"))
}

func TestKeyed_Evict(t *testing.T) {
	k := NewKeyed(Config{RPS: 1, Burst: 1, MaxAge: time.Millisecond})
	k.Allow("a")
	time.Sleep(5 * time.Millisecond)

	assert.Equal(t, 1, k.Evict())
	assert.Equal(t, 0, k.Len())
}
