package exchange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffPolicy_Next_GrowsAndCaps(t *testing.T) {
	b := BackoffPolicy{Initial: time.Second, Factor: 2, Cap: 5 * time.Second, MaxAttempts: 0}

	d, ok := b.Next(0)
	assert.True(t, ok)
	assert.Equal(t, time.Second, d)

	d, ok = b.Next(1)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, d)

	d, ok = b.Next(3)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Second, d, "should cap rather than keep growing")
}

func TestBackoffPolicy_Next_ExhaustsAttemptBudget(t *testing.T) {
	b := BackoffPolicy{Initial: time.Second, Factor: 2, Cap: time.Minute, MaxAttempts: 2}

	_, ok := b.Next(0)
	assert.True(t, ok)
	_, ok = b.Next(1)
	assert.True(t, ok)
	_, ok = b.Next(2)
	assert.False(t, ok, "attempt budget of 2 is exhausted at the third attempt")
}

func TestDefaultBackoff(t *testing.T) {
	b := DefaultBackoff()
	assert.Equal(t, 5*time.Second, b.Initial)
	assert.Equal(t, 2.0, b.Factor)
	assert.Equal(t, time.Minute, b.Cap)
	assert.Equal(t, 5, b.MaxAttempts)
}
