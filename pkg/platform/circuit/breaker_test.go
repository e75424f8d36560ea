package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func openBreaker(t *testing.T, opts ...Option) (*Breaker, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	b := New("inventory-cache", append([]Option{WithFailureThreshold(1), WithClock(clk.now)}, opts...)...)
	fallback, change := b.RecordFailure()
	require.True(t, fallback)
	require.True(t, change.Opened)
	return b, clk
}

func TestBreakerStartsClosed(t *testing.T) {
	b := New("inventory-cache")
	assert.Equal(t, "inventory-cache", b.Name())
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerOpensOnConsecutiveFailures(t *testing.T) {
	b := New("inventory-cache", WithFailureThreshold(3))

	for i := 0; i < 2; i++ {
		fallback, change := b.RecordFailure()
		assert.False(t, fallback)
		assert.False(t, change.Opened)
	}
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.IsOpen(), "a success in between resets the streak")

	fallback, change := b.RecordFailure()
	assert.True(t, fallback)
	assert.True(t, change.Opened)
	assert.Equal(t, "open", b.State().String())

	_, change = b.RecordFailure()
	assert.False(t, change.Opened, "already open")
}

func TestBreakerProbesOncePerCooldown(t *testing.T) {
	b, clk := openBreaker(t, WithCooldown(5*time.Second))

	assert.False(t, b.Allow())
	clk.advance(5 * time.Second)
	assert.True(t, b.Allow())
	assert.False(t, b.Allow(), "second caller in the same window is held back")

	clk.advance(5 * time.Second)
	assert.True(t, b.Allow())
}

func TestBreakerClosesAfterSuccessStreak(t *testing.T) {
	b, _ := openBreaker(t, WithSuccessThreshold(2))

	primary, change := b.RecordSuccess()
	assert.False(t, primary)
	assert.False(t, change.Closed)

	b.RecordFailure()
	primary, _ = b.RecordSuccess()
	assert.False(t, primary, "failure restarts the success streak")

	primary, change = b.RecordSuccess()
	assert.True(t, primary)
	assert.True(t, change.Closed)
	assert.True(t, b.Allow())
}
