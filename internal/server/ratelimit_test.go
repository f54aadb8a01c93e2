package server

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestLimiter(start time.Time) (*RateLimiter, *time.Time) {
	now := start
	l := NewRateLimiter()
	l.now = func() time.Time { return now }
	return l, &now
}

func TestRateLimitPerIPMinute(t *testing.T) {
	l, _ := newTestLimiter(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < ipPerMinute; i++ {
		allowed, _, _ := l.Check("1.2.3.4", "personal")
		assert.True(t, allowed, "request %d", i)
	}

	allowed, retry, kind := l.Check("1.2.3.4", "personal")
	assert.False(t, allowed)
	assert.Equal(t, "ip_per_minute", kind)
	assert.GreaterOrEqual(t, retry, 1)
	assert.LessOrEqual(t, retry, 60)

	// Another client is unaffected.
	allowed, _, _ = l.Check("5.6.7.8", "personal")
	assert.True(t, allowed)
}

func TestRateLimitWindowResets(t *testing.T) {
	l, now := newTestLimiter(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	for i := 0; i < ipPerMinute; i++ {
		l.Check("1.2.3.4", "")
	}
	allowed, _, _ := l.Check("1.2.3.4", "")
	assert.False(t, allowed)

	*now = now.Add(61 * time.Second)
	allowed, _, _ = l.Check("1.2.3.4", "")
	assert.True(t, allowed)
}

func TestRateLimitPerInstance(t *testing.T) {
	l, _ := newTestLimiter(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	// Spread across IPs so only the instance window can fire.
	for i := 0; i < instancePerMinute; i++ {
		ip := fmt.Sprintf("10.0.%d.%d", i/50, i%50)
		allowed, _, _ := l.Check(ip, "personal")
		assert.True(t, allowed, "request %d", i)
	}

	allowed, _, kind := l.Check("10.0.99.1", "personal")
	assert.False(t, allowed)
	assert.Equal(t, "instance_per_minute", kind)
}

func TestRateLimitPerIPHour(t *testing.T) {
	l, now := newTestLimiter(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	// Step past each minute window so only the hourly budget accumulates.
	count := 0
	for count < ipPerHour {
		for i := 0; i < ipPerMinute && count < ipPerHour; i++ {
			allowed, _, _ := l.Check("1.2.3.4", "")
			assert.True(t, allowed, "request %d", count)
			count++
		}
		*now = now.Add(time.Minute)
	}

	allowed, retry, kind := l.Check("1.2.3.4", "")
	assert.False(t, allowed)
	assert.Equal(t, "ip_per_hour", kind)
	assert.LessOrEqual(t, retry, 3600)
}

func TestPruneDropsExpiredBuckets(t *testing.T) {
	l, now := newTestLimiter(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	l.Check("1.2.3.4", "personal")
	assert.NotEmpty(t, l.buckets)

	*now = now.Add(2 * time.Hour)
	l.Prune()
	assert.Empty(t, l.buckets)
}
