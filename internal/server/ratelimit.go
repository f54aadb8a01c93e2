package server

import (
	"sync"
	"time"
)

const (
	ipPerMinute       = 60
	ipPerHour         = 500
	instancePerMinute = 120
)

type bucket struct {
	windowStart time.Time
	count       int
}

// RateLimiter enforces three independent fixed-window limits: per-IP per
// minute, per-IP per hour and per-instance per minute.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		buckets: map[string]*bucket{},
		now:     time.Now,
	}
}

// take counts one hit against a keyed window. Returns false plus seconds
// until the window resets when the limit is exceeded.
func (l *RateLimiter) take(key string, window time.Duration, limit int) (bool, int) {
	now := l.now()
	b, ok := l.buckets[key]
	if !ok || now.Sub(b.windowStart) >= window {
		b = &bucket{windowStart: now}
		l.buckets[key] = b
	}
	b.count++
	if b.count > limit {
		retry := int(window.Seconds() - now.Sub(b.windowStart).Seconds())
		if retry < 1 {
			retry = 1
		}
		return false, retry
	}
	return true, 0
}

// Check counts one request. On denial it reports the seconds to wait and
// which limit fired.
func (l *RateLimiter) Check(ip, instance string) (allowed bool, retryAfter int, kind string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ok, retry := l.take("ip-min:"+ip, time.Minute, ipPerMinute); !ok {
		return false, retry, "ip_per_minute"
	}
	if ok, retry := l.take("ip-hour:"+ip, time.Hour, ipPerHour); !ok {
		return false, retry, "ip_per_hour"
	}
	if instance != "" {
		if ok, retry := l.take("inst-min:"+instance, time.Minute, instancePerMinute); !ok {
			return false, retry, "instance_per_minute"
		}
	}
	return true, 0, ""
}

// Prune drops buckets whose window ended, bounding memory on long runs.
func (l *RateLimiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, b := range l.buckets {
		if now.Sub(b.windowStart) >= time.Hour {
			delete(l.buckets, key)
		}
	}
}
