package ratelimiter

import (
	"strings"
	"sync"
	"time"
)

// RatePolicy allows MaxAttempts per sliding Window
type RatePolicy struct {
	MaxAttempts int
	Window      time.Duration
}

// RateLimiter is an in-memory sliding window limiter keyed by namespace and key, e.g.
// ("analytics", tenantID). Namespaces without a policy deny every request.
type RateLimiter struct {
	mu          sync.Mutex
	attempts    map[string][]time.Time // "namespace:key" -> attempt times, oldest first
	policies    map[string]RatePolicy
	stopCleanup chan struct{}
	stopOnce    sync.Once
	now         func() time.Time
}

// NewRateLimiter creates a limiter that drops idle keys every cleanupInterval. An interval
// of zero disables the sweep.
func NewRateLimiter(cleanupInterval time.Duration) *RateLimiter {
	rl := &RateLimiter{
		attempts:    make(map[string][]time.Time),
		policies:    make(map[string]RatePolicy),
		stopCleanup: make(chan struct{}),
		now:         time.Now,
	}

	if cleanupInterval > 0 {
		go rl.cleanupLoop(cleanupInterval)
	}

	return rl
}

// SetPolicy configures a namespace
func (rl *RateLimiter) SetPolicy(namespace string, maxAttempts int, window time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.policies[namespace] = RatePolicy{
		MaxAttempts: maxAttempts,
		Window:      window,
	}
}

// Allow records an attempt and reports whether it is within the namespace policy
func (rl *RateLimiter) Allow(namespace, key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	policy, exists := rl.policies[namespace]
	if !exists {
		return false
	}

	now := rl.now()
	compositeKey := namespace + ":" + key
	valid := recent(rl.attempts[compositeKey], now.Add(-policy.Window))

	if len(valid) >= policy.MaxAttempts {
		rl.attempts[compositeKey] = valid
		return false
	}

	rl.attempts[compositeKey] = append(valid, now)
	return true
}

// Reset forgets the attempts of a key
func (rl *RateLimiter) Reset(namespace, key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	delete(rl.attempts, namespace+":"+key)
}

// RetryAfter returns the whole seconds until the oldest attempt in the window expires, for
// a Retry-After header. It is 0 when the key has no attempts in the window.
func (rl *RateLimiter) RetryAfter(namespace, key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	policy, exists := rl.policies[namespace]
	if !exists {
		return 0
	}

	now := rl.now()
	valid := recent(rl.attempts[namespace+":"+key], now.Add(-policy.Window))
	if len(valid) == 0 {
		return 0
	}

	remaining := valid[0].Add(policy.Window).Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(remaining/time.Second) + 1
}

// recent returns the attempts after cutoff. attempts is ordered, so the result is a suffix.
func recent(attempts []time.Time, cutoff time.Time) []time.Time {
	for i, t := range attempts {
		if t.After(cutoff) {
			return attempts[i:]
		}
	}
	return attempts[:0]
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup drops keys with no attempt left in their window
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for compositeKey, attempts := range rl.attempts {
		namespace, _, _ := strings.Cut(compositeKey, ":")
		policy, exists := rl.policies[namespace]
		if !exists || len(recent(attempts, now.Add(-policy.Window))) == 0 {
			delete(rl.attempts, compositeKey)
		}
	}
}

// Stop ends the cleanup sweep. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCleanup)
	})
}
