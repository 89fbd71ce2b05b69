package memory

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rryowa/finance-auth/internal/models"
)

type bucket struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	window   time.Duration
	lastSeen time.Time
}

// RateLimitStore holds one token bucket per key. The map lock only covers
// lookup and creation; refill-and-take runs under the bucket's own lock.
type RateLimitStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

func NewRateLimitStore() *RateLimitStore {
	return &RateLimitStore{buckets: make(map[string]*bucket)}
}

func refillRate(capacity int, window time.Duration) rate.Limit {
	return rate.Limit(float64(capacity) / window.Seconds())
}

func (s *RateLimitStore) Take(_ context.Context, key string, capacity int, window time.Duration, now time.Time) (models.RateLimitDecision, error) {
	s.mu.Lock()
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(refillRate(capacity, window), capacity), window: window}
		s.buckets[key] = b
	}
	s.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limiter.Burst() != capacity || b.window != window {
		b.limiter.SetLimitAt(now, refillRate(capacity, window))
		b.limiter.SetBurstAt(now, capacity)
		b.window = window
	}
	b.lastSeen = now

	decision := models.RateLimitDecision{Limit: capacity}
	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return decision, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		decision.RetryAfter = delay
		return decision, nil
	}

	decision.Allowed = true
	decision.Remaining = int64(math.Max(0, math.Floor(b.limiter.TokensAt(now))))
	return decision, nil
}

// Evict drops buckets idle for at least their refill window. Such a bucket
// is full, so recreating it on the next request changes nothing.
func (s *RateLimitStore) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for key, b := range s.buckets {
		b.mu.Lock()
		idle := now.Sub(b.lastSeen) >= b.window
		b.mu.Unlock()
		if idle {
			delete(s.buckets, key)
			evicted++
		}
	}
	return evicted
}

func (s *RateLimitStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// RunJanitor evicts idle buckets every interval until ctx is done.
func (s *RateLimitStore) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Evict(now)
		}
	}
}
