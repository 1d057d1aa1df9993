package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ClientRateLimiter limits run submissions per client with a token bucket
// and caps the number of runs a client has in flight.
type ClientRateLimiter struct {
	mu            sync.Mutex
	limit         rate.Limit
	burst         int
	maxConcurrent int
	clients       map[string]*clientBucket
}

type clientBucket struct {
	limiter    *rate.Limiter
	concurrent int
	lastSeen   time.Time
}

// NewClientRateLimiter creates a limiter allowing perSecond runs per client
// with the given burst.
func NewClientRateLimiter(perSecond float64, burst, maxConcurrent int) *ClientRateLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	if maxConcurrent < 1 {
		maxConcurrent = 4
	}
	return &ClientRateLimiter{
		limit:         limit,
		burst:         burst,
		maxConcurrent: maxConcurrent,
		clients:       make(map[string]*clientBucket),
	}
}

// Acquire reserves a run slot for client. On success the caller must call
// the returned release func when the run ends.
func (r *ClientRateLimiter) Acquire(client string) (release func(), reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	b, ok := r.clients[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.clients[client] = b
	}
	b.lastSeen = now

	if b.concurrent >= r.maxConcurrent {
		return nil, "too many concurrent runs"
	}
	if !b.limiter.AllowN(now, 1) {
		return nil, "rate limit exceeded"
	}

	b.concurrent++
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			b.concurrent--
			r.mu.Unlock()
		})
	}, ""
}

// Prune forgets idle clients not seen for idle.
func (r *ClientRateLimiter) Prune(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-idle)
	pruned := 0
	for id, b := range r.clients {
		if b.concurrent == 0 && b.lastSeen.Before(cutoff) {
			delete(r.clients, id)
			pruned++
		}
	}
	return pruned
}

// Stats returns how many runs client has in flight.
func (r *ClientRateLimiter) Stats(client string) (concurrent int, tokens float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.clients[client]
	if !ok {
		return 0, float64(r.burst)
	}
	return b.concurrent, b.limiter.Tokens()
}
