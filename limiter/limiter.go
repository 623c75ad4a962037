// Package limiter implements per-client token-bucket admission control.
//
// Buckets are created lazily at full capacity the first time a client is
// seen and refill continuously at refillTokens per interval, so a client idle
// for a whole interval gets min(capacity, tokens+refillTokens) back. The
// bucket map lives for the process lifetime and never evicts entries.
package limiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Limiter struct {
	capacity int
	refill   rate.Limit
	buckets  sync.Map // client id -> *rate.Limiter
	size     sync.Mutex
	count    int
	now      func() time.Time
}

type Option func(*Limiter)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New returns a limiter whose buckets hold capacity tokens and gain
// refillTokens every interval.
func New(capacity, refillTokens int, interval time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		capacity: capacity,
		refill:   rate.Limit(float64(refillTokens) / interval.Seconds()),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryAdmit takes one token from the client's bucket. It never blocks.
func (l *Limiter) TryAdmit(clientID string) bool {
	return l.bucket(clientID).AllowN(l.now(), 1)
}

// Tokens reports the tokens currently available to the client.
func (l *Limiter) Tokens(clientID string) float64 {
	return l.bucket(clientID).TokensAt(l.now())
}

// Len is the number of distinct clients seen so far.
func (l *Limiter) Len() int {
	l.size.Lock()
	defer l.size.Unlock()
	return l.count
}

func (l *Limiter) Capacity() int {
	return l.capacity
}

func (l *Limiter) bucket(clientID string) *rate.Limiter {
	if b, ok := l.buckets.Load(clientID); ok {
		return b.(*rate.Limiter)
	}
	b, loaded := l.buckets.LoadOrStore(clientID, rate.NewLimiter(l.refill, l.capacity))
	if !loaded {
		l.size.Lock()
		l.count++
		l.size.Unlock()
	}
	return b.(*rate.Limiter)
}
