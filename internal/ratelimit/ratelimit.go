// Package ratelimit bounds searches per caller. Every search miss costs an
// LLM call and a scrape, so the limit is applied before the pipeline runs.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

type bucket struct {
	tokens float64
	seen   time.Time
}

// Limiter is an in-memory token bucket keyed by caller. Each key holds at
// most limit tokens and regains limit tokens per window.
type Limiter struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	stop     chan struct{}
	stopOnce sync.Once
}

// New starts a limiter whose idle keys are swept every five minutes until
// Close is called.
func New(window time.Duration) *Limiter {
	l := &Limiter{
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go l.sweepEvery(5 * time.Minute)
	return l
}

// Allow takes one token for key. When none is left it returns false and
// how long until the next token arrives.
func (l *Limiter) Allow(key string, limit int) (bool, time.Duration) {
	if limit <= 0 {
		return false, l.window
	}
	perToken := l.window.Seconds() / float64(limit)

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(limit), seen: now}
		l.buckets[key] = b
	}
	b.tokens = math.Min(b.tokens+now.Sub(b.seen).Seconds()/perToken, float64(limit))
	b.seen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) * perToken * float64(time.Second))
	return false, wait
}

func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) sweepEvery(d time.Duration) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

// sweep forgets keys idle for two windows; they would be full again anyway.
func (l *Limiter) sweep() {
	cutoff := l.now().Add(-2 * l.window)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if b.seen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}
