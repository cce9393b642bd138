package services

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IntentLimiter aplica um token bucket por identidade e descarta entradas ociosas.
type IntentLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu    sync.Mutex
	byKey map[string]*limiterEntry
	hits  uint64
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIntentLimiter devolve nil, ou seja sem limite, quando rps ou burst não são positivos.
func NewIntentLimiter(rps float64, burst int) *IntentLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &IntentLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: 10 * time.Minute,
		byKey:   make(map[string]*limiterEntry),
	}
}

// Allow consome um token da identidade.
func (l *IntentLimiter) Allow(identity string, now time.Time) bool {
	if l == nil {
		return true
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[identity]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[identity] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}
	return allowed
}
