package relay

import (
	"sync"

	"github.com/dkeye/callcoord/internal/domain"
	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per participant.
// A zero limit disables limiting.
type Limiter struct {
	mu       sync.Mutex
	limiters map[domain.ParticipantID]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func NewLimiter(perSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[domain.ParticipantID]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (l *Limiter) Allow(id domain.ParticipantID) bool {
	if l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters[id]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[id] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

func (l *Limiter) Forget(id domain.ParticipantID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, id)
}
