package handlers

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdle = 10 * time.Minute

type userLimit struct {
	lim  *rate.Limiter
	seen time.Time
}

// userLimiter throttles a command per user. A nil limiter allows
// everything.
type userLimiter struct {
	mu    sync.Mutex
	every rate.Limit
	burst int
	users map[string]*userLimit
	now   func() time.Time
}

func newUserLimiter(perMinute int) *userLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &userLimiter{
		every: rate.Limit(float64(perMinute) / 60),
		burst: max(1, perMinute/4),
		users: make(map[string]*userLimit),
		now:   time.Now,
	}
}

func (l *userLimiter) Allow(userID string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	u, ok := l.users[userID]
	if !ok {
		l.pruneLocked(now)
		u = &userLimit{lim: rate.NewLimiter(l.every, l.burst)}
		l.users[userID] = u
	}
	u.seen = now
	return u.lim.AllowN(now, 1)
}

func (l *userLimiter) pruneLocked(now time.Time) {
	for id, u := range l.users {
		if now.Sub(u.seen) > limiterIdle {
			delete(l.users, id)
		}
	}
}
