package dispatch

import (
	"sync"
	"time"
)

// DefaultUnauthorizedWindow is the rolling window within which repeated
// unauthorized failures fire the notification at most once.
const DefaultUnauthorizedWindow = 2000 * time.Millisecond

// UnauthorizedGate debounces the unauthorized notification: one firing per
// rolling window regardless of how many requests fail concurrently. It is a
// side channel; callers still receive the underlying HTTPError. The gate is
// mutex-guarded because failing requests may trip it from parallel goroutines.
type UnauthorizedGate struct {
	mu     sync.Mutex
	window time.Duration
	last   time.Time
	now    func() time.Time
	notify func()
}

// NewUnauthorizedGate creates a gate with the given window and notification
// callback. A window of zero or less uses DefaultUnauthorizedWindow; a nil
// notify makes the gate inert.
func NewUnauthorizedGate(window time.Duration, notify func()) *UnauthorizedGate {
	if window <= 0 {
		window = DefaultUnauthorizedWindow
	}
	return &UnauthorizedGate{
		window: window,
		now:    time.Now,
		notify: notify,
	}
}

// Trip records an unauthorized failure. It fires the notification and returns
// true when the previous firing is outside the rolling window.
func (g *UnauthorizedGate) Trip() bool {
	if g == nil {
		return false
	}

	g.mu.Lock()
	now := g.now()
	if !g.last.IsZero() && now.Sub(g.last) < g.window {
		g.mu.Unlock()
		return false
	}
	g.last = now
	notify := g.notify
	g.mu.Unlock()

	if notify != nil {
		notify()
	}
	return true
}
