// Package throttle implements per-identity admission control for
// expensive operations. Both policies are pure in-memory decisions: they
// never touch the network or the cache, and admission checks for one
// identity are serialized by the gate's lock so arrival order is
// preserved.
package throttle

import (
	"sync"
	"time"
)

// Decision reports the outcome of an admission check. Wait is how long
// the caller should wait before retrying; zero when allowed.
type Decision struct {
	Allowed bool
	Wait    time.Duration
}

// WaitSeconds returns the wait rounded down to whole seconds, suitable
// for a "retry after N seconds" message or header.
func (d Decision) WaitSeconds() int {
	return int(d.Wait / time.Second)
}

// Gate is an admission policy keyed by caller identity.
type Gate interface {
	Check(identity string) Decision
}

// CooldownGate admits at most one request per identity within the
// configured cooldown. State per identity is just the last admitted
// timestamp, refreshed on every admission.
type CooldownGate struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     map[string]time.Time
	now      func() time.Time
}

// NewCooldownGate creates a CooldownGate with the given minimum interval
// between admitted requests per identity.
func NewCooldownGate(cooldown time.Duration) *CooldownGate {
	return &CooldownGate{
		cooldown: cooldown,
		last:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// Check admits the first request from an identity and every request at
// least cooldown after the previously admitted one. Denied requests do
// not refresh the timestamp.
func (g *CooldownGate) Check(identity string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if last, ok := g.last[identity]; ok {
		elapsed := now.Sub(last)
		if elapsed < g.cooldown {
			return Decision{Allowed: false, Wait: g.cooldown - elapsed}
		}
	}
	g.last[identity] = now
	return Decision{Allowed: true}
}

// SlidingWindow admits up to maxRequests per identity within a trailing
// window. Timestamps older than the window are pruned before every
// check, and identities with no recent requests are dropped entirely so
// memory stays bounded.
type SlidingWindow struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	requests    map[string][]time.Time
	now         func() time.Time
}

// NewSlidingWindow creates a SlidingWindow admitting maxRequests per
// identity within the trailing window.
func NewSlidingWindow(maxRequests int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		maxRequests: maxRequests,
		window:      window,
		requests:    make(map[string][]time.Time),
		now:         time.Now,
	}
}

// Check prunes expired timestamps, then admits and records the request if
// the identity is under its limit. A denial reports how long until the
// oldest in-window request ages out.
func (w *SlidingWindow) Check(identity string) Decision {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	cutoff := now.Add(-w.window)

	times := w.requests[identity]
	i := 0
	for ; i < len(times) && times[i].Before(cutoff); i++ {
	}
	if i > 0 {
		times = append(times[:0], times[i:]...)
	}

	if len(times) >= w.maxRequests {
		w.requests[identity] = times
		oldest := times[0]
		return Decision{Allowed: false, Wait: w.window - now.Sub(oldest)}
	}

	w.requests[identity] = append(times, now)
	return Decision{Allowed: true}
}

// Sweep drops identities whose entire history has aged out of the
// window. Optional; Check already prunes per identity, this reclaims map
// entries for identities that never return.
func (w *SlidingWindow) Sweep() {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := w.now().Add(-w.window)
	for identity, times := range w.requests {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(w.requests, identity)
		}
	}
}
