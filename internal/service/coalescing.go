package service

import (
	"context"
	"sync"
	"time"
)

// flightCall is a single in-flight upstream fetch that multiple callers
// may wait on. done is closed exactly once, after val and err are set.
type flightCall struct {
	done chan struct{}
	val  interface{}
	err  error
}

// flightGroup deduplicates concurrent fetches for the same cache key so a
// thundering herd of misses produces one upstream call. Waiters are
// bounded by timeout and by their own context.
type flightGroup struct {
	mu      sync.Mutex
	calls   map[string]*flightCall
	timeout time.Duration
}

func newFlightGroup(timeout time.Duration) *flightGroup {
	return &flightGroup{
		calls:   make(map[string]*flightCall),
		timeout: timeout,
	}
}

// Do returns the result of fn for key, sharing one execution among
// concurrent callers. fn runs in its own goroutine and completes even if
// every waiter gives up, so the shared result is never half-written.
func (g *flightGroup) Do(ctx context.Context, key string, fn func() (interface{}, error)) (interface{}, error) {
	g.mu.Lock()
	if c, ok := g.calls[key]; ok {
		g.mu.Unlock()
		return g.wait(ctx, c)
	}

	c := &flightCall{done: make(chan struct{})}
	g.calls[key] = c
	g.mu.Unlock()

	go func() {
		c.val, c.err = fn()
		close(c.done)

		g.mu.Lock()
		delete(g.calls, key)
		g.mu.Unlock()
	}()

	return g.wait(ctx, c)
}

func (g *flightGroup) wait(ctx context.Context, c *flightCall) (interface{}, error) {
	waitCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	select {
	case <-c.done:
		return c.val, c.err
	case <-waitCtx.Done():
		return nil, waitCtx.Err()
	}
}
