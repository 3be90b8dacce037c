package singleflight

import (
	"context"
	"sync"
)

// Group coalesces concurrent calls for the same key into one execution.
// Unlike a plain singleflight, waiters may stop waiting when their context is
// done without affecting the shared call, and a key is forgotten as soon as its
// call completes so the next caller always starts a fresh execution.
type Group[T any] struct {
	mu sync.Mutex
	m  map[string]*call[T]
}

type call[T any] struct {
	done    chan struct{}
	val     T
	err     error
	waiters int
}

// New creates an empty Group.
func New[T any]() *Group[T] {
	return &Group[T]{m: make(map[string]*call[T])}
}

// Do runs fn once per key at a time. The first caller becomes the owner and
// executes fn; callers arriving while it runs wait for its result. shared
// reports whether the result was produced by another caller's execution.
//
// fn runs in its own goroutine so an owner whose ctx is cancelled can return
// early while waiters still receive the eventual result.
func (g *Group[T]) Do(ctx context.Context, key string, fn func() (T, error)) (v T, shared bool, err error) {
	g.mu.Lock()
	if c, ok := g.m[key]; ok {
		c.waiters++
		g.mu.Unlock()
		return g.wait(ctx, c, true)
	}

	c := &call[T]{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	go g.run(key, c, fn)

	return g.wait(ctx, c, false)
}

// InFlight reports whether a call for key is currently running.
func (g *Group[T]) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.m[key]
	return ok
}

// Waiters returns the number of callers that joined the running call for key.
func (g *Group[T]) Waiters(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.m[key]; ok {
		return c.waiters
	}
	return 0
}

func (g *Group[T]) run(key string, c *call[T], fn func() (T, error)) {
	defer func() {
		if r := recover(); r != nil {
			c.err = &PanicError{Value: r}
		}
		g.mu.Lock()
		if g.m[key] == c {
			delete(g.m, key)
		}
		g.mu.Unlock()
		close(c.done)
	}()
	c.val, c.err = fn()
}

func (g *Group[T]) wait(ctx context.Context, c *call[T], shared bool) (T, bool, error) {
	select {
	case <-c.done:
		return c.val, shared, c.err
	case <-ctx.Done():
		var zero T
		return zero, shared, ctx.Err()
	}
}
