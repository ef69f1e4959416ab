package util

import (
	"context"
	"sync"
)

// Lazy holds a value built on first use. Concurrent callers during the build
// wait for the same attempt. A failed build is not remembered, so the next
// caller tries again. Reset drops the value; the next Get rebuilds it.
type Lazy[T any] struct {
	mu      sync.Mutex
	init    func(context.Context) (T, error)
	value   T
	ready   bool
	pending *lazyAttempt[T]
}

type lazyAttempt[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func NewLazy[T any](init func(context.Context) (T, error)) *Lazy[T] {
	return &Lazy[T]{init: init}
}

// Get returns the value, starting the build when none is held. ctx bounds
// the wait of this caller only; the build itself runs with the context of
// the caller that started it.
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	l.mu.Lock()
	if l.ready {
		value := l.value
		l.mu.Unlock()
		return value, nil
	}
	attempt := l.pending
	if attempt == nil {
		attempt = &lazyAttempt[T]{done: make(chan struct{})}
		l.pending = attempt
		go l.run(ctx, attempt)
	}
	l.mu.Unlock()
	select {
	case <-attempt.done:
		return attempt.value, attempt.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (l *Lazy[T]) run(ctx context.Context, attempt *lazyAttempt[T]) {
	value, err := l.init(context.WithoutCancel(ctx))
	l.mu.Lock()
	if l.pending == attempt {
		l.pending = nil
		if err == nil {
			l.value = value
			l.ready = true
		}
	}
	attempt.value, attempt.err = value, err
	l.mu.Unlock()
	close(attempt.done)
}

// Peek returns the held value without building it.
func (l *Lazy[T]) Peek() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.ready
}

// Reset drops the held value and returns it so the caller can release it.
// An attempt still running is detached: its waiters get its result but the
// cell does not keep it.
func (l *Lazy[T]) Reset() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	value, ready := l.value, l.ready
	var zero T
	l.value = zero
	l.ready = false
	l.pending = nil
	return value, ready
}
