// Package eventloop runs a client session's work on a single goroutine.
//
// WHY A LOOP?
// A client session reacts to UI commands, timer ticks and I/O completions.
// Funnelling all of them through one goroutine means the session's state
// (capture machine, notifications, history) is only ever touched by that
// goroutine, so it needs no locks of its own. Anything slow (network calls,
// device acquisition) runs elsewhere and Posts its result back.
//
// Post never blocks: the queue is unbounded. That matters because
// subscription goroutines post into the loop while the loop may be busy
// stopping those same subscriptions.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrStopped is returned by Do once the loop has exited.
var ErrStopped = errors.New("eventloop: stopped")

// Loop is a single-goroutine task queue.
type Loop struct {
	logger *slog.Logger

	mu      sync.Mutex
	queue   []func()
	stopped bool
	signal  chan struct{}
	done    chan struct{}
}

// New creates a loop. Call Run to start processing.
func New(logger *slog.Logger) *Loop {
	return &Loop{
		logger: logger,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Post queues fn to run on the loop goroutine. It reports false, and drops
// fn, if the loop has already stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it to finish.
// It must not be called from the loop goroutine itself.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		// The loop may have run fn right before exiting.
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes queued work until ctx is cancelled. Work still queued at
// that point is discarded.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.signal:
		}

		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			batch := l.queue
			l.queue = nil
			l.mu.Unlock()

			for _, fn := range batch {
				if ctx.Err() != nil {
					return
				}
				l.run(fn)
			}
		}
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event handler panicked", slog.String("panic", fmt.Sprint(r)))
		}
	}()
	fn()
}

// AfterFunc runs fn on the loop once d has elapsed. Stopping the returned
// timer before it fires cancels fn.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { l.Post(fn) })
}

// Every runs fn on the loop every interval until ctx is cancelled.
//
// CANCELLATION IS ADVISORY:
// A tick already queued when ctx is cancelled still reaches the loop; fn is
// expected to check ctx itself if that matters. Ticks are never queued after
// the ticker goroutine has seen the cancellation.
func (l *Loop) Every(ctx context.Context, interval time.Duration, fn func()) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !l.Post(fn) {
					return
				}
			}
		}
	}()
}
