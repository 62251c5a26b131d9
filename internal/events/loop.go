// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package events provides the single-threaded work queue every qns
// component runs its state transitions on, grounded on the
// context-scoped goroutine pattern flywall's HA service
// (internal/services/ha/service.go) uses for its heartbeat loop: one
// goroutine draining a channel of typed events, started with Start and
// torn down with Stop/Close.
package events

import (
	"context"
	"sync"
)

// Event is a unit of work posted to a Loop. Handlers run in arrival order
// on the loop's single goroutine; a listener registered before time T
// observes the state at or after T before any subsequent event, satisfying
// the ordering guarantee every component relies on.
type Event func()

// Loop is a single-threaded, FIFO work queue.
type Loop struct {
	ch     chan Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

// NewLoop creates a Loop with the given queue depth. A depth of 0 makes
// Post synchronous with the reader — use a buffered depth for components
// that must never block a fast upstream feed.
func NewLoop(depth int) *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		ch:     make(chan Event, depth),
		ctx:    ctx,
		cancel: cancel,
		closed: make(chan struct{}),
	}
}

// Start begins draining the queue. Safe to call once per Loop.
func (l *Loop) Start() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			select {
			case ev, ok := <-l.ch:
				if !ok {
					return
				}
				ev()
			case <-l.ctx.Done():
				// Drain any already-queued events before returning so
				// Close can be relied upon to have applied every posted
				// mutation, matching the "drains the event queue before
				// returning" cancellation contract.
				for {
					select {
					case ev, ok := <-l.ch:
						if !ok {
							return
						}
						ev()
					default:
						return
					}
				}
			}
		}
	}()
}

// Post enqueues an event. Post on a closed Loop is a silent no-op, per the
// "resource-unavailable: request ignored, no callback emitted" error
// semantics.
func (l *Loop) Post(ev Event) {
	select {
	case <-l.closed:
		return
	default:
	}
	select {
	case l.ch <- ev:
	case <-l.ctx.Done():
	}
}

// PostAndWait enqueues an event and blocks until it has run, useful for
// rebuild()/close() style synchronous calls from outside the loop.
func (l *Loop) PostAndWait(ev Event) {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		ev()
	})
	select {
	case <-done:
	case <-l.ctx.Done():
	}
}

// Close cancels the loop and waits for the goroutine to drain and exit.
// Idempotent.
func (l *Loop) Close() {
	l.once.Do(func() {
		close(l.closed)
		l.cancel()
	})
	l.wg.Wait()
}
