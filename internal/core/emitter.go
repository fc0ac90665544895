package core

import (
	"sync"

	"eino_agent_router/pkg"
)

// Emitter is the ordered event channel of one streaming invocation. Emit never
// blocks: events queue without bound and a forwarder goroutine delivers them.
// When done closes (the consumer went away) delivery stops and later events
// are dropped while the producer keeps running. A nil *Emitter drops
// everything, which is how non-streaming invocations run.
type Emitter struct {
	mu       sync.Mutex
	queue    []pkg.Event
	closed   bool
	detached bool
	wake     chan struct{}
	out      chan pkg.Event
	done     <-chan struct{}
}

// NewEmitter starts an emitter whose delivery stops when done closes
func NewEmitter(done <-chan struct{}) *Emitter {
	e := &Emitter{
		wake: make(chan struct{}, 1),
		out:  make(chan pkg.Event),
		done: done,
	}
	go e.forward()
	return e
}

// Events returns the consumer side. It is closed after the last event.
func (e *Emitter) Events() <-chan pkg.Event {
	return e.out
}

// Emit queues an event
func (e *Emitter) Emit(ev pkg.Event) {
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.closed || e.detached {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, ev)
	e.mu.Unlock()
	e.signal()
}

// Close marks the end of the stream. Queued events are still delivered.
func (e *Emitter) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.signal()
}

func (e *Emitter) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Emitter) forward() {
	defer close(e.out)
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			closed := e.closed
			e.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-e.wake:
			case <-e.done:
				e.detach()
				return
			}
			continue
		}
		ev := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		select {
		case e.out <- ev:
		case <-e.done:
			e.detach()
			return
		}
	}
}

func (e *Emitter) detach() {
	e.mu.Lock()
	e.detached = true
	e.queue = nil
	e.mu.Unlock()
}
