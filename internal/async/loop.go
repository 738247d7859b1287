// Package async provides the single-goroutine dispatch loop and the
// PendingOperation future built on top of it. Every component in this
// module posts deferred work through a Loop instead of spawning bare
// goroutines, generalizing the reader/writer goroutine-pairs-over-channels
// pattern the source used for socket I/O (streams.go's transceiveStreams)
// into one general-purpose "run this on the next turn" primitive.
package async

import (
	"context"
	"sync"
)

// Loop is a cooperative single-goroutine scheduler: Post enqueues a
// closure to run on Loop's own goroutine, in submission order, never
// overlapping with any other posted closure. It is the owning goroutine
// referred to throughout this module's concurrency model.
type Loop struct {
	tasks  chan func()
	once   sync.Once
	closed chan struct{}
}

func NewLoop() *Loop {
	return &Loop{
		tasks:  make(chan func(), 256),
		closed: make(chan struct{}),
	}
}

// Run drains tasks until ctx is cancelled or Stop is called. It is meant
// to be called once, from the goroutine that owns this Loop's lifetime.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.closed:
			return
		case task := <-l.tasks:
			task()
		}
	}
}

// Post schedules task to run on the loop's goroutine. Safe to call from
// any goroutine, including from within a task already running on the
// loop (it will run after the current one completes).
func (l *Loop) Post(task func()) {
	select {
	case l.tasks <- task:
	case <-l.closed:
	}
}

// Stop causes Run to return once it next reaches its select statement.
// Idempotent.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.closed) })
}
