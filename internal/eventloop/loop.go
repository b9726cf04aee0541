// Package eventloop runs every UI-visible mutation on one goroutine.
//
// Capture strategies, the permission probe and window animations run
// elsewhere and hand their results back with Post; timers created with
// AfterFunc fire on the loop as well, so code running inside the loop
// never needs locks for its own state.
package eventloop

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/bryanchriswhite/ScreenCap/internal/clock"
	"github.com/bryanchriswhite/ScreenCap/internal/logger"
)

// Loop executes posted functions sequentially.
type Loop struct {
	clock clock.Clock
	done  chan struct{}

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	started bool
	stopped bool
}

// New creates a loop. Call Start before posting work that must run.
func New(c clock.Clock) *Loop {
	if c == nil {
		c = clock.Real{}
	}
	l := &Loop{
		clock: c,
		done:  make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Clock returns the clock the loop schedules timers on.
func (l *Loop) Clock() clock.Clock {
	return l.clock
}

// Start launches the loop goroutine. Subsequent calls are no-ops.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	l.started = true
	go l.run()
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.stopped {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.exec(fn)
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithComponent("eventloop").Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Recovered panic in loop task")
		}
	}()
	fn()
}

// Post schedules fn to run on the loop without blocking. It returns
// false once the loop has been stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return false
	}
	l.queue = append(l.queue, fn)
	l.cond.Signal()
	return true
}

// AfterFunc arms a timer whose callback runs on the loop.
func (l *Loop) AfterFunc(d time.Duration, fn func()) clock.Timer {
	return l.clock.AfterFunc(d, func() {
		l.Post(fn)
	})
}

// Flush blocks until every task posted before the call has run. It must
// not be called from inside the loop or before Start.
func (l *Loop) Flush() {
	ch := make(chan struct{})
	if !l.Post(func() { close(ch) }) {
		return
	}
	<-ch
}

// Stop drains queued tasks and ends the loop goroutine.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	started := l.started
	l.cond.Broadcast()
	l.mu.Unlock()

	if started {
		<-l.done
	}
}
