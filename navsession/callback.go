package navsession

import (
	"log/slog"
	"sync"

	"github.com/hazyhaar/navbridge/pathconfig"
	"github.com/hazyhaar/navbridge/visit"
)

// Callback receives the lifecycle events of a session. Every method is
// invoked from the session's Dispatcher, never concurrently with another
// method of the same session.
type Callback interface {
	VisitStarted(location string)
	VisitProposed(location string, opts visit.Options, props pathconfig.Properties)
	RequestFailed(code int)
	Rendered()
	Completed()
	Invalidated()
	PageStarted(location string)
	PageFinished(location string)
	LoadError(code int)
}

// Dispatcher runs host callbacks on the thread that owns them. Dispatch must
// not block on the work it is given.
type Dispatcher interface {
	Dispatch(fn func())
}

// Loop is a Dispatcher backed by one goroutine draining an unbounded FIFO.
// It is the default callback thread of a Session and doubles as the serial
// executor of the bridges.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	closing bool
	logger  *slog.Logger
}

// NewLoop starts a Loop. Call Close to stop it.
func NewLoop(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.run()
	return l
}

// Dispatch queues fn. Work dispatched after Close is dropped.
func (l *Loop) Dispatch(fn func()) {
	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Sync blocks until everything dispatched before the call has run. It must
// not be called from the loop itself.
func (l *Loop) Sync() {
	ch := make(chan struct{})
	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.mu.Unlock()
	l.Dispatch(func() { close(ch) })
	select {
	case <-ch:
	case <-l.done:
	}
}

// Close runs what is already queued, then stops the goroutine.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closing = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for range l.wake {
		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				closing := l.closing
				l.mu.Unlock()
				if closing {
					return
				}
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()

			l.invoke(fn)
		}
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("navsession: dispatched callback panicked", "panic", r)
		}
	}()
	fn()
}
