package engine

import "sync"

// Executor runs work somewhere else: inline, on a fresh goroutine, or on a
// serial queue. Completions and delegate callbacks are dispatched through
// one so the caller picks where they run.
type Executor interface {
	Dispatch(fn func())
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(fn func())

func (f ExecutorFunc) Dispatch(fn func()) { f(fn) }

// Inline runs work on the dispatching goroutine. Work dispatched from the
// engine runs on the engine goroutine and must not block or call Sync.
var Inline Executor = ExecutorFunc(func(fn func()) { fn() })

// Go runs each piece of work on its own goroutine, in no particular order.
var Go Executor = ExecutorFunc(func(fn func()) { go fn() })

// Serial runs work one at a time, in dispatch order, on its own goroutine.
// Dispatch never blocks.
type Serial struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// NewSerial starts a serial executor.
func NewSerial() *Serial {
	s := &Serial{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

// Dispatch appends fn to the queue. Work dispatched after Close is dropped.
func (s *Serial) Dispatch(fn func()) {
	s.submit(fn)
}

// submit is Dispatch reporting whether fn was accepted.
func (s *Serial) submit(fn func()) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, fn)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *Serial) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		closed := s.closed
		s.mu.Unlock()

		if len(batch) == 0 {
			if closed {
				return
			}
			<-s.wake
			continue
		}
		for _, fn := range batch {
			fn()
		}
	}
}

// Close stops accepting work, runs what is already queued and waits for it.
// It must not be called from work running on s.
func (s *Serial) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	<-s.done
}
