package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	cerrors "github.com/gezibash/courier/pkg/errors"
	"github.com/gezibash/courier/pkg/stanza"
)

type phase int

const (
	phaseIdle phase = iota
	phaseDialing
	phaseUp
)

// Link tracks the single active connection attempt of a transport and
// guarantees the handler sees exactly one OnDisconnected for every
// OnWillConnect, whichever of dial failure, stream error or Disconnect
// gets there first. Handler calls are made in the order the state changed.
// C is the transport's connection type.
type Link[C any] struct {
	mu      sync.Mutex
	notify  sync.Mutex // held while calling the handler; acquired under mu
	handler Handler
	gen     uint64
	phase   phase
	conn    C
	cancel  context.CancelFunc
	timer   *time.Timer
	expired bool
}

// SetHandler installs h. A nil h installs NopHandler.
func (l *Link[C]) SetHandler(h Handler) {
	if h == nil {
		h = NopHandler{}
	}
	l.mu.Lock()
	l.handler = h
	l.mu.Unlock()
}

// Handler returns the installed handler.
func (l *Link[C]) Handler() Handler {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handlerLocked()
}

func (l *Link[C]) handlerLocked() Handler {
	if l.handler == nil {
		return NopHandler{}
	}
	return l.handler
}

// emit hands off from mu to notify so fn runs after every earlier event and
// before every later one. mu must be held; it is released.
func (l *Link[C]) emit(fn func(Handler)) {
	h := l.handlerLocked()
	l.notify.Lock()
	l.mu.Unlock()
	defer l.notify.Unlock()
	fn(h)
}

// Begin starts an attempt. It returns a context that lives as long as the
// attempt and its connection, and the attempt's generation. ok is false if
// an attempt is already active. The context is canceled if the attempt is
// still dialing after timeout.
func (l *Link[C]) Begin(timeout time.Duration) (ctx context.Context, gen uint64, ok bool) {
	l.mu.Lock()
	if l.phase != phaseIdle {
		l.mu.Unlock()
		return nil, 0, false
	}
	l.gen++
	gen = l.gen
	l.phase = phaseDialing
	l.expired = false
	ctx, l.cancel = context.WithCancel(context.Background())
	if timeout > 0 {
		l.timer = time.AfterFunc(timeout, func() { l.expire(gen) })
	}
	l.emit(func(h Handler) { h.OnWillConnect() })
	return ctx, gen, true
}

func (l *Link[C]) expire(gen uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.gen || l.phase != phaseDialing {
		return
	}
	l.expired = true
	l.cancel()
}

// Up records the established connection for gen. It returns false if the
// attempt was abandoned meanwhile; the caller then owns conn and must close it.
func (l *Link[C]) Up(gen uint64, conn C) bool {
	l.mu.Lock()
	if gen != l.gen || l.phase != phaseDialing {
		l.mu.Unlock()
		return false
	}
	l.phase = phaseUp
	l.conn = conn
	l.stopTimer()
	l.emit(func(h Handler) { h.OnConnected() })
	return true
}

// Deliver passes an inbound stanza from attempt gen to the handler. Stanzas
// read after the attempt ended are dropped and Deliver returns false.
func (l *Link[C]) Deliver(gen uint64, s *stanza.Stanza) bool {
	l.mu.Lock()
	if gen != l.gen || l.phase != phaseUp {
		l.mu.Unlock()
		return false
	}
	l.emit(func(h Handler) { h.OnStanza(s) })
	return true
}

// Fail ends attempt gen with err. A dial cut short by the connect timeout
// reports ErrTimeout. Stale generations are ignored.
func (l *Link[C]) Fail(gen uint64, err error) {
	l.mu.Lock()
	if gen != l.gen || l.phase == phaseIdle {
		l.mu.Unlock()
		return
	}
	if l.expired && l.phase == phaseDialing {
		err = fmt.Errorf("connect: %w", cerrors.ErrTimeout)
	}
	l.reset()
	l.emit(func(h Handler) { h.OnDisconnected(err) })
}

// Stop ends the active attempt on request. shutdown is called with the
// connection (if one was established) before the attempt's context is
// canceled and the handler is told. Stop reports whether there was anything
// to stop.
func (l *Link[C]) Stop(shutdown func(conn C, up bool)) bool {
	l.mu.Lock()
	if l.phase == phaseIdle {
		l.mu.Unlock()
		return false
	}
	conn, up := l.conn, l.phase == phaseUp
	cancel := l.cancel
	l.cancel = nil
	l.gen++
	l.reset()
	l.emit(func(h Handler) {
		if shutdown != nil {
			shutdown(conn, up)
		}
		if cancel != nil {
			cancel()
		}
		h.OnDisconnected(nil)
	})
	return true
}

// Current returns the established connection.
func (l *Link[C]) Current() (C, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn, l.phase == phaseUp
}

func (l *Link[C]) reset() {
	var zero C
	l.conn = zero
	l.phase = phaseIdle
	l.stopTimer()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

func (l *Link[C]) stopTimer() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}
