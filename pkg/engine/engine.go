// Package engine keeps a stanza stream to one server usable across
// disconnects: it owns the connection state, queues requests until they can
// be sent and correlates their responses, acks inbound stanzas and resends
// outbound receipts until the server acks them.
//
// All engine state lives on one goroutine. Public methods post work to it
// and return immediately; Sync waits for everything posted before it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gezibash/courier/internal/cel"
	"github.com/gezibash/courier/pkg/logging"
	"github.com/gezibash/courier/pkg/stanza"
	"github.com/gezibash/courier/pkg/transport"
)

// Engine drives a transport. Create one with New.
type Engine struct {
	transport transport.Transport
	opts      options
	loop      *Serial
	delegates Executor
	owned     *Serial // delegate executor created by New, closed by Close
	log       *logging.Logger

	state  atomic.Int32
	closed atomic.Bool

	// Owned by the loop.
	machine       *machine
	sched         *scheduler
	queue         *queue
	receipts      *receipts
	acks          *ackProtocol
	auth          transport.Auth
	hasAuth       bool
	loggedOut     bool
	wantConnected bool
	watchdog      *time.Timer
	watchdogGen   uint64
}

// New creates an engine driving t and installs itself as t's handler.
func New(t transport.Transport, opts ...Option) (*Engine, error) {
	if t == nil {
		return nil, errors.New("engine: nil transport")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	filter, err := cel.Compile(o.ackExpr)
	if err != nil {
		return nil, fmt.Errorf("engine: ack expression: %w", err)
	}

	e := &Engine{
		transport: t,
		opts:      o,
		delegates: o.delegates,
		log:       o.log.WithComponent("conn"),
	}
	if e.delegates == nil {
		e.owned = NewSerial()
		e.delegates = e.owned
	}
	if o.auth != nil {
		e.auth, e.hasAuth = *o.auth, true
	}

	e.machine = newMachine(e.log, o.metrics, func(s State) { e.state.Store(int32(s)) })
	e.sched = newScheduler()
	e.queue = newQueue(context.Background(), t, o.log.WithComponent("queue"), o.metrics)
	e.receipts = newReceipts(t, o.newID, func() string { return e.auth.UserID },
		o.log.WithComponent("receipts"), o.metrics)
	e.acks = &ackProtocol{filter: filter, sender: t, log: o.log.WithComponent("ack"), metrics: o.metrics}

	// Queue and receipts react before scheduled callbacks run, so work
	// scheduled for Connected sees the flushed queue.
	e.machine.observe(e.afterTransition)
	e.machine.observe(func(_, to State) { e.sched.fire(to) })
	if hook := o.onTransition; hook != nil {
		e.machine.observe(func(from, to State) {
			e.delegates.Dispatch(func() { hook(from, to) })
		})
	}

	e.loop = NewSerial()
	t.SetHandler(events{e})
	return e, nil
}

func (e *Engine) post(fn func()) bool {
	return e.loop.submit(fn)
}

// State returns the connection state as of the last processed event.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Connect starts connecting if the engine is idle and has credentials. The
// engine keeps trying every watchdog delay until connected, Disconnect is
// called or the server rejects the credentials.
func (e *Engine) Connect() {
	e.post(func() {
		e.wantConnected = true
		e.connect()
	})
}

// Disconnect closes the stream gracefully.
func (e *Engine) Disconnect() {
	e.post(func() {
		e.wantConnected = false
		e.stopWatchdog()
		switch e.machine.state {
		case Connecting, Connected:
			e.machine.set(Disconnecting)
			e.transport.Disconnect(true)
		}
	})
}

// DisconnectImmediately drops the stream without a closing handshake.
func (e *Engine) DisconnectImmediately() {
	e.post(func() {
		e.wantConnected = false
		e.disconnectNow()
	})
}

// SetCredentials replaces the credentials used by the next connect and
// clears a previous logout.
func (e *Engine) SetCredentials(a transport.Auth) {
	e.post(func() {
		e.auth, e.hasAuth, e.loggedOut = a, true, false
	})
}

// Logout forgets the credentials and drops the connection.
func (e *Engine) Logout() {
	e.post(func() {
		e.logout("requested")
		e.disconnectNow()
	})
}

// Enqueue hands r to the request queue. r receives exactly one outcome,
// through Process or Fail. After Close, r fails with ErrClosed.
func (e *Engine) Enqueue(r Request) {
	if e.closed.Load() || !e.post(func() { e.enqueue(r) }) {
		r.Fail(ErrClosed)
	}
}

// enqueue runs on the loop. Close may have abandoned the queue after Enqueue
// checked closed and before this ran.
func (e *Engine) enqueue(r Request) {
	if e.closed.Load() {
		r.Fail(ErrClosed)
		return
	}
	e.queue.enqueue(r, e.machine.state == Connected)
}

// Execute runs work on ex once the engine is in state want: now if it
// already is, otherwise on the next transition into it.
func (e *Engine) Execute(want State, ex Executor, work func()) {
	e.post(func() { e.sched.add(want, e.machine.state, ex, work) })
}

// SendAck acks s. Delegates that claimed an ack use it, usually through
// Inbound.Ack.
func (e *Engine) SendAck(s *stanza.Stanza) {
	e.post(func() { e.acks.send(s, ackedByDelegate) })
}

// SendReceipt sends r and keeps resending it on every connect until the
// server acks it. A receipt for the same item, user and kind as one still
// pending is dropped.
func (e *Engine) SendReceipt(r stanza.Receipt) {
	e.post(func() { e.receipts.send(r, e.machine.state == Connected) })
}

// Sync waits until everything posted before it has been processed.
func (e *Engine) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if !e.post(func() { close(done) }) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats is a snapshot of engine state.
type Stats struct {
	State           State
	Queued          []string
	InFlight        []string
	UnackedReceipts int
	Waiting         map[State]int
	LoggedOut       bool
}

// Stats returns a snapshot taken on the engine goroutine.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	ch := make(chan Stats, 1)
	ok := e.post(func() {
		st := Stats{
			State:           e.machine.state,
			Queued:          ids(e.queue.queued),
			InFlight:        ids(e.queue.inflight),
			UnackedReceipts: len(e.receipts.unacked),
			Waiting:         make(map[State]int),
			LoggedOut:       e.loggedOut,
		}
		for _, s := range allStates {
			if n := e.sched.waiting(s); n > 0 {
				st.Waiting[s] = n
			}
		}
		ch <- st
	})
	if !ok {
		return Stats{}, ErrClosed
	}
	select {
	case st := <-ch:
		return st, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// Close drops the connection, fails pending requests with ErrClosed and
// stops the engine. Unacked receipts are discarded.
//
// Close waits for delegate work already dispatched to the default executor,
// so it must not be called from a delegate callback or hook running there.
// Call it from another goroutine, or supply WithDelegateExecutor.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.post(func() {
		e.wantConnected = false
		e.disconnectNow()
		e.queue.abandon(ErrClosed)
		if n := len(e.receipts.unacked); n > 0 {
			e.log.Warn("discarding unacked receipts", "count", n)
		}
	})
	e.loop.Close()
	if e.owned != nil {
		e.owned.Close()
	}
	return e.transport.Close()
}

// connect starts an attempt if allowed and reports whether it did.
func (e *Engine) connect() bool {
	switch {
	case e.machine.state != NotConnected:
		e.log.Debug("connect ignored", "state", e.machine.state)
		return false
	case e.loggedOut:
		e.log.Warn("connect refused, logged out")
		return false
	case !e.hasAuth:
		e.log.Warn("connect refused, no credentials")
		return false
	}
	e.machine.set(Connecting)
	e.armWatchdog()
	e.log.Info("connecting", "user", e.auth.UserID)
	e.transport.Connect(e.auth, e.opts.connectTimeout)
	return true
}

func (e *Engine) disconnectNow() {
	e.stopWatchdog()
	if e.machine.state != NotConnected {
		e.machine.set(NotConnected)
	}
	e.transport.Disconnect(false)
}

func (e *Engine) logout(reason string) {
	e.wantConnected = false
	e.stopWatchdog()
	e.auth, e.hasAuth = transport.Auth{}, false
	if e.loggedOut {
		return
	}
	e.loggedOut = true
	e.log.Warn("logged out", "reason", reason)
	if hook := e.opts.onLogout; hook != nil {
		e.delegates.Dispatch(hook)
	}
}

// afterTransition keeps the queue and receipts in step with the connection.
func (e *Engine) afterTransition(from, to State) {
	switch to {
	case Connected:
		e.queue.flush()
		e.receipts.resendAll()
	case NotConnected:
		e.queue.redistribute()
	}
}

// armWatchdog (re)starts the connect watchdog. Each arming gets a new
// generation so a timer that fired before being stopped is ignored.
func (e *Engine) armWatchdog() {
	e.stopWatchdog()
	e.watchdogGen++
	gen := e.watchdogGen
	e.watchdog = time.AfterFunc(e.opts.watchdogDelay, func() {
		e.post(func() { e.watchdogFired(gen) })
	})
}

func (e *Engine) stopWatchdog() {
	if e.watchdog != nil {
		e.watchdog.Stop()
		e.watchdog = nil
	}
	e.watchdogGen++
}

func (e *Engine) watchdogFired(gen uint64) {
	if gen != e.watchdogGen {
		return
	}
	e.watchdog = nil
	if !e.wantConnected {
		return
	}

	switch e.machine.state {
	case NotConnected:
		e.log.Info("watchdog reconnecting")
	case Connecting:
		// Tear the stalled attempt down first. The transport reports the
		// disconnect before Disconnect returns, so the retry is posted
		// behind it.
		e.log.Warn("connect attempt stalled, restarting", "after", e.opts.watchdogDelay)
		e.machine.set(NotConnected)
		e.transport.Disconnect(false)
		e.post(func() {
			if e.wantConnected {
				e.connect()
			}
		})
		e.countWatchdog()
		return
	default:
		return
	}
	e.countWatchdog()
	e.connect()
}

func (e *Engine) countWatchdog() {
	if e.opts.metrics != nil {
		e.opts.metrics.WatchdogFires.Inc()
	}
}

func (e *Engine) onWillConnect() {
	if e.machine.state == NotConnected {
		e.machine.set(Connecting)
	}
}

func (e *Engine) onConnected() {
	if e.machine.state == NotConnected {
		// Left over from an attempt torn down meanwhile; its disconnect
		// is on the way.
		if !e.wantConnected {
			e.log.Debug("stale connect event ignored")
			return
		}
		e.machine.set(Connecting)
	}
	e.stopWatchdog()
	if e.machine.set(Connected) {
		e.log.Info("connected", "user", e.auth.UserID)
	}
}

func (e *Engine) onDisconnected(err error) {
	if errors.Is(err, transport.ErrAuthFailed) {
		e.logout("authentication failed")
	}
	if e.machine.state == NotConnected {
		return
	}
	if err != nil {
		e.log.WithError(err).Warn("disconnected")
	} else {
		e.log.Info("disconnected")
	}
	e.machine.set(NotConnected)

	if e.wantConnected && !e.loggedOut {
		e.armWatchdog()
	}
}

func (e *Engine) onStanza(s *stanza.Stanza) {
	r, dom := classify(s)
	switch r {
	case routeResponse:
		e.queue.respond(s)
	case routeServerIQ:
		if err := e.transport.Send(serverIQReply(s)); err != nil {
			e.log.WithError(err).Warn("iq reply failed", "id", s.ID())
		}
	case routeAck:
		e.onAck(s)
	default:
		e.deliver(r, dom, s)
	}
}

func (e *Engine) onAck(s *stanza.Stanza) {
	ack, ok := e.acks.parse(s)
	if !ok {
		return
	}
	if r, ok := e.receipts.confirm(ack.ID); ok {
		e.countAck("receipt")
		if d := e.delegate(receiptDomain(r)); d != nil {
			e.delegates.Dispatch(func() { d.ReceiptConfirmed(r) })
		}
		return
	}
	e.countAck("transport")
	if hook := e.opts.onAck; hook != nil {
		e.delegates.Dispatch(func() { hook(ack) })
	}
}

func (e *Engine) countAck(kind string) {
	if e.opts.metrics != nil {
		e.opts.metrics.AcksReceived.WithLabelValues(kind).Inc()
	}
}

// deliver applies the ack policy, then hands s to its delegate.
func (e *Engine) deliver(r route, dom domain, s *stanza.Stanza) {
	d := e.delegate(dom)
	in := Inbound{Stanza: s.Clone()}
	worthy := e.acks.worthy(s)
	if worthy {
		in.Ack = func() { e.SendAck(s) }
	}

	switch decideAck(worthy, d, in) {
	case engineAcks:
		e.acks.send(s, ackedByEngine)
	case delegateAcks:
		e.log.Debug("ack claimed by delegate", "id", s.ID(), "route", r)
	}

	if d == nil {
		e.log.Debug("unrouted stanza", "name", s.Name(), "id", s.ID(), "route", r)
		if hook := e.opts.onUnrouted; hook != nil {
			e.delegates.Dispatch(func() { hook(in.Stanza) })
		}
		return
	}

	switch r {
	case routeContent:
		e.delegates.Dispatch(func() { d.HandleContent(in) })
	case routeRetraction:
		e.delegates.Dispatch(func() { d.HandleRetraction(in) })
	case routeReceipt:
		rc, err := stanza.ParseReceipt(s)
		if err != nil {
			e.log.WithError(err).Warn("dropping malformed receipt", "id", s.ID())
			if e.opts.metrics != nil {
				e.opts.metrics.Malformed.WithLabelValues("receipt").Inc()
			}
			return
		}
		e.delegates.Dispatch(func() { d.HandleReceipt(rc, in) })
	}
}

func (e *Engine) delegate(dom domain) Delegate {
	switch dom {
	case domainFeed:
		return e.opts.feed
	case domainChat:
		return e.opts.chat
	default:
		return nil
	}
}

// events adapts transport callbacks onto the engine goroutine.
type events struct{ e *Engine }

func (h events) OnWillConnect() { h.e.post(h.e.onWillConnect) }

func (h events) OnConnected() { h.e.post(h.e.onConnected) }

func (h events) OnDisconnected(err error) { h.e.post(func() { h.e.onDisconnected(err) }) }

func (h events) OnStanza(s *stanza.Stanza) { h.e.post(func() { h.e.onStanza(s) }) }

// OnSecurityDecision runs on the transport goroutine; the trust policy is
// immutable.
func (h events) OnSecurityDecision(c transport.Credential) bool {
	return h.e.opts.trust.Trust(c)
}
