package engine

import (
	"github.com/gezibash/courier/internal/observability"
	"github.com/gezibash/courier/pkg/logging"
)

// State is the connection lifecycle state.
type State int32

const (
	NotConnected State = iota
	Connecting
	Connected
	Disconnecting
)

var allStates = [...]State{NotConnected, Connecting, Connected, Disconnecting}

func (s State) String() string {
	switch s {
	case NotConnected:
		return "not_connected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// legal lists the transitions the machine accepts. Everything else, such as
// Disconnecting to Connecting, must pass through NotConnected first.
var legal = map[State][]State{
	NotConnected:  {Connecting},
	Connecting:    {Connected, Disconnecting, NotConnected},
	Connected:     {Disconnecting, NotConnected},
	Disconnecting: {NotConnected},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	for _, s := range legal[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transitionObserver is told about every accepted transition, synchronously
// and in registration order.
type transitionObserver func(from, to State)

// machine owns the single authoritative connection state. It is only touched
// on the engine goroutine.
type machine struct {
	state     State
	observers []transitionObserver
	mirror    func(State)
	log       *logging.Logger
	metrics   *observability.Metrics
}

func newMachine(log *logging.Logger, m *observability.Metrics, mirror func(State)) *machine {
	mc := &machine{state: NotConnected, mirror: mirror, log: log, metrics: m}
	mc.export(NotConnected)
	return mc
}

func (m *machine) observe(o transitionObserver) {
	m.observers = append(m.observers, o)
}

// set moves to the new state. Self transitions are no-ops; illegal ones are
// logged and rejected. It reports whether the state changed.
func (m *machine) set(to State) bool {
	from := m.state
	if from == to {
		return false
	}
	if !CanTransition(from, to) {
		m.log.Warn("illegal transition rejected", "from", from, "to", to)
		return false
	}

	m.state = to
	m.export(to)
	if m.metrics != nil {
		m.metrics.Transitions.WithLabelValues(from.String(), to.String()).Inc()
	}
	m.log.Debug("transition", "from", from, "to", to)

	for _, o := range m.observers {
		o(from, to)
	}
	return true
}

func (m *machine) export(s State) {
	if m.mirror != nil {
		m.mirror(s)
	}
	if m.metrics == nil {
		return
	}
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		m.metrics.ConnectionState.WithLabelValues(st.String()).Set(v)
	}
}
