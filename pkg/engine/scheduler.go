package engine

// callback is a one-shot subscription to a state.
type callback struct {
	on   Executor
	work func()
}

// scheduler defers work until the machine reaches a state. Each
// registration fires at most once, in registration order among those
// waiting for the same state.
type scheduler struct {
	pending map[State][]callback
}

func newScheduler() *scheduler {
	return &scheduler{pending: make(map[State][]callback)}
}

// add runs work on ex now if current already equals want, otherwise when the
// machine next enters want.
func (s *scheduler) add(want, current State, ex Executor, work func()) {
	if ex == nil {
		ex = Inline
	}
	if want == current {
		ex.Dispatch(work)
		return
	}
	s.pending[want] = append(s.pending[want], callback{on: ex, work: work})
}

// fire dispatches and forgets every callback waiting for state.
func (s *scheduler) fire(state State) {
	cbs := s.pending[state]
	if len(cbs) == 0 {
		return
	}
	delete(s.pending, state)
	for _, cb := range cbs {
		cb.on.Dispatch(cb.work)
	}
}

// waiting returns the number of callbacks registered for state.
func (s *scheduler) waiting(state State) int {
	return len(s.pending[state])
}
