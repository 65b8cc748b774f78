package engine

import "github.com/gezibash/courier/pkg/stanza"

// StanzaSender writes a stanza to the connected stream.
type StanzaSender interface {
	Send(s *stanza.Stanza) error
}

// Request is one outbound operation tracked by the queue until it gets a
// response or fails terminally. Implementations own their completion and
// decide where it runs; the engine calls these methods on its goroutine.
type Request interface {
	// ID correlates the request with its response.
	ID() string

	// RetriesRemaining is the current retry budget. A request with no
	// budget left fails immediately when enqueued while disconnected.
	RetriesRemaining() int

	// Send transmits the request.
	Send(s StanzaSender) error

	// Process delivers the response stanza.
	Process(resp *stanza.Stanza)

	// CancelAndPrepareForRetry is asked when the connection drops. It
	// returns true, spending one retry, if the request should be sent again
	// after the next connect.
	CancelAndPrepareForRetry() bool

	// Fail delivers a terminal error.
	Fail(err error)
}

// Lifecycle is where a request is in the queue.
type Lifecycle int

const (
	NotSent Lifecycle = iota
	Queued
	InFlight
	Completed
	FailedTerminal
)

func (l Lifecycle) String() string {
	switch l {
	case NotSent:
		return "not_sent"
	case Queued:
		return "queued"
	case InFlight:
		return "inflight"
	case Completed:
		return "completed"
	case FailedTerminal:
		return "failed"
	default:
		return "unknown"
	}
}
