// Package request provides the engine requests courier sends: generic iq
// queries and XEP-0199 pings.
package request

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gezibash/courier/pkg/engine"
	cerrors "github.com/gezibash/courier/pkg/errors"
	"github.com/gezibash/courier/pkg/stanza"
)

// DefaultRetries is the retry budget of a request built without WithRetries.
const DefaultRetries = 3

const nsStanzas = "urn:ietf:params:xml:ns:xmpp-stanzas"

// Result is the outcome of a request.
type Result struct {
	Response *stanza.Stanza
	// RTT is the time from the last transmission to the response.
	RTT time.Duration
	Err error
}

// IQ is an info/query request. It receives exactly one outcome; the
// completion callback runs on the request's executor.
type IQ struct {
	id       string
	kind     string
	to       string
	payload  *stanza.Stanza
	executor engine.Executor
	done     func(Result)
	now      func() time.Time

	mu       sync.Mutex
	retries  int
	sentAt   time.Time
	finished bool
	result   Result
	doneCh   chan struct{}
}

var _ engine.Request = (*IQ)(nil)

// Option configures an IQ.
type Option func(*IQ)

// WithID sets the request id. The default is a random UUID.
func WithID(id string) Option {
	return func(q *IQ) { q.id = id }
}

// WithRetries sets the retry budget.
func WithRetries(n int) Option {
	return func(q *IQ) { q.retries = n }
}

// WithExecutor sets where the completion callback runs. The default runs
// it on a new goroutine.
func WithExecutor(ex engine.Executor) Option {
	return func(q *IQ) { q.executor = ex }
}

// To addresses the request. Without it the server answers.
func To(jid string) Option {
	return func(q *IQ) { q.to = jid }
}

// OnDone sets the completion callback.
func OnDone(fn func(Result)) Option {
	return func(q *IQ) { q.done = fn }
}

func newIQ(kind string, payload *stanza.Stanza, opts ...Option) *IQ {
	q := &IQ{
		kind:     kind,
		payload:  payload,
		retries:  DefaultRetries,
		executor: engine.Go,
		now:      time.Now,
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.id == "" {
		q.id = uuid.NewString()
	}
	return q
}

// Get builds an iq of type get carrying payload.
func Get(payload *stanza.Stanza, opts ...Option) *IQ {
	return newIQ("get", payload, opts...)
}

// Set builds an iq of type set carrying payload.
func Set(payload *stanza.Stanza, opts ...Option) *IQ {
	return newIQ("set", payload, opts...)
}

func (q *IQ) ID() string { return q.id }

func (q *IQ) RetriesRemaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.retries
}

// Stanza encodes the request.
func (q *IQ) Stanza() *stanza.Stanza {
	s := stanza.New("iq").SetAttr("type", q.kind).SetAttr("id", q.id).SetAttr("to", q.to)
	if q.payload != nil {
		s.Append(q.payload.Clone())
	}
	return s
}

func (q *IQ) Send(s engine.StanzaSender) error {
	q.mu.Lock()
	q.sentAt = q.now()
	q.mu.Unlock()
	return s.Send(q.Stanza())
}

// Process completes the request with resp. Error replies complete it with a
// *ServerError.
func (q *IQ) Process(resp *stanza.Stanza) {
	if resp.Type() == "error" {
		q.complete(Result{Response: resp, Err: parseError(resp)})
		return
	}
	q.complete(Result{Response: resp})
}

func (q *IQ) CancelAndPrepareForRetry() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.finished || q.retries <= 0 {
		return false
	}
	q.retries--
	return true
}

func (q *IQ) Fail(err error) {
	q.complete(Result{Err: err})
}

// Abort fails the request with ErrAborted if it has not completed. The
// engine still tracks it until the connection drops or a response arrives,
// and ignores that outcome.
func (q *IQ) Abort() {
	q.complete(Result{Err: cerrors.ErrAborted})
}

func (q *IQ) complete(r Result) {
	q.mu.Lock()
	if q.finished {
		q.mu.Unlock()
		return
	}
	q.finished = true
	if r.Response != nil && !q.sentAt.IsZero() {
		r.RTT = q.now().Sub(q.sentAt)
	}
	q.result = r
	close(q.doneCh)
	done := q.done
	q.mu.Unlock()

	if done != nil {
		q.executor.Dispatch(func() { done(r) })
	}
}

// Done is closed once the request has its outcome.
func (q *IQ) Done() <-chan struct{} { return q.doneCh }

// Wait blocks for the outcome. If ctx ends first the request is aborted and
// ctx's error returned.
func (q *IQ) Wait(ctx context.Context) (Result, error) {
	select {
	case <-q.doneCh:
	case <-ctx.Done():
		q.Abort()
	}
	q.mu.Lock()
	r := q.result
	q.mu.Unlock()
	if errors.Is(r.Err, cerrors.ErrAborted) && ctx.Err() != nil {
		return r, ctx.Err()
	}
	return r, r.Err
}

// parseError reads the defined condition and text of an error reply.
func parseError(resp *stanza.Stanza) error {
	se := &cerrors.ServerError{}
	el := resp.Child("error")
	if el == nil {
		return se
	}
	for _, c := range el.Children {
		switch {
		case c.Name() == "text":
			se.Message = c.Text
		case se.Condition == "" && (c.Namespace() == nsStanzas || c.Namespace() == ""):
			se.Condition = c.Name()
		}
	}
	return se
}
