package engine

import (
	"container/list"
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/gezibash/courier/internal/observability"
	"github.com/gezibash/courier/pkg/logging"
	"github.com/gezibash/courier/pkg/stanza"
)

// entry is the queue's record of one enqueued request.
type entry struct {
	req   Request
	seq   uint64 // enqueue order; fixes relative order across reconnects
	state Lifecycle
	elem  *list.Element
	op    *observability.Operation
	ctx   context.Context // carries the operation's span
	log   *logging.Logger
}

// queue holds Queued and InFlight requests in order, with an id index over
// both for correlation. Duplicate ids are tolerated: every entry with a
// matching id receives the response.
type queue struct {
	queued   *list.List
	inflight *list.List
	index    map[string][]*entry
	nextSeq  uint64

	sender  StanzaSender
	ctx     context.Context
	log     *logging.Logger
	metrics *observability.Metrics
}

func newQueue(ctx context.Context, sender StanzaSender, log *logging.Logger, m *observability.Metrics) *queue {
	return &queue{
		queued:   list.New(),
		inflight: list.New(),
		index:    make(map[string][]*entry),
		sender:   sender,
		ctx:      ctx,
		log:      log,
		metrics:  m,
	}
}

// enqueue sends r now when connected, parks it when it has retries left, and
// otherwise fails it before returning.
func (q *queue) enqueue(r Request, connected bool) {
	e := &entry{req: r, seq: q.nextSeq, log: q.log.WithRequest(r.ID())}
	q.nextSeq++
	e.op, e.ctx = observability.StartOperation(q.ctx, q.metrics, "request",
		attribute.String("request.id", r.ID()))

	switch {
	case connected:
		q.transmit(e)
	case r.RetriesRemaining() > 0:
		q.park(e)
		e.log.DebugContext(e.ctx, "request queued", "retries", r.RetriesRemaining())
	default:
		e.log.DebugContext(e.ctx, "request failed, not connected and no retries")
		q.finish(e, ErrNotConnected, "not_connected")
	}
	q.gauge()
}

func (q *queue) transmit(e *entry) {
	e.state = InFlight
	e.elem = q.inflight.PushBack(e)
	q.track(e)
	q.send(e)
}

// send writes e. A failed write leaves the request in flight; the disconnect
// that follows a broken stream redistributes it.
func (q *queue) send(e *entry) {
	e.op.Event("sent")
	if err := e.req.Send(q.sender); err != nil {
		e.log.WithError(err).WarnContext(e.ctx, "request send failed")
	}
}

func (q *queue) park(e *entry) {
	e.state = Queued
	e.elem = q.queued.PushBack(e)
	q.track(e)
	e.op.Event("queued")
}

func (q *queue) track(e *entry) {
	id := e.req.ID()
	for _, other := range q.index[id] {
		if other == e {
			return
		}
	}
	q.index[id] = append(q.index[id], e)
}

// flush transmits every queued request in order. It is the only place
// queued requests are sent.
func (q *queue) flush() {
	if q.queued.Len() == 0 {
		return
	}
	q.log.Debug("flushing queued requests", "count", q.queued.Len())
	for el := q.queued.Front(); el != nil; {
		next := el.Next()
		e := q.queued.Remove(el).(*entry)
		e.state = InFlight
		e.elem = q.inflight.PushBack(e)
		q.send(e)
		el = next
	}
	q.gauge()
}

// respond delivers resp to every request with its id and reports whether
// any matched.
func (q *queue) respond(resp *stanza.Stanza) bool {
	id := resp.ID()
	matches := q.index[id]
	if len(matches) == 0 {
		if q.metrics != nil {
			q.metrics.UnmatchedResponses.Inc()
		}
		q.log.WithRequest(id).Debug("response matched no request")
		return false
	}
	delete(q.index, id)

	if len(matches) > 1 {
		q.log.WithRequest(id).Warn("response matched more than one request", "matches", len(matches))
		if q.metrics != nil {
			q.metrics.DuplicateMatches.Inc()
		}
	}
	for _, e := range matches {
		q.unlink(e)
	}
	q.gauge()

	for _, e := range matches {
		e.state = Completed
		e.req.Process(resp.Clone())
		e.op.End(nil)
		q.outcome("response")
	}
	return true
}

// redistribute runs on connection loss. Every pending request, in its
// original enqueue order, is either parked again for the next connect or
// failed.
func (q *queue) redistribute() {
	pending := make([]*entry, 0, q.queued.Len()+q.inflight.Len())
	for _, l := range []*list.List{q.inflight, q.queued} {
		for el := l.Front(); el != nil; el = el.Next() {
			pending = append(pending, el.Value.(*entry))
		}
		l.Init()
	}
	clear(q.index)
	if len(pending) == 0 {
		q.gauge()
		return
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })

	requeued := 0
	for _, e := range pending {
		if e.req.CancelAndPrepareForRetry() {
			q.park(e)
			requeued++
			continue
		}
		q.finish(e, fmt.Errorf("%w: %w", ErrCanceled, ErrNotConnected), "canceled")
	}
	q.log.Debug("requests redistributed", "requeued", requeued, "failed", len(pending)-requeued)
	q.gauge()
}

// abandon fails every pending request with err. It is used on shutdown,
// after which nothing will ever be sent.
func (q *queue) abandon(err error) {
	pending := make([]*entry, 0, q.queued.Len()+q.inflight.Len())
	for _, l := range []*list.List{q.inflight, q.queued} {
		for el := l.Front(); el != nil; el = el.Next() {
			pending = append(pending, el.Value.(*entry))
		}
		l.Init()
	}
	clear(q.index)
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })
	for _, e := range pending {
		q.finish(e, err, "abandoned")
	}
	q.gauge()
}

func (q *queue) unlink(e *entry) {
	switch e.state {
	case Queued:
		q.queued.Remove(e.elem)
	case InFlight:
		q.inflight.Remove(e.elem)
	}
	e.elem = nil
}

func (q *queue) finish(e *entry, err error, outcome string) {
	e.log.DebugContext(e.ctx, "request failed", "outcome", outcome, "error", err)
	e.state = FailedTerminal
	e.req.Fail(err)
	e.op.End(err)
	q.outcome(outcome)
}

func (q *queue) outcome(o string) {
	if q.metrics != nil {
		q.metrics.RequestOutcomes.WithLabelValues(o).Inc()
	}
}

func (q *queue) gauge() {
	if q.metrics == nil {
		return
	}
	q.metrics.RequestsQueued.Set(float64(q.queued.Len()))
	q.metrics.RequestsInFlight.Set(float64(q.inflight.Len()))
}

// ids lists request ids of l in order.
func ids(l *list.List) []string {
	out := make([]string, 0, l.Len())
	for el := l.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*entry).req.ID())
	}
	return out
}
