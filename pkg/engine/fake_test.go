package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gezibash/courier/internal/observability"
	cerrors "github.com/gezibash/courier/pkg/errors"
	"github.com/gezibash/courier/pkg/logging"
	"github.com/gezibash/courier/pkg/stanza"
	"github.com/gezibash/courier/pkg/transport"
)

// fakeTransport records what the engine asks of it. Tests drive the server
// side with accept, drop and deliver.
type fakeTransport struct {
	mu          sync.Mutex
	h           transport.Handler
	active      bool
	up          bool
	connects    []transport.Auth
	disconnects []bool
	sent        []*stanza.Stanza
	closed      bool
}

func (f *fakeTransport) SetHandler(h transport.Handler) {
	f.mu.Lock()
	f.h = h
	f.mu.Unlock()
}

func (f *fakeTransport) handler() transport.Handler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.h
}

func (f *fakeTransport) Connect(auth transport.Auth, _ time.Duration) {
	f.mu.Lock()
	if f.active {
		f.mu.Unlock()
		return
	}
	f.active = true
	f.connects = append(f.connects, auth)
	h := f.h
	f.mu.Unlock()
	h.OnWillConnect()
}

func (f *fakeTransport) Disconnect(graceful bool) {
	f.mu.Lock()
	f.disconnects = append(f.disconnects, graceful)
	was := f.active
	f.active, f.up = false, false
	h := f.h
	f.mu.Unlock()
	if was {
		h.OnDisconnected(nil)
	}
}

func (f *fakeTransport) Send(s *stanza.Stanza) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.up {
		return cerrors.ErrNotConnected
	}
	f.sent = append(f.sent, s.Clone())
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.active, f.up = false, false
	f.mu.Unlock()
	return nil
}

// accept completes the pending connect.
func (f *fakeTransport) accept() {
	f.mu.Lock()
	f.up = true
	h := f.h
	f.mu.Unlock()
	h.OnConnected()
}

// drop ends the connection from the server side.
func (f *fakeTransport) drop(err error) {
	f.mu.Lock()
	f.active, f.up = false, false
	h := f.h
	f.mu.Unlock()
	h.OnDisconnected(err)
}

func (f *fakeTransport) deliver(s *stanza.Stanza) {
	f.handler().OnStanza(s)
}

func (f *fakeTransport) sentNamed(name string) []*stanza.Stanza {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*stanza.Stanza
	for _, s := range f.sent {
		if s.Name() == name {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeTransport) sentIDs(name string) []string {
	var ids []string
	for _, s := range f.sentNamed(name) {
		ids = append(ids, s.ID())
	}
	return ids
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connects)
}

// fakeRequest is a Request that records its outcome.
type fakeRequest struct {
	id string

	mu        sync.Mutex
	retries   int
	sends     int
	cancels   int
	responses []*stanza.Stanza
	errs      []error
}

func newFakeRequest(id string, retries int) *fakeRequest {
	return &fakeRequest{id: id, retries: retries}
}

func (r *fakeRequest) ID() string { return r.id }

func (r *fakeRequest) RetriesRemaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retries
}

func (r *fakeRequest) Send(s StanzaSender) error {
	r.mu.Lock()
	r.sends++
	r.mu.Unlock()
	return s.Send(stanza.New("iq").SetAttr("id", r.id).SetAttr("type", "get"))
}

func (r *fakeRequest) Process(resp *stanza.Stanza) {
	r.mu.Lock()
	r.responses = append(r.responses, resp)
	r.mu.Unlock()
}

func (r *fakeRequest) CancelAndPrepareForRetry() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels++
	if r.retries > 0 {
		r.retries--
		return true
	}
	return false
}

func (r *fakeRequest) Fail(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *fakeRequest) outcomes() (responses int, errs []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.responses), append([]error(nil), r.errs...)
}

func (r *fakeRequest) sendCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sends
}

// recordingDelegate collects delegate calls.
type recordingDelegate struct {
	mu         sync.Mutex
	content    []Inbound
	retraction []Inbound
	receipts   []stanza.Receipt
	confirmed  []stanza.Receipt
	claim      bool
}

func (d *recordingDelegate) HandleContent(in Inbound) {
	d.mu.Lock()
	d.content = append(d.content, in)
	d.mu.Unlock()
}

func (d *recordingDelegate) HandleRetraction(in Inbound) {
	d.mu.Lock()
	d.retraction = append(d.retraction, in)
	d.mu.Unlock()
}

func (d *recordingDelegate) HandleReceipt(r stanza.Receipt, _ Inbound) {
	d.mu.Lock()
	d.receipts = append(d.receipts, r)
	d.mu.Unlock()
}

func (d *recordingDelegate) ReceiptConfirmed(r stanza.Receipt) {
	d.mu.Lock()
	d.confirmed = append(d.confirmed, r)
	d.mu.Unlock()
}

// claimingDelegate also claims every ack.
type claimingDelegate struct {
	recordingDelegate
}

func (d *claimingDelegate) ClaimAck(Inbound) bool { return true }

var testAuth = transport.Auth{UserID: "me@example.com", Password: "secret"}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *fakeTransport, *observability.Metrics) {
	t.Helper()
	ft := &fakeTransport{}
	m := observability.NewMetrics()
	base := []Option{
		WithLogger(logging.Discard()),
		WithMetrics(m),
		WithCredentials(testAuth),
		WithDelegateExecutor(Inline),
		WithWatchdogDelay(time.Hour),
	}
	e, err := New(ft, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e, ft, m
}

// settle waits for the engine to process everything posted so far,
// including work that posted more work.
func settle(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		if err := e.Sync(ctx); err != nil {
			t.Fatalf("Sync: %v", err)
		}
	}
}

func connectEngine(t *testing.T, e *Engine, ft *fakeTransport) {
	t.Helper()
	e.Connect()
	settle(t, e)
	if got := e.State(); got != Connecting {
		t.Fatalf("state after Connect = %s, want connecting", got)
	}
	ft.accept()
	settle(t, e)
	if got := e.State(); got != Connected {
		t.Fatalf("state after accept = %s, want connected", got)
	}
}

func response(id string) *stanza.Stanza {
	return stanza.New("iq").SetAttr("id", id).SetAttr("type", "result")
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
