package request

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gezibash/courier/pkg/engine"
	cerrors "github.com/gezibash/courier/pkg/errors"
	"github.com/gezibash/courier/pkg/logging"
	"github.com/gezibash/courier/pkg/stanza"
	"github.com/gezibash/courier/pkg/transport"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []*stanza.Stanza
	err  error
}

func (s *recordingSender) Send(st *stanza.Stanza) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, st)
	return nil
}

func TestIQStanza(t *testing.T) {
	payload := stanza.NewNS("jabber:iq:roster", "query")
	q := Set(payload, WithID("r1"), To("bob@example.com"))

	var s recordingSender
	if err := q.Send(&s); err != nil {
		t.Fatal(err)
	}
	if len(s.sent) != 1 {
		t.Fatalf("sent %d", len(s.sent))
	}
	iq := s.sent[0]
	if iq.Name() != "iq" || iq.Type() != "set" || iq.ID() != "r1" || iq.To() != "bob@example.com" {
		t.Errorf("iq = %s", iq)
	}
	if c := iq.FirstChild(); c == nil || c.Name() != "query" || c.Namespace() != "jabber:iq:roster" {
		t.Errorf("payload = %s", iq)
	}
	if c := iq.FirstChild(); c == payload {
		t.Error("payload not copied")
	}
}

func TestIQDefaults(t *testing.T) {
	q := Get(nil)
	if q.ID() == "" {
		t.Error("empty default id")
	}
	if Get(nil).ID() == q.ID() {
		t.Error("ids not unique")
	}
	if q.RetriesRemaining() != DefaultRetries {
		t.Errorf("retries = %d", q.RetriesRemaining())
	}
}

func TestIQExactlyOnce(t *testing.T) {
	var calls []Result
	q := Get(nil, WithExecutor(engine.Inline), OnDone(func(r Result) { calls = append(calls, r) }))

	q.Process(stanza.New("iq").SetAttr("type", "result").SetAttr("id", q.ID()))
	q.Fail(cerrors.ErrNotConnected)
	q.Abort()

	if len(calls) != 1 || calls[0].Err != nil || calls[0].Response == nil {
		t.Fatalf("calls = %+v", calls)
	}
	if q.CancelAndPrepareForRetry() {
		t.Error("finished request asked for a retry")
	}
}

func TestIQServerError(t *testing.T) {
	text := stanza.NewNS(nsStanzas, "text")
	text.Text = "no such item"
	q := Get(nil, WithExecutor(engine.Inline))
	q.Process(stanza.New("iq").SetAttr("type", "error").SetAttr("id", q.ID()).Append(
		stanza.New("error").SetAttr("type", "cancel").Append(
			stanza.NewNS(nsStanzas, "item-not-found"),
			text,
		),
	))

	_, err := q.Wait(context.Background())
	var se *cerrors.ServerError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *ServerError", err)
	}
	if se.Condition != "item-not-found" || se.Message != "no such item" {
		t.Errorf("server error = %+v", se)
	}
}

func TestIQRetryBudget(t *testing.T) {
	q := Get(nil, WithRetries(2))
	if !q.CancelAndPrepareForRetry() || !q.CancelAndPrepareForRetry() {
		t.Fatal("budget of 2 refused a retry")
	}
	if q.CancelAndPrepareForRetry() {
		t.Error("retry granted past budget")
	}
	if q.RetriesRemaining() != 0 {
		t.Errorf("retries = %d", q.RetriesRemaining())
	}
}

func TestIQWait(t *testing.T) {
	t.Run("outcome", func(t *testing.T) {
		q := Get(nil)
		go q.Fail(cerrors.ErrNotConnected)
		_, err := q.Wait(context.Background())
		if !errors.Is(err, cerrors.ErrNotConnected) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("context ends first", func(t *testing.T) {
		q := Get(nil)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := q.Wait(ctx)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v", err)
		}
		q.Process(stanza.New("iq").SetAttr("type", "result"))
		r, _ := q.Wait(context.Background())
		if !errors.Is(r.Err, cerrors.ErrAborted) {
			t.Errorf("late response replaced the abort: %+v", r)
		}
	})
}

func TestPingRTT(t *testing.T) {
	clock := time.Unix(1000, 0)
	p := NewPing(WithID("p1"))
	p.now = func() time.Time { return clock }

	if _, ok := p.RTT(); ok {
		t.Error("RTT before completion")
	}

	var s recordingSender
	if err := p.Send(&s); err != nil {
		t.Fatal(err)
	}
	if ping := s.sent[0].FirstChild(); ping == nil || ping.Name() != "ping" || ping.Namespace() != NSPing {
		t.Fatalf("ping = %s", s.sent[0])
	}

	clock = clock.Add(42 * time.Millisecond)
	p.Process(stanza.New("iq").SetAttr("type", "result").SetAttr("id", "p1"))

	rtt, ok := p.RTT()
	if !ok || rtt != 42*time.Millisecond {
		t.Errorf("RTT = %v, %v", rtt, ok)
	}
}

// echoTransport connects at once and answers every iq get with a result.
type echoTransport struct {
	mu        sync.Mutex
	h         transport.Handler
	connected bool
}

func (t *echoTransport) SetHandler(h transport.Handler) { t.h = h }

func (t *echoTransport) Connect(transport.Auth, time.Duration) {
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	t.h.OnWillConnect()
	t.h.OnConnected()
}

func (t *echoTransport) Disconnect(bool) {
	t.mu.Lock()
	was := t.connected
	t.connected = false
	t.mu.Unlock()
	if was {
		t.h.OnDisconnected(nil)
	}
}

func (t *echoTransport) Send(s *stanza.Stanza) error {
	t.mu.Lock()
	ok := t.connected
	t.mu.Unlock()
	if !ok {
		return cerrors.ErrNotConnected
	}
	if s.Name() == "iq" && s.Type() == "get" {
		reply := stanza.New("iq").SetAttr("type", "result").SetAttr("id", s.ID())
		go t.h.OnStanza(reply)
	}
	return nil
}

func (t *echoTransport) Close() error {
	t.Disconnect(false)
	return nil
}

func TestPingThroughEngine(t *testing.T) {
	e, err := engine.New(&echoTransport{},
		engine.WithCredentials(transport.Auth{UserID: "alice", Password: "secret"}),
		engine.WithLogger(logging.Discard()),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = e.Close() }()

	p := NewPing()
	e.Enqueue(p)
	e.Connect()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := p.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if r.Response.ID() != p.ID() {
		t.Errorf("response id = %q", r.Response.ID())
	}
	if _, ok := p.RTT(); !ok {
		t.Error("no RTT")
	}
}
