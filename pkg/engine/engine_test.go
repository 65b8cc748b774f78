package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gezibash/courier/pkg/logging"
	"github.com/gezibash/courier/pkg/stanza"
	"github.com/gezibash/courier/pkg/transport"
)

func stats(t *testing.T, e *Engine) Stats {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := e.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	return st
}

func TestQueuedRequestSentOnConnect(t *testing.T) {
	e, ft, m := newTestEngine(t)

	r := newFakeRequest("R1", 3)
	e.Enqueue(r)
	settle(t, e)
	if st := stats(t, e); !reflect.DeepEqual(st.Queued, []string{"R1"}) || len(st.InFlight) != 0 {
		t.Fatalf("before connect: queued=%v inflight=%v", st.Queued, st.InFlight)
	}
	if got := ft.sentIDs("iq"); len(got) != 0 {
		t.Fatalf("sent while disconnected: %v", got)
	}

	connectEngine(t, e, ft)
	if got := ft.sentIDs("iq"); !reflect.DeepEqual(got, []string{"R1"}) {
		t.Fatalf("sent = %v, want [R1]", got)
	}
	if st := stats(t, e); len(st.Queued) != 0 || !reflect.DeepEqual(st.InFlight, []string{"R1"}) {
		t.Fatalf("after connect: queued=%v inflight=%v", st.Queued, st.InFlight)
	}

	ft.deliver(response("R1"))
	settle(t, e)
	n, errs := r.outcomes()
	if n != 1 || len(errs) != 0 {
		t.Fatalf("outcomes = %d responses, %v errors", n, errs)
	}
	if st := stats(t, e); len(st.InFlight) != 0 {
		t.Errorf("inflight after response = %v", st.InFlight)
	}
	if got := testutil.ToFloat64(m.RequestOutcomes.WithLabelValues("response")); got != 1 {
		t.Errorf("response outcomes = %v", got)
	}
}

func TestRequestOrderSurvivesReconnects(t *testing.T) {
	e, ft, _ := newTestEngine(t)

	r1, r2 := newFakeRequest("R1", 3), newFakeRequest("R2", 3)
	e.Enqueue(r1)
	e.Enqueue(r2)

	for i := 0; i < 3; i++ {
		connectEngine(t, e, ft)
		if i < 2 {
			ft.drop(errors.New("connection reset"))
			settle(t, e)
		}
	}

	want := []string{"R1", "R2", "R1", "R2", "R1", "R2"}
	if got := ft.sentIDs("iq"); !reflect.DeepEqual(got, want) {
		t.Fatalf("sent = %v, want %v", got, want)
	}
	if r1.RetriesRemaining() != 1 || r2.RetriesRemaining() != 1 {
		t.Errorf("retries = %d, %d; want 1, 1", r1.RetriesRemaining(), r2.RetriesRemaining())
	}
	if st := stats(t, e); !reflect.DeepEqual(st.InFlight, []string{"R1", "R2"}) {
		t.Errorf("inflight = %v", st.InFlight)
	}
}

func TestInFlightAndQueuedMergeInEnqueueOrder(t *testing.T) {
	e, ft, _ := newTestEngine(t)

	connectEngine(t, e, ft)
	e.Enqueue(newFakeRequest("R1", 2))
	settle(t, e)
	ft.drop(nil)
	settle(t, e)
	e.Enqueue(newFakeRequest("R2", 2))
	settle(t, e)
	if st := stats(t, e); !reflect.DeepEqual(st.Queued, []string{"R1", "R2"}) {
		t.Fatalf("queued = %v", st.Queued)
	}

	connectEngine(t, e, ft)
	want := []string{"R1", "R1", "R2"}
	if got := ft.sentIDs("iq"); !reflect.DeepEqual(got, want) {
		t.Fatalf("sent = %v, want %v", got, want)
	}
}

func TestReceiptConfirmedByAck(t *testing.T) {
	feed := &recordingDelegate{}
	e, ft, m := newTestEngine(t, WithFeedDelegate(feed), WithIDGenerator(func() string { return "M1" }))
	connectEngine(t, e, ft)

	e.SendReceipt(stanza.Receipt{ItemID: "P1", UserID: "alice@example.com", Kind: stanza.Read, Thread: stanza.FeedThread})
	settle(t, e)

	msgs := ft.sentNamed("message")
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	msg := msgs[0]
	if msg.ID() != "M1" || msg.From() != testAuth.UserID || msg.To() != "alice@example.com" {
		t.Errorf("receipt message = %s", msg)
	}
	if seen := msg.Child("seen"); seen == nil || seen.ID() != "P1" || seen.Attr("thread_id") != "feed" {
		t.Errorf("receipt payload = %s", msg)
	}
	if _, ok := e.receipts.sent["M1"]; !ok {
		t.Fatal("M1 not in sent")
	}
	if _, ok := e.receipts.unacked["M1"]; !ok {
		t.Fatal("M1 not in unacked")
	}

	ack := stanza.Ack{From: "example.com", To: testAuth.UserID, ID: "M1"}.Stanza()
	ft.deliver(ack)
	ft.deliver(ack.Clone())
	settle(t, e)

	if len(e.receipts.sent) != 0 || len(e.receipts.unacked) != 0 {
		t.Errorf("after ack: sent=%d unacked=%d", len(e.receipts.sent), len(e.receipts.unacked))
	}
	if len(feed.confirmed) != 1 || feed.confirmed[0].ItemID != "P1" {
		t.Fatalf("confirmed = %+v, want exactly P1", feed.confirmed)
	}
	if got := testutil.ToFloat64(m.AcksReceived.WithLabelValues("receipt")); got != 1 {
		t.Errorf("receipt acks = %v", got)
	}
	if got := testutil.ToFloat64(m.AcksReceived.WithLabelValues("transport")); got != 1 {
		t.Errorf("transport acks = %v", got)
	}
}

func TestDropWithoutRetryFailsOnce(t *testing.T) {
	e, ft, m := newTestEngine(t)
	connectEngine(t, e, ft)

	r := newFakeRequest("R1", 0)
	e.Enqueue(r)
	settle(t, e)
	if st := stats(t, e); !reflect.DeepEqual(st.InFlight, []string{"R1"}) {
		t.Fatalf("inflight = %v", st.InFlight)
	}

	ft.drop(errors.New("connection reset"))
	settle(t, e)

	n, errs := r.outcomes()
	if n != 0 || len(errs) != 1 {
		t.Fatalf("outcomes = %d responses, %v errors", n, errs)
	}
	if !errors.Is(errs[0], ErrCanceled) || !errors.Is(errs[0], ErrNotConnected) {
		t.Errorf("error = %v, want canceled and not connected", errs[0])
	}
	st := stats(t, e)
	if len(st.Queued) != 0 || len(st.InFlight) != 0 {
		t.Errorf("lists after failure: queued=%v inflight=%v", st.Queued, st.InFlight)
	}

	// A late response finds nothing.
	connectEngine(t, e, ft)
	ft.deliver(response("R1"))
	settle(t, e)
	if n, errs := r.outcomes(); n != 0 || len(errs) != 1 {
		t.Errorf("late response changed outcomes: %d, %v", n, errs)
	}
	if got := testutil.ToFloat64(m.UnmatchedResponses); got != 1 {
		t.Errorf("unmatched = %v", got)
	}
}

func TestEnqueueWithoutBudgetWhileDisconnected(t *testing.T) {
	e, _, m := newTestEngine(t)

	r := newFakeRequest("R1", 0)
	e.Enqueue(r)
	settle(t, e)

	_, errs := r.outcomes()
	if len(errs) != 1 || !errors.Is(errs[0], ErrNotConnected) {
		t.Fatalf("errors = %v, want one ErrNotConnected", errs)
	}
	if r.sendCount() != 0 {
		t.Errorf("sent %d times", r.sendCount())
	}
	if got := testutil.ToFloat64(m.RequestOutcomes.WithLabelValues("not_connected")); got != 1 {
		t.Errorf("not_connected outcomes = %v", got)
	}
}

func TestEnqueueWhileConnectedSendsOnce(t *testing.T) {
	e, ft, _ := newTestEngine(t)
	connectEngine(t, e, ft)

	r := newFakeRequest("R1", 3)
	e.Enqueue(r)
	settle(t, e)
	if r.sendCount() != 1 {
		t.Fatalf("sends = %d, want 1", r.sendCount())
	}
	if st := stats(t, e); len(st.Queued) != 0 {
		t.Errorf("queued = %v", st.Queued)
	}
}

func TestDuplicateIDsAllReceiveResponse(t *testing.T) {
	e, ft, m := newTestEngine(t)
	connectEngine(t, e, ft)

	a, b := newFakeRequest("dup", 1), newFakeRequest("dup", 1)
	e.Enqueue(a)
	e.Enqueue(b)
	settle(t, e)

	ft.deliver(response("dup"))
	ft.deliver(response("dup"))
	settle(t, e)

	for name, r := range map[string]*fakeRequest{"a": a, "b": b} {
		if n, errs := r.outcomes(); n != 1 || len(errs) != 0 {
			t.Errorf("%s outcomes = %d, %v", name, n, errs)
		}
	}
	if got := testutil.ToFloat64(m.DuplicateMatches); got != 1 {
		t.Errorf("duplicate matches = %v", got)
	}
	if got := testutil.ToFloat64(m.UnmatchedResponses); got != 1 {
		t.Errorf("unmatched = %v", got)
	}
}

func TestCloseFailsPendingRequests(t *testing.T) {
	e, _, _ := newTestEngine(t)

	r := newFakeRequest("R1", 3)
	e.Enqueue(r)
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	_, errs := r.outcomes()
	if len(errs) != 1 || !errors.Is(errs[0], ErrClosed) {
		t.Fatalf("errors = %v, want one ErrClosed", errs)
	}

	late := newFakeRequest("R2", 3)
	e.Enqueue(late)
	if _, errs := late.outcomes(); len(errs) != 1 || !errors.Is(errs[0], ErrClosed) {
		t.Errorf("enqueue after close: %v", errs)
	}
	if err := e.Sync(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Sync after close = %v", err)
	}
}

func TestNewWithDefaultOptions(t *testing.T) {
	ft := &fakeTransport{}
	e, err := New(ft)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := e.State(); got != NotConnected {
		t.Errorf("state = %s, want not connected", got)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if !ft.closed {
		t.Error("transport not closed")
	}
}

func TestEnqueueAfterAbandonFails(t *testing.T) {
	e, _, _ := newTestEngine(t)

	// Hold the loop so the enqueue lands behind a Close that already ran.
	release := make(chan struct{})
	e.post(func() { <-release })
	e.closed.Store(true)
	r := newFakeRequest("R1", 3)
	e.post(func() { e.enqueue(r) })
	close(release)
	e.loop.Close()

	responses, errs := r.outcomes()
	if responses != 0 || len(errs) != 1 || !errors.Is(errs[0], ErrClosed) {
		t.Fatalf("outcomes = %d responses, %v; want one ErrClosed", responses, errs)
	}
	if n := e.queue.queued.Len(); n != 0 {
		t.Errorf("queued = %d, want 0", n)
	}
}

func TestCloseFromLogoutHookGoroutine(t *testing.T) {
	closed := make(chan error, 1)
	var e *Engine
	e, err := New(&fakeTransport{},
		WithLogger(logging.Discard()),
		WithCredentials(testAuth),
		WithWatchdogDelay(time.Hour),
		OnLogout(func() {
			go func() { closed <- e.Close() }()
		}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e.Logout()
	select {
	case err := <-closed:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close from logout hook did not return")
	}
	if err := e.Sync(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Sync after close = %v", err)
	}
}

func TestExecuteOnState(t *testing.T) {
	e, ft, _ := newTestEngine(t)
	e.Enqueue(newFakeRequest("R1", 1))

	var order []string
	var sentAtConnect int
	e.Execute(NotConnected, Inline, func() { order = append(order, "now") })
	e.Execute(Connected, Inline, func() {
		order = append(order, "first")
		sentAtConnect = len(ft.sentIDs("iq"))
	})
	e.Execute(Connected, Inline, func() { order = append(order, "second") })
	settle(t, e)
	if !reflect.DeepEqual(order, []string{"now"}) {
		t.Fatalf("before connect: %v", order)
	}
	if st := stats(t, e); st.Waiting[Connected] != 2 {
		t.Errorf("waiting = %v", st.Waiting)
	}

	connectEngine(t, e, ft)
	if !reflect.DeepEqual(order, []string{"now", "first", "second"}) {
		t.Fatalf("after connect: %v", order)
	}
	if sentAtConnect != 1 {
		t.Errorf("callback saw %d sent requests, want the queue flushed first", sentAtConnect)
	}

	ft.drop(nil)
	settle(t, e)
	connectEngine(t, e, ft)
	if len(order) != 3 {
		t.Errorf("callbacks fired again: %v", order)
	}
}

func TestGracefulDisconnect(t *testing.T) {
	var transitions []string
	e, ft, _ := newTestEngine(t, OnTransition(func(from, to State) {
		transitions = append(transitions, from.String()+">"+to.String())
	}))
	connectEngine(t, e, ft)

	e.Disconnect()
	settle(t, e)
	if got := e.State(); got != NotConnected {
		t.Fatalf("state = %s", got)
	}
	want := []string{
		"not_connected>connecting",
		"connecting>connected",
		"connected>disconnecting",
		"disconnecting>not_connected",
	}
	if !reflect.DeepEqual(transitions, want) {
		t.Errorf("transitions = %v", transitions)
	}
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if !reflect.DeepEqual(ft.disconnects, []bool{true}) {
		t.Errorf("disconnects = %v", ft.disconnects)
	}
}

func TestDisconnectImmediately(t *testing.T) {
	e, ft, _ := newTestEngine(t)
	connectEngine(t, e, ft)
	r := newFakeRequest("R1", 1)
	e.Enqueue(r)

	e.DisconnectImmediately()
	settle(t, e)
	if got := e.State(); got != NotConnected {
		t.Fatalf("state = %s", got)
	}
	if st := stats(t, e); !reflect.DeepEqual(st.Queued, []string{"R1"}) {
		t.Errorf("queued = %v", st.Queued)
	}
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if !reflect.DeepEqual(ft.disconnects, []bool{false}) {
		t.Errorf("disconnects = %v", ft.disconnects)
	}
}

func TestConnectRequiresCredentials(t *testing.T) {
	ft := &fakeTransport{}
	e, err := New(ft, WithLogger(nil), WithDelegateExecutor(Inline))
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	e.Connect()
	settle(t, e)
	if e.State() != NotConnected || ft.connectCount() != 0 {
		t.Fatalf("connected without credentials: state=%s connects=%d", e.State(), ft.connectCount())
	}

	e.SetCredentials(testAuth)
	e.Connect()
	settle(t, e)
	if e.State() != Connecting || ft.connectCount() != 1 {
		t.Fatalf("state=%s connects=%d", e.State(), ft.connectCount())
	}
	e.Connect()
	settle(t, e)
	if ft.connectCount() != 1 {
		t.Errorf("second Connect started another attempt")
	}
}

func TestAuthFailureLogsOut(t *testing.T) {
	var logouts atomic.Int32
	e, ft, _ := newTestEngine(t, OnLogout(func() { logouts.Add(1) }))

	e.Connect()
	settle(t, e)
	ft.drop(fmt.Errorf("dial: %w", transport.ErrAuthFailed))
	settle(t, e)

	if got := logouts.Load(); got != 1 {
		t.Fatalf("logouts = %d", got)
	}
	if !stats(t, e).LoggedOut {
		t.Error("engine not logged out")
	}
	e.Connect()
	settle(t, e)
	if ft.connectCount() != 1 {
		t.Errorf("connected after logout")
	}

	e.SetCredentials(testAuth)
	e.Connect()
	settle(t, e)
	if ft.connectCount() != 2 {
		t.Errorf("connects after new credentials = %d", ft.connectCount())
	}
}

func TestWatchdogRestartsStalledConnect(t *testing.T) {
	e, ft, m := newTestEngine(t, WithWatchdogDelay(20*time.Millisecond))

	e.Connect()
	eventually(t, "watchdog reconnect", func() bool { return ft.connectCount() >= 2 })
	e.DisconnectImmediately()
	settle(t, e)

	if testutil.ToFloat64(m.WatchdogFires) < 1 {
		t.Error("watchdog fires not counted")
	}
	ft.mu.Lock()
	stalled := len(ft.disconnects) > 0 && !ft.disconnects[0]
	ft.mu.Unlock()
	if !stalled {
		t.Error("stalled attempt was not torn down")
	}

	n := ft.connectCount()
	time.Sleep(100 * time.Millisecond)
	settle(t, e)
	if ft.connectCount() != n {
		t.Errorf("watchdog kept connecting after disconnect")
	}
}

func TestWatchdogStopsOnceConnected(t *testing.T) {
	e, ft, _ := newTestEngine(t, WithWatchdogDelay(200*time.Millisecond))
	connectEngine(t, e, ft)

	time.Sleep(400 * time.Millisecond)
	settle(t, e)
	if e.State() != Connected || ft.connectCount() != 1 {
		t.Errorf("state=%s connects=%d", e.State(), ft.connectCount())
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	e, ft, _ := newTestEngine(t, WithWatchdogDelay(20*time.Millisecond))
	connectEngine(t, e, ft)

	ft.drop(errors.New("connection reset"))
	eventually(t, "reconnect", func() bool { return ft.connectCount() >= 2 })
}

func TestServerPingAnswered(t *testing.T) {
	e, ft, _ := newTestEngine(t)
	connectEngine(t, e, ft)

	ft.deliver(stanza.New("iq").SetAttr("id", "s1").SetAttr("type", "get").
		SetAttr("from", "example.com").SetAttr("to", testAuth.UserID).
		Append(stanza.NewNS(nsPing, "ping")))
	settle(t, e)

	iqs := ft.sentNamed("iq")
	if len(iqs) != 1 {
		t.Fatalf("sent %d iqs", len(iqs))
	}
	if iqs[0].ID() != "s1" || iqs[0].Type() != "result" || iqs[0].To() != "example.com" {
		t.Errorf("reply = %s", iqs[0])
	}
}

func TestStateIsReadableFromAnyGoroutine(t *testing.T) {
	e, ft, _ := newTestEngine(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_ = e.State()
		}
	}()
	connectEngine(t, e, ft)
	<-done
}
