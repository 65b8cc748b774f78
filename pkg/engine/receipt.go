package engine

import (
	"sort"

	"github.com/gezibash/courier/internal/observability"
	"github.com/gezibash/courier/pkg/logging"
	"github.com/gezibash/courier/pkg/stanza"
)

// receiptKey identifies a receipt for deduplication. The thread is not part
// of it: the same item, user and kind on two threads is one receipt.
type receiptKey struct {
	itemID string
	userID string
	kind   stanza.ReceiptKind
}

func keyOf(r stanza.Receipt) receiptKey {
	return receiptKey{itemID: r.ItemID, userID: r.UserID, kind: r.Kind}
}

type pendingReceipt struct {
	correlation string
	receipt     stanza.Receipt
	seq         uint64
	log         *logging.Logger
}

// receipts tracks outbound receipts until the server acks them. sent holds
// everything handed to send; unacked the subset still awaiting an ack. A
// confirmation removes an entry from both.
type receipts struct {
	sent    map[string]*pendingReceipt
	unacked map[string]*pendingReceipt
	byKey   map[receiptKey]string
	nextSeq uint64

	newID   func() string
	self    func() string
	sender  StanzaSender
	log     *logging.Logger
	metrics *observability.Metrics
}

func newReceipts(sender StanzaSender, newID, self func() string, log *logging.Logger, m *observability.Metrics) *receipts {
	return &receipts{
		sent:    make(map[string]*pendingReceipt),
		unacked: make(map[string]*pendingReceipt),
		byKey:   make(map[receiptKey]string),
		newID:   newID,
		self:    self,
		sender:  sender,
		log:     log,
		metrics: m,
	}
}

// send records r and transmits it when connected. A receipt equal to one
// still pending is dropped. It returns the correlation id and whether r was
// accepted.
func (t *receipts) send(r stanza.Receipt, connected bool) (string, bool) {
	key := keyOf(r)
	if corr, dup := t.byKey[key]; dup {
		t.log.WithCorrelation(logging.FormatID(corr)).Warn("duplicate receipt suppressed",
			"item", r.ItemID, "user", r.UserID, "kind", r.Kind)
		if t.metrics != nil {
			t.metrics.ReceiptsSuppressed.Inc()
		}
		return corr, false
	}

	corr := t.newID()
	p := &pendingReceipt{correlation: corr, receipt: r, seq: t.nextSeq, log: t.log.WithCorrelation(logging.FormatID(corr))}
	t.nextSeq++
	t.sent[p.correlation] = p
	t.unacked[p.correlation] = p
	t.byKey[key] = p.correlation
	t.gauge()

	if connected {
		t.transmit(p, "first")
	} else {
		p.log.Debug("receipt held until connected", "item", r.ItemID)
	}
	return p.correlation, true
}

// resendAll transmits every unacked receipt, oldest first. It runs on every
// connect.
func (t *receipts) resendAll() {
	if len(t.unacked) == 0 {
		return
	}
	pending := make([]*pendingReceipt, 0, len(t.unacked))
	for _, p := range t.unacked {
		pending = append(pending, p)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })

	t.log.Debug("resending unacked receipts", "count", len(pending))
	for _, p := range pending {
		t.transmit(p, "resend")
	}
}

// confirm resolves the receipt correlated by id. It reports false when id
// is not an unacked receipt.
func (t *receipts) confirm(id string) (stanza.Receipt, bool) {
	p, ok := t.unacked[id]
	if !ok {
		return stanza.Receipt{}, false
	}
	delete(t.unacked, id)
	delete(t.sent, id)
	if t.byKey[keyOf(p.receipt)] == id {
		delete(t.byKey, keyOf(p.receipt))
	}
	t.gauge()
	if t.metrics != nil {
		t.metrics.ReceiptsConfirmed.Inc()
	}
	p.log.Debug("receipt confirmed", "item", p.receipt.ItemID)
	return p.receipt, true
}

func (t *receipts) transmit(p *pendingReceipt, attempt string) {
	if err := t.sender.Send(p.receipt.Message(p.correlation, t.self())); err != nil {
		p.log.WithError(err).Warn("receipt send failed")
		return
	}
	if t.metrics != nil {
		t.metrics.ReceiptsSent.WithLabelValues(attempt).Inc()
	}
}

func (t *receipts) gauge() {
	if t.metrics != nil {
		t.metrics.ReceiptsUnacked.Set(float64(len(t.unacked)))
	}
}
