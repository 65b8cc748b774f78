package engine

import "github.com/gezibash/courier/pkg/stanza"

// Inbound is a routed inbound stanza.
type Inbound struct {
	Stanza *stanza.Stanza

	// Ack sends the ack for Stanza. It is nil when the stanza needs no ack.
	// A delegate that claimed the ack must call it once it has taken
	// responsibility; calling it more than once is harmless.
	Ack func()
}

// Delegate receives the inbound traffic of one domain, feed or chat.
// Methods run on the engine's delegate executor.
type Delegate interface {
	HandleContent(in Inbound)
	HandleRetraction(in Inbound)
	// HandleReceipt is a receipt sent by another user for our content.
	HandleReceipt(r stanza.Receipt, in Inbound)
	// ReceiptConfirmed reports that a receipt we sent was acked.
	ReceiptConfirmed(r stanza.Receipt)
}

// AckClaimer is implemented by delegates that ack some stanzas themselves,
// for example only after persisting them. ClaimAck runs on the engine
// goroutine and must not block. Unclaimed stanzas are acked by the engine.
type AckClaimer interface {
	ClaimAck(in Inbound) bool
}

// DelegateFuncs adapts optional functions to Delegate and AckClaimer.
type DelegateFuncs struct {
	Content    func(Inbound)
	Retraction func(Inbound)
	Receipt    func(stanza.Receipt, Inbound)
	Confirmed  func(stanza.Receipt)
	Claim      func(Inbound) bool
}

var (
	_ Delegate   = DelegateFuncs{}
	_ AckClaimer = DelegateFuncs{}
)

func (d DelegateFuncs) HandleContent(in Inbound) {
	if d.Content != nil {
		d.Content(in)
	}
}

func (d DelegateFuncs) HandleRetraction(in Inbound) {
	if d.Retraction != nil {
		d.Retraction(in)
	}
}

func (d DelegateFuncs) HandleReceipt(r stanza.Receipt, in Inbound) {
	if d.Receipt != nil {
		d.Receipt(r, in)
	}
}

func (d DelegateFuncs) ReceiptConfirmed(r stanza.Receipt) {
	if d.Confirmed != nil {
		d.Confirmed(r)
	}
}

func (d DelegateFuncs) ClaimAck(in Inbound) bool {
	return d.Claim != nil && d.Claim(in)
}
