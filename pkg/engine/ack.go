package engine

import (
	"github.com/gezibash/courier/internal/cel"
	"github.com/gezibash/courier/internal/observability"
	"github.com/gezibash/courier/pkg/logging"
	"github.com/gezibash/courier/pkg/stanza"
)

// Who acked a stanza, for the acks_sent metric.
const (
	ackedByEngine   = "engine"
	ackedByDelegate = "delegate"
)

// ackProtocol derives, sends and parses acks. Sending is not deduplicated;
// acking the same stanza twice is harmless.
type ackProtocol struct {
	filter  *cel.Filter
	sender  StanzaSender
	log     *logging.Logger
	metrics *observability.Metrics
}

// worthy reports whether s needs an ack.
func (a *ackProtocol) worthy(s *stanza.Stanza) bool {
	return a.filter.Match(s)
}

// send acks s. by is recorded in the metrics.
func (a *ackProtocol) send(s *stanza.Stanza, by string) {
	ack, err := stanza.DeriveAck(s)
	if err != nil {
		a.log.WithError(err).Warn("cannot ack stanza")
		return
	}
	if err := a.sender.Send(ack.Stanza()); err != nil {
		a.log.WithError(err).Warn("ack send failed", "id", ack.ID)
		return
	}
	if a.metrics != nil {
		a.metrics.AcksSent.WithLabelValues(by).Inc()
	}
	a.log.Debug("acked", "id", ack.ID, "by", by)
}

// parse decodes an inbound ack. Malformed acks are logged and dropped;
// there is no id to retry against.
func (a *ackProtocol) parse(s *stanza.Stanza) (stanza.Ack, bool) {
	ack, err := stanza.ParseAck(s)
	if err != nil {
		a.log.WithError(err).Warn("dropping malformed ack")
		if a.metrics != nil {
			a.metrics.Malformed.WithLabelValues("ack").Inc()
		}
		return stanza.Ack{}, false
	}
	return ack, true
}

// ackOwner says who acks an inbound stanza.
type ackOwner int

const (
	noAck ackOwner = iota
	engineAcks
	delegateAcks
)

// decideAck is the single place the ack policy lives: stanzas that need an
// ack get exactly one owner, the delegate if it claims it, the engine
// otherwise, including when no delegate is registered.
func decideAck(worthy bool, d Delegate, in Inbound) ackOwner {
	if !worthy {
		return noAck
	}
	if c, ok := d.(AckClaimer); ok && c.ClaimAck(in) {
		return delegateAcks
	}
	return engineAcks
}
